/*
Package domain defines the entities shared by every component of the
ingestion engine: users, sources, documents, directory fingerprints, OCR
queue items, and failed-document records.

# Ownership

User owns Sources and Documents. A Source references, but does not own,
the Documents it produced — deleting a Source never deletes its
Documents. A Document exclusively owns its Blob by path, not by handle.
Directory fingerprints and OCR queue items are owned transitively through
the Source or Document that created them and are expected to be
cascade-deleted alongside it.

# Identifiers

Every entity carries a 128-bit identifier (uuid.UUID). Timestamps are
UTC, millisecond precision is preserved on the wire but Go's time.Time
carries full precision internally.
*/
package domain
