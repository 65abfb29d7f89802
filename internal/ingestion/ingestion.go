// Package ingestion implements the Ingestion Pipeline (§4.C): the single
// path by which raw bytes become a Document, deduplicated by content hash
// and written atomically into the Blob Store and Metadata Store.
package ingestion

import (
	"context"

	"github.com/google/uuid"

	"github.com/archivist/engine/internal/blobstore"
	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// MetadataStore is the subset of internal/store.Store the pipeline needs.
type MetadataStore interface {
	GetDocumentByUserAndHash(ctx context.Context, userID uuid.UUID, hash [32]byte) (domain.Document, error)
	CreateDocument(ctx context.Context, doc domain.Document) (domain.Document, error)
	UpdateBlobPath(ctx context.Context, id uuid.UUID, blobPath string) error
}

// BlobStore is the subset of internal/blobstore.Store the pipeline needs.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (relPath string, hash [32]byte, err error)
	Exists(hash [32]byte) bool
	Delete(relPath string) error
}

// Pipeline implements ingest (§4.C).
type Pipeline struct {
	store MetadataStore
	blobs BlobStore
}

// New constructs a Pipeline over a metadata store and blob store.
func New(store MetadataStore, blobs BlobStore) *Pipeline {
	return &Pipeline{store: store, blobs: blobs}
}

// ResultKind distinguishes the four outcomes ingest can produce (§4.C).
type ResultKind int

const (
	// Created means a new Document was inserted.
	Created ResultKind = iota
	// ExistingDocument means the content was already tracked for this
	// user and its blob was present (or has just been repaired).
	ExistingDocument
	// TrackedAsDuplicate means a concurrent ingest won the race to
	// insert the same (user_id, content_hash); the existing row is
	// authoritative.
	TrackedAsDuplicate
	// Skipped means the file never reached the pipeline at all — Smart
	// Sync (§4.F) filters by the source's extension allow list before
	// calling Ingest, and reports that decision using this same Result
	// shape rather than a separate type.
	Skipped
)

// Result is the outcome of a single ingest call, or of a Smart Sync
// decision not to call it (Skipped).
type Result struct {
	Kind       ResultKind
	Document   domain.Document
	SkipReason string
}

// Ingest hashes bytes, deduplicates against the caller's existing
// documents, and persists a new Document when the content is genuinely
// new (§4.C). It is safe to retry: a successful retry of a previously
// Created ingest always returns ExistingDocument, never a second row.
func (p *Pipeline) Ingest(ctx context.Context, userID, sourceID uuid.UUID, filename string, data []byte, declaredMime string) (Result, error) {
	hash := blobstore.Hash(data)

	existing, err := p.store.GetDocumentByUserAndHash(ctx, userID, hash)
	switch {
	case err == nil:
		if p.blobs.Exists(hash) {
			return Result{Kind: ExistingDocument, Document: existing}, nil
		}
		// Blob vanished from disk but the metadata row survived: repair it.
		relPath, _, putErr := p.blobs.Put(ctx, data)
		if putErr != nil {
			return Result{}, errors.Wrap(errors.KindInternal, putErr, "repair missing blob")
		}
		if err := p.store.UpdateBlobPath(ctx, existing.ID, relPath); err != nil {
			return Result{}, errors.Wrap(errors.KindInternal, err, "record repaired blob path")
		}
		existing.BlobPath = relPath
		return Result{Kind: ExistingDocument, Document: existing}, nil
	case errors.KindOf(err) != errors.KindNotFound:
		return Result{}, errors.Wrap(errors.KindInternal, err, "look up document by hash")
	}

	mimeType := deriveMimeType(filename, declaredMime)

	relPath, _, err := p.blobs.Put(ctx, data)
	if err != nil {
		return Result{}, errors.Wrap(errors.KindInternal, err, "write blob")
	}

	doc := domain.Document{
		UserID:           userID,
		Filename:         filename,
		OriginalFilename: filename,
		BlobPath:         relPath,
		Size:             int64(len(data)),
		MimeType:         mimeType,
		ContentHash:      hash,
	}

	created, err := p.store.CreateDocument(ctx, doc)
	if err != nil {
		if errors.KindOf(err) == errors.KindDuplicate {
			// Another concurrent ingest won the race. relPath is the
			// content-addressed path both attempts computed from the same
			// hash, so the winning document already references exactly
			// these bytes; deleting it here would remove the winner's
			// blob, not just this attempt's redundant write.
			winner, lookupErr := p.store.GetDocumentByUserAndHash(ctx, userID, hash)
			if lookupErr != nil {
				return Result{}, errors.Wrap(errors.KindInternal, lookupErr, "look up winning document after duplicate race")
			}
			return Result{Kind: TrackedAsDuplicate, Document: winner}, nil
		}
		return Result{}, errors.Wrap(errors.KindInternal, err, "create document")
	}

	return Result{Kind: Created, Document: created}, nil
}
