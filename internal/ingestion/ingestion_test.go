package ingestion

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist/engine/internal/blobstore"
	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

type fakeMetadataStore struct {
	byHash      map[[32]byte]domain.Document
	created     []domain.Document
	blobUpdates map[uuid.UUID]string
	// duplicateOnce makes the next CreateDocument for this hash fail once
	// with KindDuplicate, simulating a concurrent winning insert.
	duplicateOnce map[[32]byte]domain.Document
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{
		byHash:        map[[32]byte]domain.Document{},
		blobUpdates:   map[uuid.UUID]string{},
		duplicateOnce: map[[32]byte]domain.Document{},
	}
}

func (f *fakeMetadataStore) GetDocumentByUserAndHash(ctx context.Context, userID uuid.UUID, hash [32]byte) (domain.Document, error) {
	doc, ok := f.byHash[hash]
	if !ok {
		return domain.Document{}, errors.New(errors.KindNotFound, "no document for hash")
	}
	return doc, nil
}

func (f *fakeMetadataStore) CreateDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	if winner, ok := f.duplicateOnce[doc.ContentHash]; ok {
		delete(f.duplicateOnce, doc.ContentHash)
		f.byHash[doc.ContentHash] = winner
		return domain.Document{}, errors.New(errors.KindDuplicate, "concurrent insert won the race")
	}
	doc.ID = uuid.New()
	f.byHash[doc.ContentHash] = doc
	f.created = append(f.created, doc)
	return doc, nil
}

func (f *fakeMetadataStore) UpdateBlobPath(ctx context.Context, id uuid.UUID, blobPath string) error {
	f.blobUpdates[id] = blobPath
	return nil
}

type fakeBlobStore struct {
	blobs   map[[32]byte]string
	deleted []string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[[32]byte]string{}}
}

func (f *fakeBlobStore) Put(ctx context.Context, data []byte) (string, [32]byte, error) {
	hash := blobstore.Hash(data)
	relPath := "blobs/" + hex.EncodeToString(hash[:])
	f.blobs[hash] = relPath
	return relPath, hash, nil
}

func (f *fakeBlobStore) Exists(hash [32]byte) bool {
	_, ok := f.blobs[hash]
	return ok
}

func (f *fakeBlobStore) Delete(relPath string) error {
	f.deleted = append(f.deleted, relPath)
	return nil
}

func TestIngestCreatesNewDocument(t *testing.T) {
	store := newFakeMetadataStore()
	blobs := newFakeBlobStore()
	p := New(store, blobs)

	result, err := p.Ingest(context.Background(), uuid.New(), uuid.Nil, "invoice.pdf", []byte("hello world"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, Created, result.Kind)
	assert.Equal(t, "invoice.pdf", result.Document.Filename)
	assert.Equal(t, int64(len("hello world")), result.Document.Size)
	assert.Len(t, store.created, 1)
}

func TestIngestReturnsExistingDocumentForSameContent(t *testing.T) {
	store := newFakeMetadataStore()
	blobs := newFakeBlobStore()
	p := New(store, blobs)
	userID := uuid.New()

	first, err := p.Ingest(context.Background(), userID, uuid.Nil, "invoice.pdf", []byte("same bytes"), "application/pdf")
	require.NoError(t, err)
	require.Equal(t, Created, first.Kind)

	second, err := p.Ingest(context.Background(), userID, uuid.Nil, "invoice-copy.pdf", []byte("same bytes"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, ExistingDocument, second.Kind)
	assert.Equal(t, first.Document.ID, second.Document.ID, "a second ingest of identical content must not create a new row")
	assert.Len(t, store.created, 1, "only the first ingest should have inserted a document")
}

func TestIngestRepairsMissingBlobForExistingDocument(t *testing.T) {
	store := newFakeMetadataStore()
	blobs := newFakeBlobStore()
	p := New(store, blobs)
	userID := uuid.New()
	data := []byte("repair me")

	first, err := p.Ingest(context.Background(), userID, uuid.Nil, "scan.pdf", data, "application/pdf")
	require.NoError(t, err)

	// Simulate the blob vanishing from disk while the metadata row survives.
	hash := blobstore.Hash(data)
	delete(blobs.blobs, hash)

	second, err := p.Ingest(context.Background(), userID, uuid.Nil, "scan.pdf", data, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, ExistingDocument, second.Kind)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Contains(t, store.blobUpdates, first.Document.ID, "a repaired blob must record its new path")
}

func TestIngestTracksConcurrentDuplicateInsert(t *testing.T) {
	store := newFakeMetadataStore()
	blobs := newFakeBlobStore()
	p := New(store, blobs)
	userID := uuid.New()
	data := []byte("raced content")
	hash := blobstore.Hash(data)

	winner := domain.Document{ID: uuid.New(), UserID: userID, Filename: "winner.pdf", ContentHash: hash}
	store.duplicateOnce[hash] = winner

	result, err := p.Ingest(context.Background(), userID, uuid.Nil, "loser.pdf", data, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, TrackedAsDuplicate, result.Kind)
	assert.Equal(t, winner.ID, result.Document.ID)
	assert.Empty(t, blobs.deleted, "the loser's blob path is content-addressed and shared with the winner; it must not be deleted")
}

func TestIngestDerivesMimeTypeFromExtensionWhenUndeclared(t *testing.T) {
	store := newFakeMetadataStore()
	blobs := newFakeBlobStore()
	p := New(store, blobs)

	result, err := p.Ingest(context.Background(), uuid.New(), uuid.Nil, "photo.png", []byte("png-bytes"), "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", result.Document.MimeType)
}
