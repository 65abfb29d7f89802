package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist/engine/internal/adapters"
	"github.com/archivist/engine/internal/ingestion"
	"github.com/archivist/engine/internal/scheduler"
	"github.com/archivist/engine/internal/smartsync"
	"github.com/archivist/engine/internal/store"
	"github.com/archivist/engine/internal/syncprogress"
	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

type fakeSources struct {
	sources map[uuid.UUID]domain.Source
	deleted []uuid.UUID
}

func newFakeSources(srcs ...domain.Source) *fakeSources {
	f := &fakeSources{sources: map[uuid.UUID]domain.Source{}}
	for _, s := range srcs {
		f.sources[s.ID] = s
	}
	return f
}

func (f *fakeSources) CreateSource(ctx context.Context, src domain.Source) (domain.Source, error) {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	f.sources[src.ID] = src
	return src, nil
}

func (f *fakeSources) ListSources(ctx context.Context, opts store.ListOptions) ([]domain.Source, error) {
	var out []domain.Source
	for _, s := range f.sources {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSources) GetSource(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.Source, error) {
	src, ok := f.sources[id]
	if !ok {
		return domain.Source{}, errors.New(errors.KindNotFound, "source not found")
	}
	return src, nil
}

func (f *fakeSources) UpdateSource(ctx context.Context, id uuid.UUID, name string, cfg domain.SourceConfig, opts store.ListOptions) (domain.Source, error) {
	src, ok := f.sources[id]
	if !ok {
		return domain.Source{}, errors.New(errors.KindNotFound, "source not found")
	}
	src.Name = name
	src.Config = cfg
	f.sources[id] = src
	return src, nil
}

func (f *fakeSources) DeleteSource(ctx context.Context, id uuid.UUID, opts store.ListOptions) error {
	if _, ok := f.sources[id]; !ok {
		return errors.New(errors.KindNotFound, "source not found")
	}
	delete(f.sources, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeDocuments struct {
	docs map[uuid.UUID]domain.Document
}

func newFakeDocuments(docs ...domain.Document) *fakeDocuments {
	f := &fakeDocuments{docs: map[uuid.UUID]domain.Document{}}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocuments) GetDocument(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return domain.Document{}, errors.New(errors.KindNotFound, "document not found")
	}
	if !opts.AsAdmin && d.UserID != opts.AsUserID {
		return domain.Document{}, errors.New(errors.KindNotFound, "document not found")
	}
	return d, nil
}

func (f *fakeDocuments) ListDocuments(ctx context.Context, opts store.DocumentListOptions) ([]domain.Document, error) {
	var out []domain.Document
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDocuments) SetTags(ctx context.Context, docID uuid.UUID, tags []string) error {
	d := f.docs[docID]
	d.Tags = tags
	f.docs[docID] = d
	return nil
}

func (f *fakeDocuments) AddTags(ctx context.Context, docID uuid.UUID, tags []string) error {
	d := f.docs[docID]
	d.Tags = append(append([]string{}, d.Tags...), tags...)
	f.docs[docID] = d
	return nil
}

func (f *fakeDocuments) RemoveTags(ctx context.Context, docID uuid.UUID, tags []string) error {
	d := f.docs[docID]
	remove := map[string]bool{}
	for _, t := range tags {
		remove[t] = true
	}
	var kept []string
	for _, t := range d.Tags {
		if !remove[t] {
			kept = append(kept, t)
		}
	}
	d.Tags = kept
	f.docs[docID] = d
	return nil
}

type fakeQueue struct {
	lastPriority int
	lastDoc      uuid.UUID
}

func (f *fakeQueue) RetryOCR(ctx context.Context, documentID uuid.UUID, priority int, opts store.ListOptions) (domain.OCRQueueItem, error) {
	f.lastDoc = documentID
	f.lastPriority = priority
	return domain.OCRQueueItem{DocumentID: documentID, Priority: priority}, nil
}

type fakeFailedDocs struct{}

func (fakeFailedDocs) ListFailedDocuments(ctx context.Context, opts store.ListOptions) ([]domain.FailedDocument, error) {
	return nil, nil
}

type fakeBlobs struct {
	blobs map[string][]byte
}

func (f *fakeBlobs) Get(relPath string) ([]byte, error) {
	data, ok := f.blobs[relPath]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "blob missing")
	}
	return data, nil
}

type fakePipeline struct {
	result ingestion.Result
	err    error
}

func (f *fakePipeline) Ingest(ctx context.Context, userID, sourceID uuid.UUID, filename string, data []byte, declaredMime string) (ingestion.Result, error) {
	return f.result, f.err
}

type fakeEnqueuer struct {
	calls []uuid.UUID
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, documentID uuid.UUID, priority int) (domain.OCRQueueItem, error) {
	f.calls = append(f.calls, documentID)
	return domain.OCRQueueItem{DocumentID: documentID, Priority: priority}, nil
}

type fakeSync struct {
	running map[uuid.UUID]bool
}

func (f *fakeSync) TriggerSync(ctx context.Context, sourceID uuid.UUID, opts store.ListOptions) (scheduler.TriggerResult, error) {
	return scheduler.TriggerResult{}, nil
}
func (f *fakeSync) StopSync(ctx context.Context, sourceID uuid.UUID, reason domain.CancellationReason) (scheduler.StopResult, error) {
	return scheduler.StopResult{}, nil
}
func (f *fakeSync) GetProgress(sourceID uuid.UUID) (syncprogress.Snapshot, bool) { return syncprogress.Snapshot{}, false }
func (f *fakeSync) IsRunning(sourceID uuid.UUID) bool                           { return f.running[sourceID] }

type fakeFingerprints struct{}

func (fakeFingerprints) GetFingerprint(ctx context.Context, userID, sourceID uuid.UUID, dirPath string) (domain.DirectoryFingerprint, bool, error) {
	return domain.DirectoryFingerprint{}, false, nil
}
func (fakeFingerprints) UpsertFingerprint(ctx context.Context, fp domain.DirectoryFingerprint) error {
	return nil
}
func (fakeFingerprints) ListFingerprints(ctx context.Context, userID, sourceID uuid.UUID) ([]domain.DirectoryFingerprint, error) {
	return nil, nil
}
func (fakeFingerprints) ReplaceFingerprintsUnder(ctx context.Context, userID, sourceID uuid.UUID, rootPath string, fps []domain.DirectoryFingerprint) error {
	return nil
}

func newTestEngine(t *testing.T, sources *fakeSources, documents *fakeDocuments, queue *fakeQueue,
	blobs *fakeBlobs, pipeline *fakePipeline, enqueuer *fakeEnqueuer, sync *fakeSync) *Engine {
	t.Helper()
	adapterFactory := func(ctx context.Context, src domain.Source) (adapters.Adapter, error) {
		return nil, errors.New(errors.KindValidation, "not used in this test")
	}
	return New(Config{}, sources, documents, queue, fakeFailedDocs{}, blobs, pipeline, enqueuer, sync,
		adapterFactory, fakeFingerprints{})
}

func TestDeleteSourceConflictWhileSyncing(t *testing.T) {
	src := domain.Source{ID: uuid.New()}
	sources := newFakeSources(src)
	sync := &fakeSync{running: map[uuid.UUID]bool{src.ID: true}}
	eng := newTestEngine(t, sources, newFakeDocuments(), &fakeQueue{}, &fakeBlobs{}, &fakePipeline{}, &fakeEnqueuer{}, sync)

	err := eng.DeleteSource(context.Background(), src.ID, store.ListOptions{AsAdmin: true})
	require.Error(t, err)
	assert.Equal(t, errors.KindConflict, errors.KindOf(err))
	assert.Contains(t, sources.sources, src.ID)
}

func TestDeleteSourceSucceedsWhenIdle(t *testing.T) {
	src := domain.Source{ID: uuid.New()}
	sources := newFakeSources(src)
	sync := &fakeSync{running: map[uuid.UUID]bool{}}
	eng := newTestEngine(t, sources, newFakeDocuments(), &fakeQueue{}, &fakeBlobs{}, &fakePipeline{}, &fakeEnqueuer{}, sync)

	err := eng.DeleteSource(context.Background(), src.ID, store.ListOptions{AsAdmin: true})
	require.NoError(t, err)
	assert.NotContains(t, sources.sources, src.ID)
}

func TestIngestUploadEnqueuesOnlyWhenCreated(t *testing.T) {
	doc := domain.Document{ID: uuid.New(), Size: 2 << 20}
	pipeline := &fakePipeline{result: ingestion.Result{Kind: ingestion.Created, Document: doc}}
	enqueuer := &fakeEnqueuer{}
	eng := newTestEngine(t, newFakeSources(), newFakeDocuments(), &fakeQueue{}, &fakeBlobs{}, pipeline, enqueuer, &fakeSync{})

	result, err := eng.IngestUpload(context.Background(), uuid.New(), "scan.pdf", []byte("data"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, ingestion.Created, result.Kind)
	require.Len(t, enqueuer.calls, 1)
	assert.Equal(t, doc.ID, enqueuer.calls[0])

	pipeline.result = ingestion.Result{Kind: ingestion.ExistingDocument, Document: doc}
	_, err = eng.IngestUpload(context.Background(), uuid.New(), "scan.pdf", []byte("data"), "application/pdf")
	require.NoError(t, err)
	assert.Len(t, enqueuer.calls, 1, "enqueue must not run again for an already-tracked document")
}

func TestIngestUploadRejectsOversizedFiles(t *testing.T) {
	pipeline := &fakePipeline{}
	eng := New(Config{MaxUploadSizeBytes: 4}, newFakeSources(), newFakeDocuments(), &fakeQueue{}, fakeFailedDocs{},
		&fakeBlobs{}, pipeline, &fakeEnqueuer{}, &fakeSync{},
		func(ctx context.Context, src domain.Source) (adapters.Adapter, error) { return nil, nil },
		fakeFingerprints{})

	_, err := eng.IngestUpload(context.Background(), uuid.New(), "big.pdf", []byte("12345"), "application/pdf")
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestRetryOCRAppliesManualBoostOnTopOfSizeTier(t *testing.T) {
	doc := domain.Document{ID: uuid.New(), UserID: uuid.New(), Size: 2 << 20} // 2 MiB: tier priority 8
	documents := newFakeDocuments(doc)
	queue := &fakeQueue{}
	eng := newTestEngine(t, newFakeSources(), documents, queue, &fakeBlobs{}, &fakePipeline{}, &fakeEnqueuer{}, &fakeSync{})

	opts := store.ListOptions{AsUserID: doc.UserID}
	item, err := eng.RetryOCR(context.Background(), doc.ID, opts)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityForSize(doc.Size)+domain.ManualRetryBoost, item.Priority)
	assert.Equal(t, doc.ID, queue.lastDoc)
}

func TestRetryOCRRespectsOwnership(t *testing.T) {
	owner := uuid.New()
	doc := domain.Document{ID: uuid.New(), UserID: owner, Size: 1024}
	documents := newFakeDocuments(doc)
	eng := newTestEngine(t, newFakeSources(), documents, &fakeQueue{}, &fakeBlobs{}, &fakePipeline{}, &fakeEnqueuer{}, &fakeSync{})

	_, err := eng.RetryOCR(context.Background(), doc.ID, store.ListOptions{AsUserID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestSetTagsRequiresOwnership(t *testing.T) {
	owner := uuid.New()
	doc := domain.Document{ID: uuid.New(), UserID: owner, Tags: []string{"invoice"}}
	documents := newFakeDocuments(doc)
	eng := newTestEngine(t, newFakeSources(), documents, &fakeQueue{}, &fakeBlobs{}, &fakePipeline{}, &fakeEnqueuer{}, &fakeSync{})

	_, err := eng.SetTags(context.Background(), doc.ID, []string{"receipt"}, store.ListOptions{AsUserID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	updated, err := eng.SetTags(context.Background(), doc.ID, []string{"receipt", "2026"}, store.ListOptions{AsUserID: owner})
	require.NoError(t, err)
	assert.Equal(t, []string{"receipt", "2026"}, updated.Tags)
}

func TestGetDocumentBlobReturnsBytes(t *testing.T) {
	doc := domain.Document{ID: uuid.New(), BlobPath: "blobs/ab/abcd"}
	documents := newFakeDocuments(doc)
	blobs := &fakeBlobs{blobs: map[string][]byte{doc.BlobPath: []byte("hello")}}
	eng := newTestEngine(t, newFakeSources(), documents, &fakeQueue{}, blobs, &fakePipeline{}, &fakeEnqueuer{}, &fakeSync{})

	gotDoc, data, err := eng.GetDocumentBlob(context.Background(), doc.ID, store.ListOptions{AsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, doc.ID, gotDoc.ID)
	assert.Equal(t, []byte("hello"), data)
}

var _ smartsync.FingerprintStore = fakeFingerprints{}
