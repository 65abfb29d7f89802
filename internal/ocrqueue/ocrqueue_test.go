package ocrqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist/engine/internal/store"
	"github.com/archivist/engine/pkg/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	pending  []domain.OCRQueueItem
	docs     map[uuid.UUID]domain.Document
	completed []uuid.UUID
	failed    []uuid.UUID
	failedDocs []domain.FailedDocument
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[uuid.UUID]domain.Document{}}
}

func (f *fakeStore) ClaimNext(ctx context.Context, workerID string) (domain.OCRQueueItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return domain.OCRQueueItem{}, false, nil
	}
	item := f.pending[0]
	f.pending = f.pending[1:]
	item.Status = domain.QueueItemProcessing
	item.WorkerID = workerID
	item.Attempts++
	return item, true, nil
}

func (f *fakeStore) Complete(ctx context.Context, itemID, documentID uuid.UUID, result store.OCRResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, itemID)
	return nil
}

func (f *fakeStore) Fail(ctx context.Context, itemID, documentID uuid.UUID, reason domain.FailureReason, errMsg string, nextDelay time.Duration, result store.OCRResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, itemID)
	return nil
}

func (f *fakeStore) ReapStale(ctx context.Context, leaseTimeout time.Duration) (int, int, error) {
	return 0, 0, nil
}

func (f *fakeStore) QueueDepth(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.pending)), nil
}

func (f *fakeStore) GetDocument(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id], nil
}

func (f *fakeStore) RecordFailedDocument(ctx context.Context, fd domain.FailedDocument) (domain.FailedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedDocs = append(f.failedDocs, fd)
	return fd, nil
}

type fakeBlobs struct{ data []byte }

func (f fakeBlobs) Get(relPath string) ([]byte, error) { return f.data, nil }

type fakeOCR struct {
	result Result
	err    error
}

func (f fakeOCR) Extract(ctx context.Context, data []byte, mimeType string) (Result, error) {
	return f.result, f.err
}

type fixedRandom struct{ v float64 }

func (f fixedRandom) Float64() float64 { return f.v }

func TestPoolProcessSuccess(t *testing.T) {
	docID := uuid.New()
	itemID := uuid.New()
	fs := newFakeStore()
	fs.docs[docID] = domain.Document{ID: docID, BlobPath: "blobs/ab/abcdef", MimeType: "application/pdf"}
	fs.pending = []domain.OCRQueueItem{{ID: itemID, DocumentID: docID, Attempts: 0, MaxAttempts: 3}}

	pool := New(Config{Workers: 1, PollInterval: 10 * time.Millisecond},
		fs, fakeBlobs{data: []byte("hello")}, fakeOCR{result: Result{Text: "hello", Confidence: 0.9}})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	assert.Contains(t, fs.completed, itemID)
	assert.Empty(t, fs.failed)
}

func TestPoolProcessFailureRetriable(t *testing.T) {
	docID := uuid.New()
	itemID := uuid.New()
	fs := newFakeStore()
	fs.docs[docID] = domain.Document{ID: docID, BlobPath: "blobs/ab/abcdef", MimeType: "application/pdf"}
	fs.pending = []domain.OCRQueueItem{{ID: itemID, DocumentID: docID, Attempts: 0, MaxAttempts: 3}}

	pool := New(Config{Workers: 1, PollInterval: 10 * time.Millisecond},
		fs, fakeBlobs{data: []byte("hello")}, fakeOCR{err: &Error{Reason: domain.ReasonTimeout, Err: assert.AnError}})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	assert.Contains(t, fs.failed, itemID)
	assert.Empty(t, fs.completed)
}

func TestBackoffWithinBounds(t *testing.T) {
	pool := New(Config{BackoffBase: 30 * time.Second, BackoffMax: 30 * time.Minute},
		newFakeStore(), fakeBlobs{}, fakeOCR{}, WithRandom(fixedRandom{v: 1}))

	delay := pool.backoff(1)
	require.GreaterOrEqual(t, delay, 30*time.Second)
	require.LessOrEqual(t, delay, 60*time.Second)

	delay = pool.backoff(10)
	require.LessOrEqual(t, delay, 30*time.Minute)
}

func TestClassifyOCRError(t *testing.T) {
	reason, _ := classify(context.Background(), &Error{Reason: domain.ReasonUnsupportedFormat, Err: assert.AnError})
	assert.Equal(t, domain.ReasonUnsupportedFormat, reason)
}
