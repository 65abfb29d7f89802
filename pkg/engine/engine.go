// Package engine is the in-process facade over the Metadata Store, Blob
// Store, Ingestion Pipeline, Scheduler, and OCR Queue: the single surface
// spec.md §6 describes as "the operations the engine exposes". An external
// HTTP or CLI layer is expected to sit in front of an *Engine and translate
// wire requests into these calls; none of that translation lives here.
package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/archivist/engine/internal/adapters"
	"github.com/archivist/engine/internal/ingestion"
	"github.com/archivist/engine/internal/scheduler"
	"github.com/archivist/engine/internal/smartsync"
	"github.com/archivist/engine/internal/store"
	"github.com/archivist/engine/internal/syncprogress"
	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// SourceStore is the subset of internal/store.Store the Engine needs for
// Source CRUD.
type SourceStore interface {
	CreateSource(ctx context.Context, src domain.Source) (domain.Source, error)
	ListSources(ctx context.Context, opts store.ListOptions) ([]domain.Source, error)
	GetSource(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.Source, error)
	UpdateSource(ctx context.Context, id uuid.UUID, name string, cfg domain.SourceConfig, opts store.ListOptions) (domain.Source, error)
	DeleteSource(ctx context.Context, id uuid.UUID, opts store.ListOptions) error
}

// DocumentStore is the subset of internal/store.Store the Engine needs for
// document queries and label management.
type DocumentStore interface {
	GetDocument(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.Document, error)
	ListDocuments(ctx context.Context, opts store.DocumentListOptions) ([]domain.Document, error)
	SetTags(ctx context.Context, docID uuid.UUID, tags []string) error
	AddTags(ctx context.Context, docID uuid.UUID, tags []string) error
	RemoveTags(ctx context.Context, docID uuid.UUID, tags []string) error
}

// QueueStore is the subset of internal/store.Store the Engine needs to
// drive manual OCR retries.
type QueueStore interface {
	RetryOCR(ctx context.Context, documentID uuid.UUID, priority int, opts store.ListOptions) (domain.OCRQueueItem, error)
}

// FailedDocumentStore is the subset of internal/store.Store the Engine
// needs for list_failed_documents.
type FailedDocumentStore interface {
	ListFailedDocuments(ctx context.Context, opts store.ListOptions) ([]domain.FailedDocument, error)
}

// BlobGetter is the subset of internal/blobstore.Store the Engine needs to
// serve a document's raw bytes back out.
type BlobGetter interface {
	Get(relPath string) ([]byte, error)
}

// IngestPipeline is the subset of internal/ingestion.Pipeline the Engine
// needs for direct uploads (as opposed to sync-driven ingestion).
type IngestPipeline interface {
	Ingest(ctx context.Context, userID, sourceID uuid.UUID, filename string, data []byte, declaredMime string) (ingestion.Result, error)
}

// Enqueuer is the subset of internal/store.Store the Engine needs to
// schedule OCR for a freshly uploaded document.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID uuid.UUID, priority int) (domain.OCRQueueItem, error)
}

// SyncController is the subset of internal/scheduler.Scheduler the Engine
// drives for manual sync control (§4.F, §6).
type SyncController interface {
	TriggerSync(ctx context.Context, sourceID uuid.UUID, opts store.ListOptions) (scheduler.TriggerResult, error)
	StopSync(ctx context.Context, sourceID uuid.UUID, reason domain.CancellationReason) (scheduler.StopResult, error)
	GetProgress(sourceID uuid.UUID) (syncprogress.Snapshot, bool)
	IsRunning(sourceID uuid.UUID) bool
}

// AdapterFactory builds the Remote Adapter for a Source, already wrapped
// with whatever resilience (internal/adapters.WithResilience) the caller
// wants applied; satisfied by internal/adapters.NewForSource composed with
// that wrapping in wiring.go.
type AdapterFactory func(ctx context.Context, src domain.Source) (adapters.Adapter, error)

// Config tunes Engine-level behavior that isn't owned by any one
// subsystem.
type Config struct {
	// MaxUploadSizeBytes rejects ingest_upload calls over this size
	// (storage.max_file_size_mb in internal/config).
	MaxUploadSizeBytes int64
	Sync               smartsync.Config
}

// Engine ties every subsystem together behind the operations spec.md §6
// names. It holds no state of its own beyond its dependencies: all
// durable state lives in the Metadata Store, Blob Store, and the
// Scheduler's in-memory running-sync registry.
type Engine struct {
	cfg Config

	sources    SourceStore
	documents  DocumentStore
	queue      QueueStore
	failedDocs FailedDocumentStore
	blobs      BlobGetter
	pipeline   IngestPipeline
	enqueuer   Enqueuer
	sync       SyncController
	adapters   AdapterFactory
	fps        smartsync.FingerprintStore
	metrics    smartsync.MetricsSink
	log        *slog.Logger
}

// Option customizes an Engine at construction time.
type Option func(*Engine)

// WithMetrics attaches a metrics sink used when building a dry-run
// estimate_crawl cycle; the default records nothing.
func WithMetrics(m smartsync.MetricsSink) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger attaches a structured logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// New assembles an Engine from its dependencies. See wiring.go for the
// production constructor that builds these from internal/config.
func New(
	cfg Config,
	sources SourceStore,
	documents DocumentStore,
	queue QueueStore,
	failedDocs FailedDocumentStore,
	blobs BlobGetter,
	pipeline IngestPipeline,
	enqueuer Enqueuer,
	sync SyncController,
	adapterFactory AdapterFactory,
	fps smartsync.FingerprintStore,
	opts ...Option,
) *Engine {
	if cfg.MaxUploadSizeBytes <= 0 {
		cfg.MaxUploadSizeBytes = 100 << 20
	}
	e := &Engine{
		cfg: cfg, sources: sources, documents: documents, queue: queue,
		failedDocs: failedDocs, blobs: blobs, pipeline: pipeline, enqueuer: enqueuer,
		sync: sync, adapters: adapterFactory, fps: fps,
		metrics: noopMetrics{}, log: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type noopMetrics struct{}

func (noopMetrics) RecordSyncFile(string, string) {}

// CreateSource registers a new Source for userID (§6).
func (e *Engine) CreateSource(ctx context.Context, userID uuid.UUID, name string, typ domain.SourceType, cfg domain.SourceConfig) (domain.Source, error) {
	return e.sources.CreateSource(ctx, domain.Source{UserID: userID, Name: name, Type: typ, Config: cfg})
}

// ListSources returns every Source visible to the caller (§6).
func (e *Engine) ListSources(ctx context.Context, opts store.ListOptions) ([]domain.Source, error) {
	return e.sources.ListSources(ctx, opts)
}

// GetSource fetches one Source by ID (§6).
func (e *Engine) GetSource(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.Source, error) {
	return e.sources.GetSource(ctx, id, opts)
}

// UpdateSource edits a Source's name and type-specific config (§6). A
// Source's status/error/counters are scheduler-owned and not editable here.
func (e *Engine) UpdateSource(ctx context.Context, id uuid.UUID, name string, cfg domain.SourceConfig, opts store.ListOptions) (domain.Source, error) {
	return e.sources.UpdateSource(ctx, id, name, cfg, opts)
}

// DeleteSource removes a Source, refusing while a sync is in flight for it
// (§6): stop_sync must be called first, or the caller waits for
// completion.
func (e *Engine) DeleteSource(ctx context.Context, id uuid.UUID, opts store.ListOptions) error {
	if e.sync.IsRunning(id) {
		return errors.New(errors.KindConflict, "source has a sync in progress; stop it before deleting")
	}
	return e.sources.DeleteSource(ctx, id, opts)
}

// TestConnection verifies a Source's remote is reachable right now (§6,
// SPEC_FULL §12.3), without performing any sync side effects.
func (e *Engine) TestConnection(ctx context.Context, id uuid.UUID, opts store.ListOptions) (adapters.ConnectionCheck, error) {
	src, err := e.sources.GetSource(ctx, id, opts)
	if err != nil {
		return adapters.ConnectionCheck{}, err
	}
	adapter, err := e.adapters(ctx, src)
	if err != nil {
		return adapters.ConnectionCheck{OK: false, Category: "config", Message: err.Error()}, nil
	}
	return adapter.TestConnection(ctx), nil
}

// EstimateCrawl runs a non-mutating dry-run of Evaluation for every watch
// folder on a Source (§6, SPEC_FULL §12.2): no fingerprint is written, no
// file is downloaded.
func (e *Engine) EstimateCrawl(ctx context.Context, id uuid.UUID, opts store.ListOptions) ([]smartsync.FolderEstimate, error) {
	src, err := e.sources.GetSource(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	adapter, err := e.adapters(ctx, src)
	if err != nil {
		return nil, err
	}
	cycle := smartsync.New(e.cfg.Sync, adapter, e.fps, e.pipeline, e.enqueuer, smartsync.WithMetrics(e.metrics), smartsync.WithLogger(e.log))
	return cycle.EstimateCrawl(ctx, src)
}

// TriggerSync starts a Smart Sync cycle for a Source immediately (§6).
func (e *Engine) TriggerSync(ctx context.Context, id uuid.UUID, opts store.ListOptions) (scheduler.TriggerResult, error) {
	return e.sync.TriggerSync(ctx, id, opts)
}

// StopSync cancels a Source's in-flight sync, if any (§6).
func (e *Engine) StopSync(ctx context.Context, id uuid.UUID, reason domain.CancellationReason) (scheduler.StopResult, error) {
	return e.sync.StopSync(ctx, id, reason)
}

// GetProgress returns the live progress of a Source's in-flight sync (§6).
func (e *Engine) GetProgress(id uuid.UUID) (syncprogress.Snapshot, bool) {
	return e.sync.GetProgress(id)
}

// IngestUpload ingests a directly uploaded file outside of any sync cycle
// (§6 ingest_upload): it goes through the same content-addressed Ingestion
// Pipeline as a synced file, with no source of origin.
func (e *Engine) IngestUpload(ctx context.Context, userID uuid.UUID, filename string, data []byte, declaredMime string) (ingestion.Result, error) {
	if int64(len(data)) > e.cfg.MaxUploadSizeBytes {
		return ingestion.Result{}, errors.New(errors.KindValidation, "upload exceeds maximum file size")
	}

	result, err := e.pipeline.Ingest(ctx, userID, uuid.Nil, filename, data, declaredMime)
	if err != nil {
		return ingestion.Result{}, err
	}
	if result.Kind == ingestion.Created {
		priority := domain.PriorityForSize(result.Document.Size)
		if _, err := e.enqueuer.Enqueue(ctx, result.Document.ID, priority); err != nil {
			return result, errors.Wrap(errors.KindInternal, err, "enqueue ocr for uploaded document")
		}
	}
	return result, nil
}

// ListDocuments returns the caller's documents, paginated and optionally
// filtered by OCR status (§6).
func (e *Engine) ListDocuments(ctx context.Context, opts store.DocumentListOptions) ([]domain.Document, error) {
	return e.documents.ListDocuments(ctx, opts)
}

// GetDocument fetches one Document's metadata (§6).
func (e *Engine) GetDocument(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.Document, error) {
	return e.documents.GetDocument(ctx, id, opts)
}

// GetDocumentBlob fetches a Document's metadata together with its raw
// bytes (§6).
func (e *Engine) GetDocumentBlob(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.Document, []byte, error) {
	doc, err := e.documents.GetDocument(ctx, id, opts)
	if err != nil {
		return domain.Document{}, nil, err
	}
	data, err := e.blobs.Get(doc.BlobPath)
	if err != nil {
		return domain.Document{}, nil, err
	}
	return doc, data, nil
}

// RetryOCR re-queues OCR for a document the caller owns, boosted above its
// size-tiered priority (§4.C ManualRetryBoost, §6 retry_ocr).
func (e *Engine) RetryOCR(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.OCRQueueItem, error) {
	doc, err := e.documents.GetDocument(ctx, id, opts)
	if err != nil {
		return domain.OCRQueueItem{}, err
	}
	priority := domain.PriorityForSize(doc.Size) + domain.ManualRetryBoost
	return e.queue.RetryOCR(ctx, id, priority, opts)
}

// ListFailedDocuments returns the caller's append-only failure history
// (§6).
func (e *Engine) ListFailedDocuments(ctx context.Context, opts store.ListOptions) ([]domain.FailedDocument, error) {
	return e.failedDocs.ListFailedDocuments(ctx, opts)
}

// SetTags replaces a document's tag set outright, after confirming the
// caller is allowed to see it (SPEC_FULL §12.4).
func (e *Engine) SetTags(ctx context.Context, id uuid.UUID, tags []string, opts store.ListOptions) (domain.Document, error) {
	if _, err := e.documents.GetDocument(ctx, id, opts); err != nil {
		return domain.Document{}, err
	}
	if err := e.documents.SetTags(ctx, id, tags); err != nil {
		return domain.Document{}, err
	}
	return e.documents.GetDocument(ctx, id, opts)
}

// AddTags merges tags into a document's existing set (SPEC_FULL §12.4).
func (e *Engine) AddTags(ctx context.Context, id uuid.UUID, tags []string, opts store.ListOptions) (domain.Document, error) {
	if _, err := e.documents.GetDocument(ctx, id, opts); err != nil {
		return domain.Document{}, err
	}
	if err := e.documents.AddTags(ctx, id, tags); err != nil {
		return domain.Document{}, err
	}
	return e.documents.GetDocument(ctx, id, opts)
}

// RemoveTags removes tags from a document's existing set (SPEC_FULL
// §12.4).
func (e *Engine) RemoveTags(ctx context.Context, id uuid.UUID, tags []string, opts store.ListOptions) (domain.Document, error) {
	if _, err := e.documents.GetDocument(ctx, id, opts); err != nil {
		return domain.Document{}, err
	}
	if err := e.documents.RemoveTags(ctx, id, tags); err != nil {
		return domain.Document{}, err
	}
	return e.documents.GetDocument(ctx, id, opts)
}
