// Package ocrqueue runs the OCR worker pool and reaper against the
// persisted priority queue (§4.D): N workers loop claim_next → extract →
// complete/fail, independent of any sync cycle's lifetime.
package ocrqueue

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archivist/engine/internal/store"
	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// Result is the outcome of one successful OCR extraction (§6 "OCR Function").
type Result struct {
	Text             string
	Confidence       float64
	WordCount        int
	ProcessingTimeMS int64
}

// Error is the typed error an OCRFunction returns on failure, carrying the
// categorized reason the queue needs to decide retriability (§4.D).
type Error struct {
	Reason domain.FailureReason
	Err    error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// OCRFunction is the external, opaque OCR engine (§6): synchronous from
// the queue's perspective, called from a worker goroutine.
type OCRFunction interface {
	Extract(ctx context.Context, data []byte, mimeType string) (Result, error)
}

// Clock supplies the time used for backoff scheduling (§6), separated out
// so tests can run without real delays.
type Clock interface {
	Now() time.Time
}

// Random supplies the jitter used in backoff scheduling (§6).
type Random interface {
	Float64() float64
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type systemRandom struct{}

func (systemRandom) Float64() float64 { return rand.Float64() }

// QueueStore is the subset of internal/store.Store the worker pool needs.
type QueueStore interface {
	ClaimNext(ctx context.Context, workerID string) (domain.OCRQueueItem, bool, error)
	Complete(ctx context.Context, itemID, documentID uuid.UUID, result store.OCRResult) error
	Fail(ctx context.Context, itemID, documentID uuid.UUID, reason domain.FailureReason, errMsg string, nextDelay time.Duration, result store.OCRResult) error
	ReapStale(ctx context.Context, leaseTimeout time.Duration) (recovered, failed int, err error)
	QueueDepth(ctx context.Context) (int64, error)
	GetDocument(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.Document, error)
	RecordFailedDocument(ctx context.Context, fd domain.FailedDocument) (domain.FailedDocument, error)
}

// BlobGetter is the subset of internal/blobstore.Store the worker pool needs.
type BlobGetter interface {
	Get(relPath string) ([]byte, error)
}

// MetricsSink receives OCR job outcomes; satisfied by *internal/metrics.Collector.
type MetricsSink interface {
	RecordOCRJob(outcome, reason string, duration time.Duration)
	SetOCRQueueDepth(depth int64)
	SetOCRWorkersBusy(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordOCRJob(string, string, time.Duration) {}
func (noopMetrics) SetOCRQueueDepth(int64)                     {}
func (noopMetrics) SetOCRWorkersBusy(int)                      {}

// Config configures the worker pool's size and timing (§4.D, §5).
type Config struct {
	Workers        int
	PollInterval   time.Duration
	JobTimeout     time.Duration
	LeaseTimeout   time.Duration
	ReaperInterval time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// DefaultConfig matches spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		PollInterval:   2 * time.Second,
		JobTimeout:     60 * time.Second,
		LeaseTimeout:   10 * time.Minute,
		ReaperInterval: 60 * time.Second,
		BackoffBase:    30 * time.Second,
		BackoffMax:     30 * time.Minute,
	}
}

// Pool runs a fixed number of OCR worker goroutines plus a background
// reaper. OCR worker count is fixed at startup (§5 backpressure).
type Pool struct {
	cfg     Config
	store   QueueStore
	blobs   BlobGetter
	ocr     OCRFunction
	clock   Clock
	random  Random
	metrics MetricsSink
	log     *slog.Logger

	mu   sync.Mutex
	busy int
}

// Option customizes a Pool at construction time.
type Option func(*Pool)

// WithClock overrides the Pool's Clock, for deterministic backoff tests.
func WithClock(c Clock) Option { return func(p *Pool) { p.clock = c } }

// WithRandom overrides the Pool's Random source, for deterministic jitter tests.
func WithRandom(r Random) Option { return func(p *Pool) { p.random = r } }

// WithMetrics attaches a MetricsSink; the default records nothing.
func WithMetrics(m MetricsSink) Option { return func(p *Pool) { p.metrics = m } }

// WithLogger attaches a structured logger; the default discards output.
func WithLogger(l *slog.Logger) Option { return func(p *Pool) { p.log = l } }

// New builds a worker Pool. cfg's zero fields are replaced by DefaultConfig.
func New(cfg Config, qs QueueStore, blobs BlobGetter, ocr OCRFunction, opts ...Option) *Pool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = def.LeaseTimeout
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = def.ReaperInterval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}

	p := &Pool{
		cfg:     cfg,
		store:   qs,
		blobs:   blobs,
		ocr:     ocr,
		clock:   systemClock{},
		random:  systemRandom{},
		metrics: noopMetrics{},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the worker goroutines and the reaper, blocking until ctx is
// cancelled and every goroutine has exited.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.cfg.Workers + 1)

	for i := 0; i < p.cfg.Workers; i++ {
		workerID := uuid.New().String()
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, workerID)
		}()
	}
	go func() {
		defer wg.Done()
		p.reaperLoop(ctx)
	}()

	wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok, err := p.store.ClaimNext(ctx, workerID)
		if err != nil {
			p.log.Error("claim next ocr item", "error", err)
		} else if ok {
			p.setBusy(1)
			p.process(ctx, item)
			p.setBusy(-1)
			if depth, err := p.store.QueueDepth(ctx); err == nil {
				p.metrics.SetOCRQueueDepth(depth)
			}
			continue // try to claim again immediately before waiting
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) setBusy(delta int) {
	p.mu.Lock()
	p.busy += delta
	p.metrics.SetOCRWorkersBusy(p.busy)
	p.mu.Unlock()
}

func (p *Pool) process(ctx context.Context, item domain.OCRQueueItem) {
	start := p.clock.Now()

	doc, err := p.store.GetDocument(ctx, item.DocumentID, store.ListOptions{AsAdmin: true})
	if err != nil {
		p.failItem(ctx, item, domain.Document{}, domain.ReasonOther, "load document: "+err.Error(), time.Since(start))
		return
	}

	data, err := p.blobs.Get(doc.BlobPath)
	if err != nil {
		p.failItem(ctx, item, doc, domain.ReasonFileCorrupted, "read blob: "+err.Error(), time.Since(start))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	result, err := p.ocr.Extract(jobCtx, data, doc.MimeType)
	cancel()

	if err != nil {
		reason, msg := classify(jobCtx, err)
		p.failItem(ctx, item, doc, reason, msg, time.Since(start))
		return
	}

	ocrResult := store.OCRResult{
		Status:           domain.OCRStatusCompleted,
		Text:             result.Text,
		Confidence:       result.Confidence,
		WordCount:        result.WordCount,
		ProcessingTimeMS: result.ProcessingTimeMS,
	}
	if err := p.store.Complete(ctx, item.ID, item.DocumentID, ocrResult); err != nil {
		p.log.Error("complete ocr item", "item_id", item.ID, "error", err)
		p.metrics.RecordOCRJob("lease_lost", "", time.Since(start))
		return
	}
	p.metrics.RecordOCRJob("completed", "", time.Since(start))
}

func (p *Pool) failItem(ctx context.Context, item domain.OCRQueueItem, doc domain.Document, reason domain.FailureReason, errMsg string, elapsed time.Duration) {
	delay := p.backoff(item.Attempts)
	ocrResult := store.OCRResult{
		Status:        domain.OCRStatusFailed,
		Error:         errMsg,
		FailureReason: reason,
	}
	if err := p.store.Fail(ctx, item.ID, item.DocumentID, reason, errMsg, delay, ocrResult); err != nil {
		p.log.Error("fail ocr item", "item_id", item.ID, "error", err)
		p.metrics.RecordOCRJob("lease_lost", string(reason), elapsed)
		return
	}

	giveUp := item.Attempts >= item.MaxAttempts || !reason.Retriable()
	if giveUp {
		_, _ = p.store.RecordFailedDocument(ctx, domain.FailedDocument{
			UserID:       doc.UserID,
			Filename:     doc.Filename,
			Stage:        domain.FailureStageOCR,
			Reason:       reason,
			ErrorMessage: errMsg,
		})
		p.metrics.RecordOCRJob("failed", string(reason), elapsed)
	} else {
		p.metrics.RecordOCRJob("retry_scheduled", string(reason), elapsed)
	}
}

// backoff computes the exponential-with-jitter delay for the next retry
// (§4.D): base=30s, delay = min(base*2^(attempts-1) + rand[0,base], 30min).
func (p *Pool) backoff(attempts int) time.Duration {
	base := p.cfg.BackoffBase
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 20 {
		shift = 20 // guard against overflow for pathological attempt counts
	}
	delay := base * time.Duration(1<<uint(shift))
	jitter := time.Duration(p.random.Float64() * float64(base))
	delay += jitter
	if delay > p.cfg.BackoffMax {
		delay = p.cfg.BackoffMax
	}
	return delay
}

// classify maps an OCR error to its categorized reason (§4.D). Errors the
// OCR function returns as *ocrqueue.Error carry their own reason; anything
// else (including context deadline/cancellation) is classified from the
// surrounding context and the engine's own error kinds.
func classify(ctx context.Context, err error) (domain.FailureReason, string) {
	var ocrErr *Error
	if asOCRError(err, &ocrErr) {
		return ocrErr.Reason, ocrErr.Error()
	}
	if ctx.Err() != nil {
		return domain.ReasonTimeout, "ocr job timed out: " + err.Error()
	}
	switch errors.KindOf(err) {
	case errors.KindTimeout:
		return domain.ReasonTimeout, err.Error()
	case errors.KindAccessDenied:
		return domain.ReasonAccessDenied, err.Error()
	case errors.KindUnsupportedFormat:
		return domain.ReasonUnsupportedFormat, err.Error()
	case errors.KindFileCorrupted:
		return domain.ReasonFileCorrupted, err.Error()
	default:
		return domain.ReasonOther, err.Error()
	}
}

func asOCRError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (p *Pool) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, failed, err := p.store.ReapStale(ctx, p.cfg.LeaseTimeout)
			if err != nil {
				p.log.Error("reap stale ocr items", "error", err)
				continue
			}
			if recovered > 0 || failed > 0 {
				p.log.Info("reaped stale ocr items", "recovered", recovered, "failed", failed)
			}
		}
	}
}
