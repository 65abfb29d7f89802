package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/archivist/engine/internal/adapters"
	"github.com/archivist/engine/internal/blobstore"
	"github.com/archivist/engine/internal/circuit"
	"github.com/archivist/engine/internal/config"
	"github.com/archivist/engine/internal/ingestion"
	"github.com/archivist/engine/internal/metrics"
	"github.com/archivist/engine/internal/ocrqueue"
	"github.com/archivist/engine/internal/scheduler"
	"github.com/archivist/engine/internal/smartsync"
	"github.com/archivist/engine/internal/store"
	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/retry"
)

// System is everything Open builds: the Engine facade plus the background
// loops (Scheduler tick loop, OCR worker pool) a caller must run for the
// engine to actually do anything.
type System struct {
	Engine    *Engine
	Store     *store.Store
	Scheduler *scheduler.Scheduler
	OCRPool   *ocrqueue.Pool
	Metrics   *metrics.Collector
}

// Close releases the Metadata Store's connection pool. Scheduler and
// OCRPool stop when the context passed to their Run methods is cancelled.
func (s *System) Close() { s.Store.Close() }

// breakerRegistry hands out one circuit.CircuitBreaker per source, so one
// unreachable WebDAV server doesn't trip the breaker guarding every other
// source's adapter calls.
type breakerRegistry struct {
	mu       sync.Mutex
	cfg      circuit.Config
	breakers map[uuid.UUID]*circuit.CircuitBreaker
}

func newBreakerRegistry(cfg circuit.Config) *breakerRegistry {
	return &breakerRegistry{cfg: cfg, breakers: map[uuid.UUID]*circuit.CircuitBreaker{}}
}

func (r *breakerRegistry) get(sourceID uuid.UUID) *circuit.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[sourceID]; ok {
		return b
	}
	b := circuit.NewCircuitBreaker(sourceID.String(), r.cfg)
	r.breakers[sourceID] = b
	return b
}

// rateLimiterFor builds the optional per-source token bucket described by
// cfg, or nil when the source has no configured limit (§5, §9). The core
// never imposes a default; a source pays no rate-limiting overhead unless
// its owner opts in.
func rateLimiterFor(cfg domain.SourceConfig) *rate.Limiter {
	if cfg.RateLimitPerSecond <= 0 {
		return nil
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
}

// Open builds a complete System from configuration: the Metadata Store
// (migrated), Blob Store, Ingestion Pipeline, resilience-wrapped Remote
// Adapter factory, Scheduler, OCR worker Pool, and the Engine facade tying
// them together. ocrFn is the caller's OCR engine (§6 "OCR Function");
// Open never constructs one itself.
func Open(ctx context.Context, cfg *config.Configuration, ocrFn ocrqueue.OCRFunction, log *slog.Logger) (*System, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := store.Open(ctx, store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    int32(cfg.Database.MaxOpenConns),
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, cfg.Database.DSN); err != nil {
		db.Close()
		return nil, err
	}

	blobs, err := blobstore.New(cfg.Storage.UploadPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := blobs.ReapTempFiles(); err != nil {
		log.Warn("engine: reap temp blob files failed", "error", err)
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: "archivist",
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	pipeline := ingestion.New(db, blobs)

	var breakers *breakerRegistry
	if cfg.Network.CircuitBreaker.Enabled {
		breakers = newBreakerRegistry(circuit.Config{
			Interval: 60 * time.Second,
			Timeout:  cfg.Network.CircuitBreaker.Timeout,
			ReadyToTrip: func(counts circuit.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.Network.CircuitBreaker.FailureThreshold)
			},
		})
	}
	retryer := retry.New(retry.Config{
		MaxAttempts: cfg.Network.Retry.MaxAttempts,
		InitialDelay: cfg.Network.Retry.BaseDelay,
		MaxDelay:    cfg.Network.Retry.MaxDelay,
		Multiplier:  2.0,
		Jitter:      true,
	})

	adapterFactory := func(ctx context.Context, src domain.Source) (adapters.Adapter, error) {
		adapter, err := adapters.NewForSource(ctx, src)
		if err != nil {
			return nil, err
		}
		var breaker *circuit.CircuitBreaker
		if breakers != nil {
			breaker = breakers.get(src.ID)
		}
		adapter = adapters.WithResilience(adapter, breaker, retryer)
		adapter = adapters.WithRateLimit(adapter, rateLimiterFor(src.Config))
		return adapter, nil
	}

	syncCfg := smartsync.Config{
		MaxConcurrentFiles:       cfg.Sync.MaxConcurrentFiles,
		ProgressUpdateInterval:   cfg.Sync.ProgressUpdateInterval,
		TargetedScanThreshold:    cfg.Sync.TargetedScanThreshold,
		DiscoveryTimeout:         cfg.Network.DiscoveryTimeout,
		DeepScanDiscoveryTimeout: cfg.Network.DeepScanDiscoveryTimeout,
		FileDownloadTimeout:      cfg.Network.FileDownloadTimeout,
	}

	cycleFactory := func(ctx context.Context, src domain.Source) (scheduler.CycleRunner, error) {
		adapter, err := adapterFactory(ctx, src)
		if err != nil {
			return nil, err
		}
		return smartsync.New(syncCfg, adapter, db, pipeline, db,
			smartsync.WithMetrics(collector), smartsync.WithLogger(log)), nil
	}

	sched := scheduler.New(scheduler.Config{WatchInterval: time.Duration(cfg.Sync.WatchIntervalSeconds) * time.Second},
		db, cycleFactory, log)

	pool := ocrqueue.New(ocrqueue.Config{
		Workers:        cfg.OCR.ConcurrentJobs,
		JobTimeout:     time.Duration(cfg.OCR.TimeoutSeconds) * time.Second,
		LeaseTimeout:   cfg.OCR.LeaseTimeout,
		ReaperInterval: cfg.OCR.ReaperInterval,
		BackoffBase:    cfg.OCR.BackoffBase,
		BackoffMax:     cfg.OCR.BackoffMax,
	}, db, blobs, ocrFn, ocrqueue.WithMetrics(collector), ocrqueue.WithLogger(log))

	eng := New(
		Config{MaxUploadSizeBytes: int64(cfg.Storage.MaxFileSizeMB) << 20, Sync: syncCfg},
		db, db, db, db, blobs, pipeline, db, sched, adapterFactory, db,
		WithMetrics(collector), WithLogger(log),
	)

	return &System{Engine: eng, Store: db, Scheduler: sched, OCRPool: pool, Metrics: collector}, nil
}

// ensure the store and blobstore concrete types satisfy every engine-facing
// interface; a mismatch here is a compile error, not a runtime surprise.
var (
	_ SourceStore            = (*store.Store)(nil)
	_ DocumentStore          = (*store.Store)(nil)
	_ QueueStore             = (*store.Store)(nil)
	_ FailedDocumentStore    = (*store.Store)(nil)
	_ Enqueuer               = (*store.Store)(nil)
	_ smartsync.FingerprintStore = (*store.Store)(nil)
	_ BlobGetter             = (*blobstore.Store)(nil)
	_ IngestPipeline         = (*ingestion.Pipeline)(nil)
	_ SyncController         = (*scheduler.Scheduler)(nil)
)
