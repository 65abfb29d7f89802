// Package scheduler drives the per-source sync state machine (§4.F):
// a tick loop that starts a Smart Sync cycle for sources due for one,
// plus the trigger_sync/stop_sync/get_progress operations spec.md §6
// exposes for driving syncs on demand.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archivist/engine/internal/smartsync"
	"github.com/archivist/engine/internal/store"
	"github.com/archivist/engine/internal/syncprogress"
	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// SourceStore is the subset of internal/store.Store a Scheduler needs to
// read sources and record sync outcomes.
type SourceStore interface {
	ListSources(ctx context.Context, opts store.ListOptions) ([]domain.Source, error)
	GetSource(ctx context.Context, id uuid.UUID, opts store.ListOptions) (domain.Source, error)
	UpdateSourceStatus(ctx context.Context, id uuid.UUID, status domain.SourceStatus, lastError string) error
	RecordSyncCompletion(ctx context.Context, id uuid.UUID, filesSynced, filesPending, bytesTotal int64) error
}

// ListOptions re-exports internal/store.ListOptions so callers outside
// internal/store don't need to import it directly just to build one.
type ListOptions = store.ListOptions

// CycleRunner is the subset of internal/smartsync.Cycle the Scheduler
// drives; satisfied by *smartsync.Cycle.
type CycleRunner interface {
	Run(ctx context.Context, src domain.Source, tracker *syncprogress.Tracker) (smartsync.Summary, error)
}

// CycleFactory builds a Cycle for a given source, letting the Scheduler
// stay independent of how adapters/pipelines/queues are wired together.
type CycleFactory func(ctx context.Context, src domain.Source) (CycleRunner, error)

// runningSync tracks one in-flight sync cycle so trigger_sync can detect
// AlreadyRunning and stop_sync can cancel it (§4.F, §6).
type runningSync struct {
	cancel    context.CancelCauseFunc
	startedAt time.Time
	tracker   *syncprogress.Tracker
}

// Config tunes the Scheduler's tick cadence.
type Config struct {
	WatchInterval time.Duration
}

// DefaultConfig matches spec.md's 30-second default tick.
func DefaultConfig() Config {
	return Config{WatchInterval: 30 * time.Second}
}

// Scheduler owns the per-source Idle/Syncing/Error state machine.
type Scheduler struct {
	cfg     Config
	store   SourceStore
	factory CycleFactory
	log     *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]*runningSync
}

// New builds a Scheduler. factory is called once per sync attempt to
// construct the Cycle for that source (its adapter, pipeline, queue).
func New(cfg Config, store SourceStore, factory CycleFactory, log *slog.Logger) *Scheduler {
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = DefaultConfig().WatchInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{cfg: cfg, store: store, factory: factory, log: log, running: map[uuid.UUID]*runningSync{}}
}

// Run starts the tick loop; it blocks until ctx is cancelled. Each tick
// starts a sync for every AutoSync source that is not already syncing and
// whose sync interval has elapsed since its last sync (or that has never
// synced).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	sources, err := s.store.ListSources(ctx, store.ListOptions{AsAdmin: true})
	if err != nil {
		s.log.Error("scheduler: list sources failed", "error", err)
		return
	}
	for _, src := range sources {
		if !src.Config.AutoSync {
			continue
		}
		if s.isRunning(src.ID) {
			continue
		}
		if !dueForSync(src) {
			continue
		}
		s.startSync(ctx, src)
	}
}

func dueForSync(src domain.Source) bool {
	if src.LastSyncAt == nil {
		return true
	}
	interval := time.Duration(src.Config.SyncIntervalSecs) * time.Second
	if interval <= 0 {
		interval = DefaultConfig().WatchInterval
	}
	return time.Since(*src.LastSyncAt) >= interval
}

func (s *Scheduler) isRunning(sourceID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[sourceID]
	return ok
}

// TriggerResult is returned by TriggerSync.
type TriggerResult struct {
	AlreadyRunning bool
}

// TriggerSync starts a sync cycle for sourceID immediately, returning
// AlreadyRunning=true (not an error) if one is already in flight, per
// spec.md §6's Conflict semantics for a duplicate trigger.
func (s *Scheduler) TriggerSync(ctx context.Context, sourceID uuid.UUID, opts store.ListOptions) (TriggerResult, error) {
	if s.isRunning(sourceID) {
		return TriggerResult{AlreadyRunning: true}, nil
	}
	src, err := s.store.GetSource(ctx, sourceID, opts)
	if err != nil {
		return TriggerResult{}, err
	}
	s.startSync(context.WithoutCancel(ctx), src)
	return TriggerResult{}, nil
}

// startSync launches one sync cycle in its own goroutine, registering it
// in the running map so concurrent triggers and stop_sync can find it.
func (s *Scheduler) startSync(ctx context.Context, src domain.Source) {
	cycleCtx, cancel := context.WithCancelCause(ctx)
	tracker := syncprogress.New(src.ID.String())

	s.mu.Lock()
	s.running[src.ID] = &runningSync{cancel: cancel, startedAt: time.Now(), tracker: tracker}
	s.mu.Unlock()

	if err := s.store.UpdateSourceStatus(ctx, src.ID, domain.SourceStatusSyncing, ""); err != nil {
		s.log.Error("scheduler: set syncing status failed", "source_id", src.ID, "error", err)
	}

	go s.runSync(cycleCtx, cancel, src, tracker)
}

func (s *Scheduler) runSync(ctx context.Context, cancel context.CancelCauseFunc, src domain.Source, tracker *syncprogress.Tracker) {
	defer func() {
		cancel(nil)
		s.mu.Lock()
		delete(s.running, src.ID)
		s.mu.Unlock()
	}()

	cycle, err := s.factory(ctx, src)
	if err != nil {
		s.finishWithError(ctx, src.ID, "build sync cycle: "+err.Error())
		return
	}

	summary, err := cycle.Run(ctx, src, tracker)
	if err != nil {
		if errors.KindOf(err) == errors.KindCancelled {
			reason := cancellationReason(context.Cause(ctx))
			msg := "Sync cancelled"
			if reason == domain.CancelUserRequested {
				msg = "Sync cancelled by user"
			}
			s.finishWithError(ctx, src.ID, msg)
			return
		}
		s.finishWithError(ctx, src.ID, err.Error())
		return
	}

	snap := tracker.Copy()
	if updErr := s.store.RecordSyncCompletion(ctx, src.ID, snap.FilesProcessed, snap.FilesTotal-snap.FilesProcessed, snap.BytesProcessed); updErr != nil {
		s.log.Error("scheduler: record sync completion failed", "source_id", src.ID, "error", updErr)
	}
	if updErr := s.store.UpdateSourceStatus(context.WithoutCancel(ctx), src.ID, domain.SourceStatusIdle, ""); updErr != nil {
		s.log.Error("scheduler: set idle status failed", "source_id", src.ID, "error", updErr)
	}
	s.log.Info("scheduler: sync completed", "source_id", src.ID, "strategy", summary.Strategy, "files", summary.FilesProcessed, "duration", summary.Duration)
}

func (s *Scheduler) finishWithError(ctx context.Context, sourceID uuid.UUID, msg string) {
	if updErr := s.store.UpdateSourceStatus(context.WithoutCancel(ctx), sourceID, domain.SourceStatusError, msg); updErr != nil {
		s.log.Error("scheduler: set error status failed", "source_id", sourceID, "error", updErr)
	}
}

func cancellationReason(cause error) domain.CancellationReason {
	var ce *cancelError
	if ok := asCancelError(cause, &ce); ok {
		return ce.reason
	}
	return domain.CancelServerShutdown
}

type cancelError struct {
	reason domain.CancellationReason
}

func (e *cancelError) Error() string { return "sync cancelled: " + string(e.reason) }

func asCancelError(err error, target **cancelError) bool {
	ce, ok := err.(*cancelError)
	if !ok {
		return false
	}
	*target = ce
	return true
}

// StopResult is returned by StopSync.
type StopResult struct {
	WasRunning bool
}

// StopSync cancels a running sync for sourceID. Calling it when no sync
// is running is idempotent and succeeds (§4.F, §6).
func (s *Scheduler) StopSync(ctx context.Context, sourceID uuid.UUID, reason domain.CancellationReason) (StopResult, error) {
	s.mu.Lock()
	rs, ok := s.running[sourceID]
	s.mu.Unlock()
	if !ok {
		return StopResult{WasRunning: false}, nil
	}
	rs.cancel(&cancelError{reason: reason})
	return StopResult{WasRunning: true}, nil
}

// GetProgress returns the live progress of a running sync, or false if
// none is running for sourceID.
func (s *Scheduler) GetProgress(sourceID uuid.UUID) (syncprogress.Snapshot, bool) {
	s.mu.Lock()
	rs, ok := s.running[sourceID]
	s.mu.Unlock()
	if !ok {
		return syncprogress.Snapshot{}, false
	}
	return rs.tracker.Copy(), true
}

// IsRunning reports whether sourceID currently has an in-flight sync.
// Used by source deletion to refuse deleting a Source mid-sync.
func (s *Scheduler) IsRunning(sourceID uuid.UUID) bool {
	return s.isRunning(sourceID)
}
