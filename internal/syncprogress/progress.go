// Package syncprogress tracks the live progress of a single Smart Sync
// cycle (§4.F) behind a mutex, so the Scheduler can answer get_progress
// concurrently with the goroutine actually running the sync.
package syncprogress

import (
	"sync"
	"time"

	"github.com/archivist/engine/pkg/domain"
)

// Snapshot is an immutable copy of a Tracker's state at one instant,
// the shape returned by get_progress (§4.F).
type Snapshot struct {
	SourceID         string
	Phase            domain.SyncPhase
	Strategy         domain.SyncStrategy
	CurrentDirectory string
	FilesProcessed   int64
	FilesTotal       int64
	BytesProcessed   int64
	BytesTotal       int64
	Errors           []string
	Warnings         []string
	StartedAt        time.Time
	Elapsed          time.Duration
}

// Tracker is a thread-safe handle to one sync cycle's progress. The
// cycle's own goroutine calls the setters; any other goroutine may call
// Copy at any time.
type Tracker struct {
	mu sync.Mutex
	s  Snapshot
}

// New starts a Tracker in PhaseInitializing.
func New(sourceID string) *Tracker {
	return &Tracker{s: Snapshot{
		SourceID:  sourceID,
		Phase:     domain.PhaseInitializing,
		StartedAt: time.Now(),
	}}
}

// SetPhase advances the cycle to a new phase.
func (t *Tracker) SetPhase(phase domain.SyncPhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Phase = phase
}

// SetStrategy records the strategy Evaluation selected for this cycle.
func (t *Tracker) SetStrategy(strategy domain.SyncStrategy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Strategy = strategy
}

// SetCurrentDirectory records the directory currently being scanned.
func (t *Tracker) SetCurrentDirectory(dir string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.CurrentDirectory = dir
}

// SetTotals records the discovered file/byte counts for this cycle, once
// known (after directory discovery completes).
func (t *Tracker) SetTotals(files, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.FilesTotal = files
	t.s.BytesTotal = bytes
}

// AddProcessed increments the processed file/byte counters.
func (t *Tracker) AddProcessed(files, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.FilesProcessed += files
	t.s.BytesProcessed += bytes
}

// AddError appends a non-fatal per-file or per-directory error message.
// Smart Sync's partial-failure policy (§4.F) logs these but keeps going.
func (t *Tracker) AddError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Errors = append(t.s.Errors, msg)
}

// AddWarning appends a non-fatal warning message.
func (t *Tracker) AddWarning(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Warnings = append(t.s.Warnings, msg)
}

// Copy returns a snapshot of the tracker's current state, safe to read
// freely after it's returned.
func (t *Tracker) Copy() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.s
	snap.Elapsed = time.Since(t.s.StartedAt)
	snap.Errors = append([]string(nil), t.s.Errors...)
	snap.Warnings = append([]string(nil), t.s.Warnings...)
	return snap
}
