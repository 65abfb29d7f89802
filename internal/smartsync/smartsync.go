// Package smartsync orchestrates a single sync cycle for one Source
// (§4.F): it chooses between FullDeepScan and TargetedScan per watch
// folder, downloads changed files through a Remote Adapter, and hands
// them to the ingestion pipeline with bounded file concurrency.
package smartsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/archivist/engine/internal/adapters"
	"github.com/archivist/engine/internal/ingestion"
	"github.com/archivist/engine/internal/syncprogress"
	"github.com/archivist/engine/pkg/domain"
	"github.com/archivist/engine/pkg/errors"
)

// FingerprintStore is the subset of internal/store.Store a sync cycle needs
// to read and persist directory fingerprints.
type FingerprintStore interface {
	GetFingerprint(ctx context.Context, userID, sourceID uuid.UUID, dirPath string) (domain.DirectoryFingerprint, bool, error)
	UpsertFingerprint(ctx context.Context, fp domain.DirectoryFingerprint) error
	ListFingerprints(ctx context.Context, userID, sourceID uuid.UUID) ([]domain.DirectoryFingerprint, error)
	ReplaceFingerprintsUnder(ctx context.Context, userID, sourceID uuid.UUID, rootPath string, fps []domain.DirectoryFingerprint) error
}

// IngestPipeline is the subset of internal/ingestion.Pipeline a sync cycle
// needs (matched structurally by *ingestion.Pipeline).
type IngestPipeline interface {
	Ingest(ctx context.Context, userID, sourceID uuid.UUID, filename string, data []byte, declaredMime string) (ingestion.Result, error)
}

// Enqueuer is the subset of internal/store.Store a sync cycle needs to
// schedule OCR for newly created documents.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID uuid.UUID, priority int) (domain.OCRQueueItem, error)
}

// MetricsSink receives per-file ingestion outcomes; satisfied by
// *internal/metrics.Collector.
type MetricsSink interface {
	RecordSyncFile(sourceID, result string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSyncFile(string, string) {}

// NotificationSink receives a summary after each completed sync cycle
// (original_source/src/source_sync.rs's per-source notification, not named
// as an operation in spec.md but preserved here as an optional consumer).
type NotificationSink interface {
	Notify(ctx context.Context, summary Summary)
}

type noopSink struct{}

func (noopSink) Notify(context.Context, Summary) {}

// Summary is returned after a sync cycle finishes, successfully or not.
type Summary struct {
	SourceID       uuid.UUID
	SourceName     string
	Strategy       domain.SyncStrategy
	FilesProcessed int64
	Duration       time.Duration
}

// Config configures a sync cycle's concurrency and timeouts (§4.F, §5).
type Config struct {
	MaxConcurrentFiles       int
	ProgressUpdateInterval   int
	TargetedScanThreshold    float64
	DiscoveryTimeout         time.Duration
	DeepScanDiscoveryTimeout time.Duration
	FileDownloadTimeout      time.Duration
}

// DefaultConfig matches spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentFiles:       5,
		ProgressUpdateInterval:   10,
		TargetedScanThreshold:    0.25,
		DiscoveryTimeout:         180 * time.Second,
		DeepScanDiscoveryTimeout: 600 * time.Second,
		FileDownloadTimeout:      60 * time.Second,
	}
}

// Cycle runs Smart Sync for one Source at a time; a new Cycle (or at
// least a fresh call to Run) is used for every sync.
type Cycle struct {
	cfg      Config
	adapter  adapters.Adapter
	fps      FingerprintStore
	pipeline IngestPipeline
	queue    Enqueuer
	metrics  MetricsSink
	notify   NotificationSink
	log      *slog.Logger
}

// Option customizes a Cycle at construction time.
type Option func(*Cycle)

func WithMetrics(m MetricsSink) Option           { return func(c *Cycle) { c.metrics = m } }
func WithNotificationSink(n NotificationSink) Option { return func(c *Cycle) { c.notify = n } }
func WithLogger(l *slog.Logger) Option           { return func(c *Cycle) { c.log = l } }

// New builds a Cycle. cfg's zero fields are replaced by DefaultConfig.
func New(cfg Config, adapter adapters.Adapter, fps FingerprintStore, pipeline IngestPipeline, queue Enqueuer, opts ...Option) *Cycle {
	def := DefaultConfig()
	if cfg.MaxConcurrentFiles <= 0 {
		cfg.MaxConcurrentFiles = def.MaxConcurrentFiles
	}
	if cfg.ProgressUpdateInterval <= 0 {
		cfg.ProgressUpdateInterval = def.ProgressUpdateInterval
	}
	if cfg.TargetedScanThreshold <= 0 {
		cfg.TargetedScanThreshold = def.TargetedScanThreshold
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = def.DiscoveryTimeout
	}
	if cfg.DeepScanDiscoveryTimeout <= 0 {
		cfg.DeepScanDiscoveryTimeout = def.DeepScanDiscoveryTimeout
	}
	if cfg.FileDownloadTimeout <= 0 {
		cfg.FileDownloadTimeout = def.FileDownloadTimeout
	}

	c := &Cycle{
		cfg: cfg, adapter: adapter, fps: fps, pipeline: pipeline, queue: queue,
		metrics: noopMetrics{}, notify: noopSink{},
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one full sync cycle across every watch folder configured
// on src, reporting progress through tracker (§4.F).
func (c *Cycle) Run(ctx context.Context, src domain.Source, tracker *syncprogress.Tracker) (Summary, error) {
	start := time.Now()
	tracker.SetPhase(domain.PhaseEvaluating)

	folders := src.Config.WatchFolders
	if len(folders) == 0 {
		folders = []string{""}
	}

	var totalProcessed int64
	var lastStrategy domain.SyncStrategy = domain.StrategyNone

	for _, folder := range folders {
		if ctx.Err() != nil {
			return c.cancelledSummary(src, totalProcessed, start), errors.Wrap(errors.KindCancelled, ctx.Err(), "sync cancelled")
		}

		strategy, changed, err := c.evaluate(ctx, src, folder)
		if err != nil {
			if isCatastrophic(err) {
				tracker.SetPhase(domain.PhaseFailed)
				return c.summary(src, lastStrategy, totalProcessed, start), err
			}
			tracker.AddError("evaluate " + folder + ": " + err.Error())
			continue
		}
		lastStrategy = strategy

		tracker.SetPhase(domain.PhaseDiscoveringDirectories)
		var processed int64
		switch strategy {
		case domain.StrategyNone:
			continue
		case domain.StrategyFullDeepScan:
			processed, err = c.fullDeepScan(ctx, src, folder, tracker)
		case domain.StrategyTargetedScan:
			processed, err = c.targetedScan(ctx, src, folder, changed, tracker)
		}
		totalProcessed += processed
		if err != nil {
			if errors.KindOf(err) == errors.KindCancelled {
				return c.cancelledSummary(src, totalProcessed, start), err
			}
			if isCatastrophic(err) {
				tracker.SetPhase(domain.PhaseFailed)
				return c.summary(src, lastStrategy, totalProcessed, start), err
			}
			tracker.AddError("scan " + folder + ": " + err.Error())
		}
	}

	tracker.SetPhase(domain.PhaseCompleted)
	summary := c.summary(src, lastStrategy, totalProcessed, start)
	c.notify.Notify(ctx, summary)
	return summary, nil
}

func (c *Cycle) summary(src domain.Source, strategy domain.SyncStrategy, processed int64, start time.Time) Summary {
	return Summary{
		SourceID: src.ID, SourceName: src.Name, Strategy: strategy,
		FilesProcessed: processed, Duration: time.Since(start),
	}
}

func (c *Cycle) cancelledSummary(src domain.Source, processed int64, start time.Time) Summary {
	return c.summary(src, domain.StrategyNone, processed, start)
}

// isCatastrophic reports whether err should fail the entire sync rather
// than just the folder or file that produced it (§4.F partial-failure
// policy: only authentication-level or adapter-construction failures do).
func isCatastrophic(err error) bool {
	return errors.KindOf(err) == errors.KindAccessDenied
}

// evaluate implements the strategy-selection algorithm for one watch
// folder (§4.F).
func (c *Cycle) evaluate(ctx context.Context, src domain.Source, folder string) (domain.SyncStrategy, []string, error) {
	discoverCtx, cancel := context.WithTimeout(ctx, c.cfg.DiscoveryTimeout)
	defer cancel()

	entries, err := c.adapter.List(discoverCtx, folder)
	if err != nil {
		// Preserve the adapter's own classification (e.g. KindAccessDenied
		// on an auth failure) so isCatastrophic can still see it; only
		// default to KindNetwork when the adapter returned an untyped error.
		kind := errors.KindOf(err)
		if kind == "" {
			kind = errors.KindNetwork
		}
		return domain.StrategyNone, nil, errors.Wrap(kind, err, "list watch folder")
	}

	stored, found, err := c.fps.GetFingerprint(ctx, src.UserID, src.ID, folder)
	if err != nil {
		return domain.StrategyNone, nil, err
	}
	if !found {
		return domain.StrategyFullDeepScan, nil, nil
	}

	computed := dirETag(entries)
	if computed == stored.ETag {
		return domain.StrategyNone, nil, nil
	}

	var subdirs []string
	for _, e := range entries {
		if e.Kind == adapters.KindDir {
			subdirs = append(subdirs, joinPath(folder, e.Name))
		}
	}
	if len(subdirs) == 0 {
		return domain.StrategyFullDeepScan, nil, nil
	}

	changed, err := c.findChangedSubdirs(ctx, src, subdirs)
	if err != nil {
		// A failed fan-out can't determine the changed set safely;
		// fall back to the conservative option.
		return domain.StrategyFullDeepScan, nil, nil
	}

	known, err := c.fps.ListFingerprints(ctx, src.UserID, src.ID)
	if err != nil {
		return domain.StrategyNone, nil, err
	}
	total := 0
	for _, fp := range known {
		if folder == "" || strings.HasPrefix(fp.DirectoryPath, folder+"/") || fp.DirectoryPath == folder {
			total++
		}
	}
	if total == 0 {
		total = len(subdirs)
	}

	ratio := float64(len(changed)) / float64(total)
	if ratio <= c.cfg.TargetedScanThreshold {
		return domain.StrategyTargetedScan, changed, nil
	}
	return domain.StrategyFullDeepScan, nil, nil
}

// findChangedSubdirs lists each immediate subdirectory once (bounded
// concurrency) and returns those whose computed ETag differs from its
// stored fingerprint, or that have none yet.
func (c *Cycle) findChangedSubdirs(ctx context.Context, src domain.Source, subdirs []string) ([]string, error) {
	sem := semaphore.NewWeighted(4)
	g, gctx := errgroup.WithContext(ctx)

	changedCh := make(chan string, len(subdirs))
	for _, dir := range subdirs {
		dir := dir
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			entries, err := c.adapter.List(gctx, dir)
			if err != nil {
				return err
			}
			computed := dirETag(entries)
			stored, found, err := c.fps.GetFingerprint(gctx, src.UserID, src.ID, dir)
			if err != nil {
				return err
			}
			if !found || stored.ETag != computed {
				changedCh <- dir
			}
			return nil
		})
	}

	err := g.Wait()
	close(changedCh)
	if err != nil {
		return nil, err
	}

	var changed []string
	for dir := range changedCh {
		changed = append(changed, dir)
	}
	sort.Strings(changed)
	return changed, nil
}

// fullDeepScan walks the entire subtree rooted at folder, replacing its
// fingerprints atomically once the walk completes (§4.F).
func (c *Cycle) fullDeepScan(ctx context.Context, src domain.Source, folder string, tracker *syncprogress.Tracker) (int64, error) {
	discoverCtx, cancel := context.WithTimeout(ctx, c.cfg.DeepScanDiscoveryTimeout)
	defer cancel()

	var fingerprints []domain.DirectoryFingerprint
	var files []fileTask

	queue := []string{folder}
	for len(queue) > 0 {
		if ctx.Err() != nil {
			return 0, errors.Wrap(errors.KindCancelled, ctx.Err(), "sync cancelled during discovery")
		}
		dir := queue[0]
		queue = queue[1:]
		tracker.SetCurrentDirectory(dir)

		entries, err := c.adapter.List(discoverCtx, dir)
		if err != nil {
			tracker.AddError("list " + dir + ": " + err.Error())
			continue
		}

		var fileCount int
		var totalBytes int64
		for _, e := range entries {
			if e.Kind == adapters.KindDir {
				queue = append(queue, joinPath(dir, e.Name))
				continue
			}
			fileCount++
			totalBytes += e.Size
			if allowedExtension(src, e.Name) {
				files = append(files, fileTask{dir: dir, entry: e})
			}
		}
		fingerprints = append(fingerprints, domain.DirectoryFingerprint{
			UserID: src.UserID, SourceID: src.ID, DirectoryPath: dir,
			ETag: dirETag(entries), FileCount: fileCount, TotalBytes: totalBytes,
		})
	}

	var totalBytes int64
	for _, f := range files {
		totalBytes += f.entry.Size
	}
	tracker.SetTotals(int64(len(files)), totalBytes)
	tracker.SetPhase(domain.PhaseProcessingFiles)

	processed, err := c.processFiles(ctx, src, files, tracker)
	if err != nil {
		return processed, err
	}

	tracker.SetPhase(domain.PhaseSavingMetadata)
	if err := c.fps.ReplaceFingerprintsUnder(ctx, src.UserID, src.ID, folder, fingerprints); err != nil {
		return processed, err
	}
	return processed, nil
}

// targetedScan visits only the listed directories, non-recursively,
// upserting each one's fingerprint individually (§4.F).
func (c *Cycle) targetedScan(ctx context.Context, src domain.Source, folder string, changed []string, tracker *syncprogress.Tracker) (int64, error) {
	var files []fileTask
	var totalBytes int64

	for _, dir := range changed {
		if ctx.Err() != nil {
			return 0, errors.Wrap(errors.KindCancelled, ctx.Err(), "sync cancelled during discovery")
		}
		tracker.SetCurrentDirectory(dir)

		entries, err := c.adapter.List(ctx, dir)
		if err != nil {
			tracker.AddError("list " + dir + ": " + err.Error())
			continue
		}

		var fileCount int
		var dirBytes int64
		for _, e := range entries {
			if e.Kind == adapters.KindDir {
				continue
			}
			fileCount++
			dirBytes += e.Size
			if allowedExtension(src, e.Name) {
				files = append(files, fileTask{dir: dir, entry: e})
			}
		}
		totalBytes += dirBytes

		if err := c.fps.UpsertFingerprint(ctx, domain.DirectoryFingerprint{
			UserID: src.UserID, SourceID: src.ID, DirectoryPath: dir,
			ETag: dirETag(entries), FileCount: fileCount, TotalBytes: dirBytes,
		}); err != nil {
			return 0, err
		}
	}

	tracker.SetTotals(int64(len(files)), totalBytes)
	tracker.SetPhase(domain.PhaseProcessingFiles)
	return c.processFiles(ctx, src, files, tracker)
}

type fileTask struct {
	dir   string
	entry adapters.Entry
}

// processFiles downloads and ingests files with bounded concurrency
// (default 5 in flight per source, §4.F).
func (c *Cycle) processFiles(ctx context.Context, src domain.Source, files []fileTask, tracker *syncprogress.Tracker) (int64, error) {
	if len(files) == 0 {
		return 0, nil
	}

	p := pool.New().WithMaxGoroutines(c.cfg.MaxConcurrentFiles).WithContext(ctx).WithCancelOnError()

	for _, f := range files {
		f := f
		p.Go(func(ctx context.Context) error {
			if ctx.Err() != nil {
				return errors.Wrap(errors.KindCancelled, ctx.Err(), "sync cancelled")
			}

			dlCtx, cancel := context.WithTimeout(ctx, c.cfg.FileDownloadTimeout)
			data, err := c.adapter.Download(dlCtx, joinPath(f.dir, f.entry.Name))
			cancel()
			if err != nil {
				tracker.AddError("download " + f.entry.Name + ": " + err.Error())
				return nil // per-file failure, not fatal to the cycle
			}

			if ctx.Err() != nil {
				return errors.Wrap(errors.KindCancelled, ctx.Err(), "sync cancelled")
			}

			result, err := c.pipeline.Ingest(ctx, src.UserID, src.ID, f.entry.Name, data, f.entry.ContentType)
			if err != nil {
				tracker.AddError("ingest " + f.entry.Name + ": " + err.Error())
				return nil
			}

			if result.Kind == ingestion.Created {
				priority := domain.PriorityForSize(result.Document.Size)
				if _, err := c.queue.Enqueue(ctx, result.Document.ID, priority); err != nil {
					tracker.AddError("enqueue ocr for " + f.entry.Name + ": " + err.Error())
				}
				c.metrics.RecordSyncFile(src.ID.String(), "created")
			} else {
				c.metrics.RecordSyncFile(src.ID.String(), resultLabel(result.Kind))
			}

			tracker.AddProcessed(1, int64(len(data)))
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return tracker.Copy().FilesProcessed, err
	}
	return tracker.Copy().FilesProcessed, nil
}

func resultLabel(kind ingestion.ResultKind) string {
	switch kind {
	case ingestion.ExistingDocument:
		return "existing_document"
	case ingestion.TrackedAsDuplicate:
		return "tracked_as_duplicate"
	case ingestion.Skipped:
		return "skipped"
	default:
		return "created"
	}
}

// allowedExtension reports whether name passes the source's extension
// allow list; an empty list allows everything (§4.E, §6).
func allowedExtension(src domain.Source, name string) bool {
	allow := src.Config.FileExtensions
	if len(allow) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	for _, a := range allow {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
			return true
		}
	}
	return false
}

// dirETag derives a directory-level fingerprint from its listing: two
// listings are equivalent iff their entries' (path, etag) pairs are
// byte-equal after sorting, independent of listing order.
func dirETag(entries []adapters.Entry) string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Path + "\x00" + e.ETag
	}
	sort.Strings(names)
	h := sha256.New()
	for _, n := range names {
		io.WriteString(h, n)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// FolderEstimate is the dry-run outcome for one watch folder (SPEC_FULL
// §12.2 estimate_crawl).
type FolderEstimate struct {
	Folder             string
	Strategy           domain.SyncStrategy
	ChangedDirectories []string
	EstimatedFiles     int64
}

// EstimateCrawl runs Evaluation (§4.F strategy selection) for every watch
// folder on src without performing FullDeepScan/TargetedScan side
// effects: no fingerprint is written, no file is downloaded, nothing is
// ingested (SPEC_FULL §12.2, grounded on original_source's sync dry-run
// route). EstimatedFiles only counts the directories Evaluation itself
// had to List — for FullDeepScan that's the watch folder's immediate
// listing, not a full recursive walk, so the estimate is a lower bound
// for strategies that would go on to recurse.
func (c *Cycle) EstimateCrawl(ctx context.Context, src domain.Source) ([]FolderEstimate, error) {
	folders := src.Config.WatchFolders
	if len(folders) == 0 {
		folders = []string{""}
	}

	results := make([]FolderEstimate, 0, len(folders))
	for _, folder := range folders {
		if ctx.Err() != nil {
			return results, errors.Wrap(errors.KindCancelled, ctx.Err(), "estimate crawl cancelled")
		}

		strategy, changed, err := c.evaluate(ctx, src, folder)
		if err != nil {
			if isCatastrophic(err) {
				return results, err
			}
			continue
		}

		est := FolderEstimate{Folder: folder, Strategy: strategy, ChangedDirectories: changed}
		switch strategy {
		case domain.StrategyFullDeepScan:
			if entries, err := c.adapter.List(ctx, folder); err == nil {
				est.EstimatedFiles = countFiles(entries, src)
			}
		case domain.StrategyTargetedScan:
			for _, dir := range changed {
				if entries, err := c.adapter.List(ctx, dir); err == nil {
					est.EstimatedFiles += countFiles(entries, src)
				}
			}
		}
		results = append(results, est)
	}
	return results, nil
}

func countFiles(entries []adapters.Entry, src domain.Source) int64 {
	var n int64
	for _, e := range entries {
		if e.Kind == adapters.KindFile && allowedExtension(src, e.Name) {
			n++
		}
	}
	return n
}
