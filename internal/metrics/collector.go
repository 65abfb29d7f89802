// Package metrics collects Prometheus metrics for the ingestion engine's
// sync cycles and OCR queue. The engine only registers metrics into a
// registry; serving /metrics over HTTP is left to the external admin/
// metrics UI (a non-goal of this package, per spec.md §1).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures the Collector's namespace and labels.
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// Collector holds every Prometheus metric the engine exports (§4.D, §4.F).
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	syncCycles        *prometheus.CounterVec
	syncDuration      *prometheus.HistogramVec
	syncFilesTotal    *prometheus.CounterVec
	ocrJobsTotal      *prometheus.CounterVec
	ocrDuration       prometheus.Histogram
	ocrQueueDepth     prometheus.Gauge
	ocrWorkerBusy     prometheus.Gauge
	ingestDuplicates  prometheus.Counter
	ingestCreated     prometheus.Counter
}

// NewCollector builds a Collector and registers its metrics. A nil config
// is replaced by an enabled one with namespace "archivist"; when Enabled is
// false, every recording method is a no-op.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{Enabled: true, Namespace: "archivist"}
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: config, registry: registry}

	c.syncCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "sync", Name: "cycles_total",
		Help: "Smart Sync cycles by terminal outcome.",
	}, []string{"source_id", "outcome"})

	c.syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace, Subsystem: "sync", Name: "cycle_duration_seconds",
		Help:    "Duration of a completed sync cycle.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34min
	}, []string{"source_id"})

	c.syncFilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "sync", Name: "files_processed_total",
		Help: "Files processed by a sync cycle, by ingestion result kind.",
	}, []string{"source_id", "result"})

	c.ocrJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "ocr", Name: "jobs_total",
		Help: "OCR jobs by terminal outcome and failure reason.",
	}, []string{"outcome", "reason"})

	c.ocrDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: config.Namespace, Subsystem: "ocr", Name: "job_duration_seconds",
		Help:    "Duration of a single OCR extraction attempt.",
		Buckets: prometheus.DefBuckets,
	})

	c.ocrQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace, Subsystem: "ocr", Name: "queue_depth",
		Help: "Number of OCR queue items currently pending.",
	})

	c.ocrWorkerBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace, Subsystem: "ocr", Name: "workers_busy",
		Help: "Number of OCR worker goroutines currently processing an item.",
	})

	c.ingestCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "ingestion", Name: "documents_created_total",
		Help: "Documents newly created by the ingestion pipeline.",
	})

	c.ingestDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "ingestion", Name: "duplicates_total",
		Help: "Ingestion calls that resolved to an already-tracked document.",
	})

	collectors := []prometheus.Collector{
		c.syncCycles, c.syncDuration, c.syncFilesTotal,
		c.ocrJobsTotal, c.ocrDuration, c.ocrQueueDepth, c.ocrWorkerBusy,
		c.ingestCreated, c.ingestDuplicates,
	}
	for _, col := range collectors {
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Registry exposes the underlying Prometheus registry so an external HTTP
// layer can mount promhttp.HandlerFor(c.Registry(), ...) itself.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) enabled() bool { return c.config != nil && c.config.Enabled }

// RecordSyncCycle records one completed, failed, or cancelled sync cycle.
func (c *Collector) RecordSyncCycle(sourceID, outcome string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.syncCycles.WithLabelValues(sourceID, outcome).Inc()
	c.syncDuration.WithLabelValues(sourceID).Observe(duration.Seconds())
}

// RecordSyncFile records one file's ingestion result within a sync cycle.
func (c *Collector) RecordSyncFile(sourceID, result string) {
	if !c.enabled() {
		return
	}
	c.syncFilesTotal.WithLabelValues(sourceID, result).Inc()
}

// RecordOCRJob records one terminal OCR job outcome and its duration.
func (c *Collector) RecordOCRJob(outcome, reason string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.ocrJobsTotal.WithLabelValues(outcome, reason).Inc()
	c.ocrDuration.Observe(duration.Seconds())
}

// SetOCRQueueDepth records the current pending-item count (§4.D).
func (c *Collector) SetOCRQueueDepth(depth int64) {
	if !c.enabled() {
		return
	}
	c.ocrQueueDepth.Set(float64(depth))
}

// SetOCRWorkersBusy records how many workers currently hold a lease.
func (c *Collector) SetOCRWorkersBusy(n int) {
	if !c.enabled() {
		return
	}
	c.ocrWorkerBusy.Set(float64(n))
}

// RecordIngest records one ingestion pipeline outcome (§4.C).
func (c *Collector) RecordIngest(created bool) {
	if !c.enabled() {
		return
	}
	if created {
		c.ingestCreated.Inc()
	} else {
		c.ingestDuplicates.Inc()
	}
}
