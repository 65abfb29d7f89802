// Package config loads and validates the engine's runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete engine configuration (spec.md §6).
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	OCR      OCRConfig      `yaml:"ocr"`
	Sync     SyncConfig     `yaml:"sync"`
	Network  NetworkConfig  `yaml:"network"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// StorageConfig configures the Blob Store (§4.B) and upload constraints.
type StorageConfig struct {
	UploadPath      string   `yaml:"upload_path"`
	MaxFileSizeMB   int      `yaml:"max_file_size_mb"`
	AllowedFileTypes []string `yaml:"allowed_file_types"`
}

// DatabaseConfig configures the Metadata Store's relational backend.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// OCRConfig configures the OCR Queue workers (§4.D).
type OCRConfig struct {
	ConcurrentJobs   int           `yaml:"concurrent_jobs"`
	TimeoutSeconds   int           `yaml:"timeout_seconds"`
	LeaseTimeout     time.Duration `yaml:"lease_timeout"`
	ReaperInterval   time.Duration `yaml:"reaper_interval"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
}

// SyncConfig configures the Scheduler and Smart Sync (§4.F).
type SyncConfig struct {
	WatchIntervalSeconds    int     `yaml:"watch_interval_seconds"`
	FileStabilityCheckMS    int     `yaml:"file_stability_check_ms"`
	TargetedScanThreshold   float64 `yaml:"targeted_scan_threshold"`
	MaxConcurrentFiles      int     `yaml:"max_concurrent_files"`
	ProgressUpdateInterval  int     `yaml:"progress_update_interval"`
}

// NetworkConfig configures adapter-call timeouts (§5).
type NetworkConfig struct {
	DiscoveryTimeout         time.Duration `yaml:"discovery_timeout"`
	DeepScanDiscoveryTimeout time.Duration `yaml:"deep_scan_discovery_timeout"`
	FileDownloadTimeout      time.Duration `yaml:"file_download_timeout"`
	Retry                    RetryConfig   `yaml:"retry"`
	CircuitBreaker           CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig configures pkg/retry's exponential backoff.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig configures internal/circuit per remote adapter.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MetricsConfig configures the Prometheus metrics collector.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{LogLevel: "INFO"},
		Storage: StorageConfig{
			UploadPath:       "/var/lib/archivist/uploads",
			MaxFileSizeMB:    100,
			AllowedFileTypes: []string{"pdf", "png", "jpg", "jpeg", "tiff", "txt"},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		OCR: OCRConfig{
			ConcurrentJobs: 4,
			TimeoutSeconds: 60,
			LeaseTimeout:   10 * time.Minute,
			ReaperInterval: 60 * time.Second,
			BackoffBase:    30 * time.Second,
			BackoffMax:     30 * time.Minute,
		},
		Sync: SyncConfig{
			WatchIntervalSeconds:   30,
			FileStabilityCheckMS:   2000,
			TargetedScanThreshold:  0.25,
			MaxConcurrentFiles:     5,
			ProgressUpdateInterval: 10,
		},
		Network: NetworkConfig{
			DiscoveryTimeout:         180 * time.Second,
			DeepScanDiscoveryTimeout: 600 * time.Second,
			FileDownloadTimeout:      60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 5,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "localhost:9090",
		},
	}
}

// LoadFromFile loads configuration from a YAML file, overlaying defaults.
func LoadFromFile(filename string) (*Configuration, error) {
	c := NewDefault()
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return c, nil
}

// LoadFromEnv overlays environment-variable overrides onto c.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("ARCHIVIST_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("ARCHIVIST_UPLOAD_PATH"); val != "" {
		c.Storage.UploadPath = val
	}
	if val := os.Getenv("ARCHIVIST_DATABASE_DSN"); val != "" {
		c.Database.DSN = val
	}
	if val := os.Getenv("ARCHIVIST_CONCURRENT_OCR_JOBS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.OCR.ConcurrentJobs = n
		}
	}
	if val := os.Getenv("ARCHIVIST_WATCH_INTERVAL_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Sync.WatchIntervalSeconds = n
		}
	}
}

// SaveToFile writes c as YAML to filename, creating parent directories.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for internally-inconsistent or
// out-of-range values, accumulating every problem before returning.
func (c *Configuration) Validate() error {
	var problems []string

	if c.Storage.UploadPath == "" {
		problems = append(problems, "storage.upload_path must not be empty")
	}
	if c.Storage.MaxFileSizeMB <= 0 {
		problems = append(problems, "storage.max_file_size_mb must be greater than 0")
	}
	if c.Database.DSN == "" {
		problems = append(problems, "database.dsn must not be empty")
	}
	if c.OCR.ConcurrentJobs <= 0 {
		problems = append(problems, "ocr.concurrent_jobs must be greater than 0")
	}
	if c.OCR.TimeoutSeconds <= 0 {
		problems = append(problems, "ocr.timeout_seconds must be greater than 0")
	}
	if c.Sync.WatchIntervalSeconds <= 0 {
		problems = append(problems, "sync.watch_interval_seconds must be greater than 0")
	}
	if c.Sync.TargetedScanThreshold <= 0 || c.Sync.TargetedScanThreshold > 1 {
		problems = append(problems, "sync.targeted_scan_threshold must be in (0, 1]")
	}
	if c.Sync.MaxConcurrentFiles <= 0 {
		problems = append(problems, "sync.max_concurrent_files must be greater than 0")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		problems = append(problems, fmt.Sprintf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", ")))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
