package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the owner of Sources and Documents (§3).
type User struct {
	ID          uuid.UUID
	DisplayName string
	Role        Role
	CreatedAt   time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Source is a configured remote location the engine ingests documents
// from (§3). Config is a type-specific payload; see SourceConfig.
type Source struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string
	Type   SourceType
	Config SourceConfig

	Status      SourceStatus
	LastError   string
	LastSyncAt  *time.Time

	FilesSynced  int64
	FilesPending int64
	BytesTotal   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SourceConfig is the type-specific configuration carried by a Source.
// Exactly one of WebDAV, S3, LocalFolder is populated, matching Type.
type SourceConfig struct {
	WebDAV      *WebDAVConfig      `json:"webdav,omitempty"`
	S3          *S3SourceConfig    `json:"s3,omitempty"`
	LocalFolder *LocalFolderConfig `json:"local_folder,omitempty"`

	WatchFolders     []string `json:"watch_folders"`
	FileExtensions   []string `json:"file_extensions"` // allow list, empty = all
	AutoSync         bool     `json:"auto_sync"`
	SyncIntervalSecs int      `json:"sync_interval_seconds"`

	// RateLimitPerSecond caps this source's adapter calls (List+Download
	// combined) per second; zero means unlimited (§5, §9 — left to the
	// implementer, exposed per-source rather than enforced by the core).
	RateLimitPerSecond float64 `json:"rate_limit_per_second,omitempty"`
	RateLimitBurst     int     `json:"rate_limit_burst,omitempty"`
}

// WebDAVConfig is the type-specific configuration for a WebDAV source.
type WebDAVConfig struct {
	ServerURL  string `json:"server_url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	ServerType string `json:"server_type"` // "nextcloud", "owncloud", "generic"
}

// S3SourceConfig is the type-specific configuration for an S3 source used
// as a document origin (distinct from the engine's own Blob Store).
type S3SourceConfig struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	ForcePathStyle  bool   `json:"force_path_style"`
}

// LocalFolderConfig is the type-specific configuration for a local-folder
// source.
type LocalFolderConfig struct {
	RootPath string `json:"root_path"`
}

// Document is a single ingested, content-addressed file (§3).
type Document struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Filename         string
	OriginalFilename string
	BlobPath         string // relative to the Blob Store root
	Size             int64
	MimeType         string
	ContentHash      [32]byte // SHA-256
	Tags             []string // ordered, deduplicated

	OCRStatus            OCRStatus
	OCRText              string
	OCRConfidence        float64
	OCRWordCount         int
	OCRProcessingTimeMS  int64
	OCRError             string
	OCRFailureReason     FailureReason
	OCRCompletedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DirectoryFingerprint records the last-observed ETag of a remote
// directory so the next sync can skip unchanged subtrees (§3).
type DirectoryFingerprint struct {
	UserID        uuid.UUID
	SourceID      uuid.UUID
	DirectoryPath string
	ETag          string
	FileCount     int
	TotalBytes    int64
	UpdatedAt     time.Time
}

// OCRQueueItem is one unit of OCR work, persisted with lease-based claim
// semantics (§3, §4.D).
type OCRQueueItem struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	Priority    int
	Status      QueueItemStatus
	Attempts    int
	MaxAttempts int
	WorkerID    string
	ClaimedAt   *time.Time
	VisibleAfter time.Time
	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// FailedDocument is an append-only record of an ingestion or OCR run that
// could not produce a usable Document (§3). Never mutated after insertion.
type FailedDocument struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Filename        string
	Stage           FailureStage
	Reason          FailureReason
	ErrorMessage    string
	IngestionSource string
	CreatedAt       time.Time
}

// DefaultMaxAttempts is the default retry ceiling for a new queue item.
const DefaultMaxAttempts = 3
