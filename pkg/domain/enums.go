package domain

// Role is a User's authorization level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// SourceType identifies the kind of remote document store a Source points at.
type SourceType string

const (
	SourceTypeWebDAV      SourceType = "webdav"
	SourceTypeS3          SourceType = "s3"
	SourceTypeLocalFolder SourceType = "local_folder"
)

// SourceStatus reflects the Scheduler's view of a Source's sync activity.
// It is mutated only by the Scheduler (see internal/scheduler).
type SourceStatus string

const (
	SourceStatusIdle    SourceStatus = "idle"
	SourceStatusSyncing SourceStatus = "syncing"
	SourceStatusError   SourceStatus = "error"
)

// OCRStatus tracks the lifecycle of OCR extraction for a Document.
type OCRStatus string

const (
	OCRStatusPending    OCRStatus = "pending"
	OCRStatusProcessing OCRStatus = "processing"
	OCRStatusCompleted  OCRStatus = "completed"
	OCRStatusFailed     OCRStatus = "failed"
)

// QueueItemStatus is the lifecycle state of an OcrQueueItem (§4.D).
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemProcessing QueueItemStatus = "processing"
	QueueItemCompleted  QueueItemStatus = "completed"
	QueueItemFailed     QueueItemStatus = "failed"
	QueueItemCancelled  QueueItemStatus = "cancelled"
)

// FailureStage identifies where a FailedDocument record originated.
type FailureStage string

const (
	FailureStageIngestion FailureStage = "ingestion"
	FailureStageOCR       FailureStage = "ocr"
)

// FailureReason is the categorized reason an OCR run or ingestion could
// not produce a usable Document (§4.D, §7).
type FailureReason string

const (
	ReasonLowConfidence      FailureReason = "low_confidence"
	ReasonTimeout            FailureReason = "timeout"
	ReasonMemoryLimit        FailureReason = "memory_limit"
	ReasonPdfParsing         FailureReason = "pdf_parsing"
	ReasonFileCorrupted      FailureReason = "file_corrupted"
	ReasonUnsupportedFormat  FailureReason = "unsupported_format"
	ReasonAccessDenied       FailureReason = "access_denied"
	ReasonOther              FailureReason = "other"
)

// Retriable reports whether a job that failed for this reason should be
// retried, per the classification table in spec.md §4.D.
func (r FailureReason) Retriable() bool {
	switch r {
	case ReasonTimeout, ReasonMemoryLimit:
		return true
	default:
		return false
	}
}

// CancellationReason records why a sync was cancelled (§5). UserRequested
// and ServerShutdown never retry; the others may.
type CancellationReason string

const (
	CancelUserRequested    CancellationReason = "user_requested"
	CancelServerShutdown   CancellationReason = "server_shutdown"
	CancelNetworkError     CancellationReason = "network_error"
	CancelTimeout          CancellationReason = "timeout"
	CancelResourceExhausted CancellationReason = "resource_exhausted"
)

// Retriable reports whether a cancellation of this kind may be retried.
func (c CancellationReason) Retriable() bool {
	switch c {
	case CancelUserRequested, CancelServerShutdown:
		return false
	default:
		return true
	}
}

// SyncPhase is a Smart Sync cycle's current stage, surfaced through
// SyncProgress (§4.F).
type SyncPhase string

const (
	PhaseInitializing          SyncPhase = "initializing"
	PhaseEvaluating            SyncPhase = "evaluating"
	PhaseDiscoveringDirectories SyncPhase = "discovering_directories"
	PhaseProcessingFiles       SyncPhase = "processing_files"
	PhaseSavingMetadata        SyncPhase = "saving_metadata"
	PhaseCompleted             SyncPhase = "completed"
	PhaseFailed                SyncPhase = "failed"
)

// SyncStrategy is Smart Sync's chosen approach for one watch folder (§4.F).
type SyncStrategy string

const (
	StrategyFullDeepScan   SyncStrategy = "full_deep_scan"
	StrategyTargetedScan   SyncStrategy = "targeted_scan"
	StrategyNone           SyncStrategy = "none" // nothing to do, ETag unchanged
)
