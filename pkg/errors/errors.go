// Package errors provides a structured error system for the ingestion engine
// with stable kinds, retryability hints, and operational context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind is a stable, switchable error classification. Callers should branch on
// Kind (via errors.Is against a sentinel built from the same Kind, or via
// KindOf) rather than on message text.
type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindDuplicate  Kind = "DUPLICATE"
	KindConflict   Kind = "CONFLICT"
	KindLeaseLost  Kind = "LEASE_LOST"
	KindCancelled  Kind = "CANCELLED"
	KindTimeout    Kind = "TIMEOUT"
	KindInternal   Kind = "INTERNAL"

	// Transient subkinds (§7): retriable.
	KindNetwork          Kind = "TRANSIENT_NETWORK"
	KindRemoteUnavailable Kind = "TRANSIENT_REMOTE_UNAVAILABLE"
	KindRateLimited      Kind = "TRANSIENT_RATE_LIMITED"

	// Permanent subkinds (§7): non-retriable.
	KindUnsupportedFormat Kind = "PERMANENT_UNSUPPORTED_FORMAT"
	KindFileCorrupted     Kind = "PERMANENT_FILE_CORRUPTED"
	KindAccessDenied      Kind = "PERMANENT_ACCESS_DENIED"
	KindValidation        Kind = "PERMANENT_VALIDATION"
)

// Category buckets kinds for coarse-grained handling (logging, metrics).
type Category string

const (
	CategoryState     Category = "state"
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
	CategoryInternal  Category = "internal"
)

// Error is the engine's structured error type. It is always constructed
// through New/Wrap so Kind, Category and Retryable stay consistent.
type Error struct {
	Kind      Kind                   `json:"kind"`
	Category  Category               `json:"category"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Context   map[string]string      `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	Retryable bool                   `json:"retryable"`
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Category:  categoryOf(kind),
		Message:   message,
		Timestamp: time.Now().UTC(),
		Retryable: retryableByDefault(kind),
	}
}

// Wrap creates an Error of the given kind carrying cause as its wrapped error.
func Wrap(kind Kind, cause error, message string) *Error {
	return New(kind, message).WithCause(cause)
}

func (e *Error) Error() string {
	if e.Component != "" && e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Kind, e.Message)
	}
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/As to see through to the cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// JSON renders the error as a JSON object, omitting the unexported cause.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

func (e *Error) WithComponent(component string) *Error { e.Component = component; return e }
func (e *Error) WithOperation(operation string) *Error { e.Operation = operation; return e }
func (e *Error) WithCause(cause error) *Error           { e.Cause = cause; return e }

func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func categoryOf(kind Kind) Category {
	switch kind {
	case KindNotFound, KindDuplicate, KindConflict, KindLeaseLost, KindCancelled, KindTimeout:
		return CategoryState
	case KindNetwork, KindRemoteUnavailable, KindRateLimited:
		return CategoryTransient
	case KindUnsupportedFormat, KindFileCorrupted, KindAccessDenied, KindValidation:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

func retryableByDefault(kind Kind) bool {
	switch kind {
	case KindNetwork, KindRemoteUnavailable, KindRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; the zero Kind otherwise.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}

// IsRetryable reports whether err is (or wraps) an *Error marked Retryable.
func IsRetryable(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Retryable
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// String renders a detailed, log-friendly representation.
func (e *Error) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("kind=%s", e.Kind))
	parts = append(parts, fmt.Sprintf("category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("message=%q", e.Message))
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("Error{%s}", strings.Join(parts, ", "))
}
