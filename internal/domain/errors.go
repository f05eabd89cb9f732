// Package domain defines domain-specific errors.
// These errors represent orchestration failures and are independent of infrastructure.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors that services can return.
var (
	// ErrQueueEmpty is returned when queue operations are attempted on an empty queue.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrEndOfQueue is returned when traversal reaches an end of the queue and wrap is off.
	ErrEndOfQueue = errors.New("end of queue reached")

	// ErrInvalidIndex is returned when a queue index is out of bounds.
	ErrInvalidIndex = errors.New("invalid queue index")

	// ErrItemNotFound is returned when an item id is not present in the queue.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidTransition is returned when a resolution state change is not allowed.
	ErrInvalidTransition = errors.New("invalid resolution state transition")

	// ErrInvalidSource is returned when a source cannot be used for the requested operation.
	ErrInvalidSource = errors.New("invalid media source")

	// ErrUnsupportedFormat is returned when a local file extension is not playable.
	ErrUnsupportedFormat = errors.New("unsupported media format")

	// ErrFileNotFound is returned when a file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidInput is returned when user input is neither a path nor a supported URL.
	ErrInvalidInput = errors.New("input is neither a local file nor a remote url")

	// ErrNoFormats is returned when probing finds nothing downloadable.
	ErrNoFormats = errors.New("no downloadable formats")

	// ErrNoEntries is returned when a playlist expands to nothing.
	ErrNoEntries = errors.New("playlist has no entries")

	// ErrToolMissing is returned when a required external executable cannot be found.
	ErrToolMissing = errors.New("external tool not found")

	// ErrNoDestination is returned when a fetch succeeds but reports no output file.
	ErrNoDestination = errors.New("tool reported no destination file")

	// ErrCancelled is returned when work was abandoned on request.
	ErrCancelled = errors.New("cancelled")

	// ErrTimedOut is returned when a subprocess exceeded its time limit.
	ErrTimedOut = errors.New("timed out")

	// ErrRunnerClosed is returned when a job is submitted after runner shutdown.
	ErrRunnerClosed = errors.New("job runner is closed")

	// ErrPipelineClosed is returned when a download is submitted after pipeline shutdown.
	ErrPipelineClosed = errors.New("download pipeline is closed")

	// ErrSessionClosed is returned when an intent is issued after session shutdown.
	ErrSessionClosed = errors.New("session is closed")

	// ErrInvalidHandle is returned when a backend operation uses an unknown handle.
	ErrInvalidHandle = errors.New("invalid backend handle")

	// ErrSeekUnsupported is returned by backends that cannot seek.
	ErrSeekUnsupported = errors.New("seek not supported by backend")

	// ErrInvalidPosition is returned when seeking to an invalid position.
	ErrInvalidPosition = errors.New("invalid playback position")
)

// FailureKind is the error taxonomy surfaced on items and the session transport.
type FailureKind int

const (
	// FailureNone means no failure was recorded.
	FailureNone FailureKind = iota
	// FailureResolution covers remote lookup and probe failures.
	FailureResolution
	// FailureDownload covers fetch and mux failures after retries.
	FailureDownload
	// FailureBackend covers the media backend rejecting a resolved source.
	FailureBackend
	// FailureConfiguration covers a required tool or capability being absent.
	FailureConfiguration
	// FailureCancelled covers work abandoned by the user.
	FailureCancelled
)

// String returns the taxonomy name of the kind.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "None"
	case FailureResolution:
		return "ResolutionError"
	case FailureDownload:
		return "DownloadError"
	case FailureBackend:
		return "BackendError"
	case FailureConfiguration:
		return "ConfigurationError"
	case FailureCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// MediaError is a classified failure attached to an item or the session.
type MediaError struct {
	Kind    FailureKind
	Op      string // Operation that failed (e.g., "probe", "fetch", "load")
	ItemID  string // Item the failure belongs to (if any)
	Message string
	Err     error
}

// Error implements the error interface.
func (e *MediaError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.ItemID != "" {
		fmt.Fprintf(&b, " [%s]", e.ItemID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *MediaError) Unwrap() error {
	return e.Err
}

// Is matches a target MediaError of the same kind, and the same op when the
// target names one: errors.Is(err, &MediaError{Kind: FailureResolution}).
func (e *MediaError) Is(target error) bool {
	t, ok := target.(*MediaError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// NewMediaError creates a new MediaError.
func NewMediaError(kind FailureKind, op, itemID, message string, err error) *MediaError {
	return &MediaError{
		Kind:    kind,
		Op:      op,
		ItemID:  itemID,
		Message: message,
		Err:     err,
	}
}

// KindOf classifies an arbitrary error into the taxonomy.
// Errors that carry no classification are reported as FailureDownload.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var me *MediaError
	if errors.As(err, &me) {
		return me.Kind
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return FailureCancelled
	case errors.Is(err, ErrToolMissing):
		return FailureConfiguration
	case errors.Is(err, ErrNoFormats), errors.Is(err, ErrNoEntries):
		return FailureResolution
	}
	return FailureDownload
}

// Reason returns a short user-facing reason string for an error.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var me *MediaError
	if errors.As(err, &me) && me.Message != "" {
		return me.Message
	}
	return err.Error()
}

// ToolError describes a non-zero exit or abnormal end of an external tool.
// It carries the captured output so failure classification can inspect it.
type ToolError struct {
	Tool   string
	Status JobStatus
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Tool, strings.ToLower(e.Status.State.String()))
	if e.Status.State == JobFailed || e.Status.State == JobSucceeded {
		msg += fmt.Sprintf(" (exit code %d)", e.Status.ExitCode)
	}
	if line := e.Status.LastErrorLine(); line != "" {
		msg += ": " + line
	}
	return msg
}

// Unwrap maps terminal job states onto sentinel errors.
func (e *ToolError) Unwrap() error {
	switch e.Status.State {
	case JobKilled:
		return ErrCancelled
	case JobTimedOut:
		return ErrTimedOut
	}
	return e.Status.Err
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s (value: %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ServiceError represents an error from a service layer operation.
type ServiceError struct {
	Service string
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service %s.%s failed: %s: %v", e.Service, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("service %s.%s failed: %s", e.Service, e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(service, op, message string, err error) *ServiceError {
	return &ServiceError{
		Service: service,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
