// Package domain contains the core types of the orchestration layer.
// These models are independent of any media engine, tool or UI toolkit.
package domain

import (
	"fmt"
	"math"
)

// Transport is the playback state of the session.
type Transport int

const (
	TransportIdle Transport = iota
	TransportLoading
	TransportPlaying
	TransportPaused
	TransportEnded
	TransportError
)

// String returns a string representation of the transport state.
func (t Transport) String() string {
	switch t {
	case TransportIdle:
		return "Idle"
	case TransportLoading:
		return "Loading"
	case TransportPlaying:
		return "Playing"
	case TransportPaused:
		return "Paused"
	case TransportEnded:
		return "Ended"
	case TransportError:
		return "Error"
	default:
		return "Unknown"
	}
}

// SessionState is a snapshot of the session.
type SessionState struct {
	// NowPlaying is the id of the queue's current item, empty when nothing is selected.
	NowPlaying string

	// Transport is the playback state.
	Transport Transport

	// Reason explains TransportError.
	Reason string

	// FailureKind classifies TransportError.
	FailureKind FailureKind

	// PositionSeconds is the last known playback offset.
	PositionSeconds float64

	// Generation increments on every item change; results carrying an older
	// generation are discarded.
	Generation uint64
}

// Direction is the traversal direction of the queue.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	if d == Reverse {
		return "Reverse"
	}
	return "Forward"
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Reverse {
		return Forward
	}
	return Reverse
}

// BackendHandle is an opaque handle to media loaded in a backend.
type BackendHandle int64

// InvalidBackendHandle represents no loaded media.
const InvalidBackendHandle BackendHandle = 0

// BackendEventKind identifies an asynchronous backend event.
type BackendEventKind int

const (
	BackendPositionUpdate BackendEventKind = iota
	BackendEndOfMedia
	BackendFailure
)

// String returns a string representation of the backend event kind.
func (k BackendEventKind) String() string {
	switch k {
	case BackendPositionUpdate:
		return "PositionUpdate"
	case BackendEndOfMedia:
		return "EndOfMedia"
	case BackendFailure:
		return "Error"
	default:
		return "Unknown"
	}
}

// BackendEvent is emitted by a media backend for a loaded handle.
type BackendEvent struct {
	Kind     BackendEventKind
	Handle   BackendHandle
	Position float64 // Seconds, for BackendPositionUpdate
	Err      error   // For BackendFailure
}

// ResumeState is the persisted minimum needed to restore a session.
type ResumeState struct {
	Items           []ItemSnapshot `yaml:"items"`
	Cursor          int            `yaml:"cursor"`
	Shuffle         bool           `yaml:"shuffle"`
	Order           []int          `yaml:"order,omitempty"`
	Reverse         bool           `yaml:"reverse"`
	Wrap            bool           `yaml:"wrap"`
	NowPlaying      string         `yaml:"now_playing,omitempty"`
	PositionSeconds float64        `yaml:"position_seconds"`
}

// IsEmpty reports whether there is nothing to restore.
func (r ResumeState) IsEmpty() bool {
	return len(r.Items) == 0
}

// FormatTimestamp renders seconds as MM:SS, or HH:MM:SS when includeHour is
// set or the value exceeds an hour.
func FormatTimestamp(seconds float64, includeHour bool) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if includeHour || h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
