// Package ports define interfaces for dependency inversion.
// These interfaces keep the orchestration core independent of media engines,
// external tools and storage.
package ports

import (
	"github.com/tejashwikalptaru/pomelo/internal/domain"
)

// MediaBackend is the decode-and-render capability the session drives.
// The core never decodes media itself.
//
// Implementations must be thread-safe. Events are delivered on the channel
// returned by Events and always carry the handle they belong to, so consumers
// can ignore events for media they already unloaded.
type MediaBackend interface {
	// Load prepares local files for playback and returns a handle.
	// paths holds one file, or a video file followed by a separate audio file.
	//
	// Returns an error if the backend rejects the source (e.g. unsupported codec).
	Load(paths []string) (domain.BackendHandle, error)

	// Play starts or resumes playback of a loaded handle.
	Play(handle domain.BackendHandle) error

	// Pause pauses playback, keeping the position.
	Pause(handle domain.BackendHandle) error

	// Stop stops playback and releases the handle.
	// Stopping an unknown handle returns domain.ErrInvalidHandle.
	Stop(handle domain.BackendHandle) error

	// Seek moves the playback position to seconds from the start.
	Seek(handle domain.BackendHandle, seconds float64) error

	// Events returns the channel of asynchronous backend events
	// (PositionUpdate, EndOfMedia, Error).
	Events() <-chan domain.BackendEvent

	// Close releases all backend resources and closes the event channel.
	Close() error
}
