// Package mock provides a mock implementation of the MediaBackend interface.
// It is used for testing the session without a real player, and by the CLI's
// dry-run mode.
package mock

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// eventBuffer is large enough that tests never block on an undrained channel.
const eventBuffer = 256

// Backend is a mock implementation of the MediaBackend interface.
// It keeps loaded media in memory and emits events only when told to.
//
// Thread-safety: This implementation is thread-safe.
type Backend struct {
	logger *slog.Logger

	media      map[domain.BackendHandle]*mockMedia
	nextHandle domain.BackendHandle
	loads      [][]string
	events     chan domain.BackendEvent
	closed     bool
	mu         sync.RWMutex

	// Behavior configuration (for testing error scenarios)
	failLoad    bool
	failPlay    bool
	rejectPaths map[string]bool
}

type mockMedia struct {
	paths    []string
	position float64
	playing  bool
}

// NewBackend creates a new mock backend.
func NewBackend() *Backend {
	return &Backend{
		media:       make(map[domain.BackendHandle]*mockMedia),
		nextHandle:  1,
		events:      make(chan domain.BackendEvent, eventBuffer),
		rejectPaths: make(map[string]bool),
	}
}

// SetLogger sets the logger for this backend.
func (b *Backend) SetLogger(logger *slog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// SetFailLoad makes every Load fail.
func (b *Backend) SetFailLoad(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failLoad = fail
}

// SetFailPlay makes every Play fail.
func (b *Backend) SetFailPlay(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPlay = fail
}

// RejectPath makes Load fail for sources containing path, as if the codec
// were unsupported.
func (b *Backend) RejectPath(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectPaths[path] = true
}

// Load records the paths and returns a new handle.
func (b *Backend) Load(paths []string) (domain.BackendHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domain.InvalidBackendHandle, fmt.Errorf("mock backend closed")
	}
	if len(paths) == 0 || len(paths) > 2 {
		return domain.InvalidBackendHandle, domain.ErrInvalidSource
	}
	if b.failLoad {
		return domain.InvalidBackendHandle, fmt.Errorf("mock load failed")
	}
	for _, p := range paths {
		if b.rejectPaths[p] {
			return domain.InvalidBackendHandle, fmt.Errorf("unsupported codec in %s", p)
		}
	}

	h := b.nextHandle
	b.nextHandle++
	b.media[h] = &mockMedia{paths: append([]string(nil), paths...)}
	b.loads = append(b.loads, append([]string(nil), paths...))

	if b.logger != nil {
		b.logger.Debug("mock media loaded", slog.Int64("handle", int64(h)), slog.Any("paths", paths))
	}
	return h, nil
}

// Play marks the media as playing.
func (b *Backend) Play(handle domain.BackendHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.media[handle]
	if !ok {
		return domain.ErrInvalidHandle
	}
	if b.failPlay {
		return fmt.Errorf("mock play failed")
	}
	m.playing = true
	return nil
}

// Pause marks the media as paused.
func (b *Backend) Pause(handle domain.BackendHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.media[handle]
	if !ok {
		return domain.ErrInvalidHandle
	}
	m.playing = false
	return nil
}

// Stop releases the handle.
func (b *Backend) Stop(handle domain.BackendHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.media[handle]; !ok {
		return domain.ErrInvalidHandle
	}
	delete(b.media, handle)
	return nil
}

// Seek sets the position.
func (b *Backend) Seek(handle domain.BackendHandle, seconds float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.media[handle]
	if !ok {
		return domain.ErrInvalidHandle
	}
	if seconds < 0 {
		return domain.ErrInvalidPosition
	}
	m.position = seconds
	return nil
}

// Events returns the event channel.
func (b *Backend) Events() <-chan domain.BackendEvent {
	return b.events
}

// Close releases all media and closes the event channel.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.media = make(map[domain.BackendHandle]*mockMedia)
	close(b.events)
	return nil
}

// Helper methods for testing

// Loads returns every path set passed to Load, in order.
func (b *Backend) Loads() [][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([][]string, len(b.loads))
	copy(out, b.loads)
	return out
}

// Loaded returns the number of handles currently held.
func (b *Backend) Loaded() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.media)
}

// Playing returns the handle that is currently playing, if any.
func (b *Backend) Playing() (domain.BackendHandle, []string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for h, m := range b.media {
		if m.playing {
			return h, append([]string(nil), m.paths...), true
		}
	}
	return domain.InvalidBackendHandle, nil, false
}

// Position returns the position of a handle.
func (b *Backend) Position(handle domain.BackendHandle) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.media[handle]
	if !ok {
		return 0, domain.ErrInvalidHandle
	}
	return m.position, nil
}

// SimulateProgress advances a handle and emits a PositionUpdate.
func (b *Backend) SimulateProgress(handle domain.BackendHandle, delta float64) error {
	b.mu.Lock()
	m, ok := b.media[handle]
	if !ok {
		b.mu.Unlock()
		return domain.ErrInvalidHandle
	}
	m.position += delta
	pos := m.position
	b.mu.Unlock()

	return b.emit(domain.BackendEvent{Kind: domain.BackendPositionUpdate, Handle: handle, Position: pos})
}

// SimulateEnd emits EndOfMedia for a handle.
func (b *Backend) SimulateEnd(handle domain.BackendHandle) error {
	return b.emit(domain.BackendEvent{Kind: domain.BackendEndOfMedia, Handle: handle})
}

// SimulateError emits an Error event for a handle.
func (b *Backend) SimulateError(handle domain.BackendHandle, err error) error {
	return b.emit(domain.BackendEvent{Kind: domain.BackendFailure, Handle: handle, Err: err})
}

func (b *Backend) emit(ev domain.BackendEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("mock backend closed")
	}
	select {
	case b.events <- ev:
		return nil
	default:
		return fmt.Errorf("mock backend event buffer full")
	}
}

// Verify that Backend implements the MediaBackend interface
var _ ports.MediaBackend = (*Backend)(nil)
