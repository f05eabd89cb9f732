// Package external implements the media backend by launching an external
// player (mpv by default) through the job runner.
//
// The player process is the rendering engine: its exit is end of media, pause
// suspends its process tree, and seeking restarts it at the new offset when
// the argument template supports a start position.
package external

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tejashwikalptaru/pomelo/internal/adapter/process"
	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// Argument placeholders.
const (
	PlaceholderInput = "{input}"
	PlaceholderAudio = "{audio}"
	PlaceholderStart = "{start}"
)

// Config holds player settings.
type Config struct {
	// Command is the player executable.
	Command string

	// Args is the argument template. An argument containing {audio} is
	// dropped when there is no separate audio file.
	Args []string

	// PositionInterval is how often position updates are emitted.
	PositionInterval time.Duration
}

// DefaultConfig returns a configuration for mpv.
func DefaultConfig() Config {
	return Config{
		Command:          "mpv",
		Args:             []string{"--no-terminal", "--start=" + PlaceholderStart, "--audio-file=" + PlaceholderAudio, PlaceholderInput},
		PositionInterval: time.Second,
	}
}

// Player is a MediaBackend backed by an external player process.
type Player struct {
	logger *slog.Logger
	runner ports.JobRunner
	cfg    Config

	mu     sync.Mutex
	media  map[domain.BackendHandle]*media
	next   domain.BackendHandle
	closed bool

	events chan domain.BackendEvent
	stop   chan struct{}
	wg     sync.WaitGroup
}

type media struct {
	paths   []string
	job     ports.JobHandle // nil while not running
	gen     int             // identifies the current job for its exit watcher
	offset  float64         // position when the job started or paused
	started time.Time       // zero unless advancing
	paused  bool
}

// NewPlayer creates a new external player backend.
func NewPlayer(logger *slog.Logger, runner ports.JobRunner, cfg Config) *Player {
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = time.Second
	}
	p := &Player{
		logger: logger,
		runner: runner,
		cfg:    cfg,
		media:  make(map[domain.BackendHandle]*media),
		next:   1,
		events: make(chan domain.BackendEvent, 64),
		stop:   make(chan struct{}),
	}

	p.wg.Add(1)
	go p.reportPositions()
	return p
}

// Load registers the files. The player starts on Play.
func (p *Player) Load(paths []string) (domain.BackendHandle, error) {
	if len(paths) == 0 || len(paths) > 2 {
		return domain.InvalidBackendHandle, domain.ErrInvalidSource
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return domain.InvalidBackendHandle, fmt.Errorf("player backend closed")
	}
	h := p.next
	p.next++
	p.media[h] = &media{paths: append([]string(nil), paths...)}
	return h, nil
}

// Play starts the player, or resumes a suspended one.
func (p *Player) Play(handle domain.BackendHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.media[handle]
	if !ok {
		return domain.ErrInvalidHandle
	}
	if m.job != nil {
		if !m.paused {
			return nil
		}
		if err := process.Resume(m.job.Status().PID); err != nil {
			return fmt.Errorf("resume player: %w", err)
		}
		m.paused = false
		m.started = time.Now()
		return nil
	}
	return p.startLocked(handle, m)
}

// Pause suspends the player process tree.
func (p *Player) Pause(handle domain.BackendHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.media[handle]
	if !ok {
		return domain.ErrInvalidHandle
	}
	if m.job == nil || m.paused {
		return nil
	}
	pid := m.job.Status().PID
	if pid == 0 {
		return fmt.Errorf("suspend player: process not started")
	}
	if err := process.Suspend(pid); err != nil {
		return fmt.Errorf("suspend player: %w", err)
	}
	m.offset = m.position()
	m.started = time.Time{}
	m.paused = true
	return nil
}

// Stop terminates the player and releases the handle.
func (p *Player) Stop(handle domain.BackendHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.media[handle]
	if !ok {
		return domain.ErrInvalidHandle
	}
	p.killLocked(m)
	delete(p.media, handle)
	return nil
}

// Seek restarts the player at seconds. Templates without {start} cannot seek.
func (p *Player) Seek(handle domain.BackendHandle, seconds float64) error {
	if !p.canSeek() {
		return domain.ErrSeekUnsupported
	}
	if seconds < 0 {
		return domain.ErrInvalidPosition
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.media[handle]
	if !ok {
		return domain.ErrInvalidHandle
	}
	running := m.job != nil && !m.paused
	p.killLocked(m)
	m.offset = seconds
	if running {
		return p.startLocked(handle, m)
	}
	return nil
}

// Events returns the event channel.
func (p *Player) Events() <-chan domain.BackendEvent {
	return p.events
}

// Close stops every player and closes the event channel.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for h, m := range p.media {
		p.killLocked(m)
		delete(p.media, h)
	}
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.events)
	return nil
}

func (p *Player) canSeek() bool {
	for _, a := range p.cfg.Args {
		if strings.Contains(a, PlaceholderStart) {
			return true
		}
	}
	return false
}

// startLocked launches the player for m. Caller holds p.mu.
func (p *Player) startLocked(handle domain.BackendHandle, m *media) error {
	spec := domain.JobSpec{Command: p.cfg.Command, Args: expandArgs(p.cfg.Args, m.paths, m.offset)}
	job := p.runner.Run(spec, 0, nil)

	select {
	case <-job.Done():
		if st := job.Status(); st.PID == 0 {
			return &domain.ToolError{Tool: p.cfg.Command, Status: st}
		}
	default:
	}

	m.gen++
	m.job = job
	m.paused = false
	m.started = time.Now()

	p.wg.Add(1)
	go p.watch(handle, m.gen, job)

	p.logger.Debug("player started",
		slog.Int64("handle", int64(handle)),
		slog.Float64("start", m.offset),
		slog.String("command", spec.String()))
	return nil
}

// killLocked stops m's job without reporting its exit. Caller holds p.mu.
func (p *Player) killLocked(m *media) {
	if m.job == nil {
		return
	}
	job := m.job
	if m.paused {
		// A stopped process would sit on SIGTERM until the kill escalation.
		_ = process.Resume(job.Status().PID)
	}
	m.offset = m.position()
	m.job = nil
	m.gen++
	m.paused = false
	m.started = time.Time{}
	job.Cancel()
}

// watch reports the exit of a player job unless it was superseded.
func (p *Player) watch(handle domain.BackendHandle, gen int, job ports.JobHandle) {
	defer p.wg.Done()
	<-job.Done()
	st := job.Status()

	p.mu.Lock()
	m, ok := p.media[handle]
	if !ok || m.gen != gen {
		p.mu.Unlock()
		return
	}
	m.offset = m.position()
	m.job = nil
	m.started = time.Time{}
	p.mu.Unlock()

	ev := domain.BackendEvent{Kind: domain.BackendEndOfMedia, Handle: handle}
	if st.State != domain.JobSucceeded {
		ev = domain.BackendEvent{
			Kind:   domain.BackendFailure,
			Handle: handle,
			Err:    &domain.ToolError{Tool: p.cfg.Command, Status: st},
		}
	}
	select {
	case p.events <- ev:
	case <-p.stop:
	}
}

func (p *Player) reportPositions() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PositionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		updates := make([]domain.BackendEvent, 0, len(p.media))
		for h, m := range p.media {
			if m.job != nil && !m.paused {
				updates = append(updates, domain.BackendEvent{
					Kind:     domain.BackendPositionUpdate,
					Handle:   h,
					Position: m.position(),
				})
			}
		}
		p.mu.Unlock()

		for _, ev := range updates {
			select {
			case p.events <- ev:
			default:
				// Position updates are lossy; the next tick supersedes this one.
			}
		}
	}
}

func (m *media) position() float64 {
	if m.started.IsZero() {
		return m.offset
	}
	return m.offset + time.Since(m.started).Seconds()
}

func expandArgs(template, paths []string, start float64) []string {
	audio := ""
	if len(paths) > 1 {
		audio = paths[1]
	}
	out := make([]string, 0, len(template))
	for _, a := range template {
		if strings.Contains(a, PlaceholderAudio) && audio == "" {
			continue
		}
		a = strings.ReplaceAll(a, PlaceholderInput, paths[0])
		a = strings.ReplaceAll(a, PlaceholderAudio, audio)
		a = strings.ReplaceAll(a, PlaceholderStart, strconv.FormatFloat(start, 'f', 3, 64))
		out = append(out, a)
	}
	return out
}

// Verify that Player implements the MediaBackend interface
var _ ports.MediaBackend = (*Player)(nil)
