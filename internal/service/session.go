package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// Resolver turns remote items into playable sources.
// *DownloadPipeline implements it.
type Resolver interface {
	// Submit starts or joins the download of item. created reports whether
	// the caller owns the job.
	Submit(item *domain.MediaItem) (job *DownloadJob, created bool)

	// Expand lists the entries of a playlist item.
	Expand(ctx context.Context, item *domain.MediaItem) ([]*domain.MediaItem, error)
}

// SessionConfig configures the session.
type SessionConfig struct {
	// AutoAdvanceOnError moves to the next item after a failure.
	AutoAdvanceOnError bool

	// MaxConsecutiveFailures stops auto-advance after this many failures in a row.
	MaxConsecutiveFailures int

	// SaveInterval is how often resume state is saved while playing. Zero disables it.
	SaveInterval time.Duration
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AutoAdvanceOnError:     true,
		MaxConsecutiveFailures: 3,
		SaveInterval:           15 * time.Second,
	}
}

// loadingOp is the resolution in flight for the current item.
type loadingOp struct {
	gen     uint64
	item    *domain.MediaItem
	job     *DownloadJob // nil while a playlist expands
	created bool
	retried bool
	cancel  context.CancelFunc
}

type pendingSeek struct {
	itemID  string
	seconds float64
}

type intent struct {
	name  string
	fn    func() error
	reply chan error
}

// loadResult carries a finished resolution back to the control loop.
type loadResult struct {
	gen      uint64
	item     *domain.MediaItem
	outcome  domain.DownloadOutcome
	expanded bool
	entries  []*domain.MediaItem
	err      error
}

// Session is the playback state machine.
//
// A single control loop owns the queue, the backend handle and the loading
// state. Intents from the host, resolution results and backend events are all
// applied on that loop, so none of them race. Results carry the generation
// they were started under and are dropped once the session moved on.
type Session struct {
	id       string
	logger   *slog.Logger
	queue    *Queue
	resolver Resolver
	backend  ports.MediaBackend
	bus      ports.EventBus
	repo     ports.ResumeRepository // may be nil
	cfg      SessionConfig

	// Owned by the control loop.
	handle      domain.BackendHandle
	loading     *loadingOp
	failures    int
	seekOnStart *pendingSeek

	stateMu sync.RWMutex
	state   domain.SessionState

	intents   chan intent
	results   chan loadResult
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSession creates a session and starts its control loop. repo may be nil.
func NewSession(
	logger *slog.Logger,
	queue *Queue,
	resolver Resolver,
	backend ports.MediaBackend,
	bus ports.EventBus,
	repo ports.ResumeRepository,
	cfg SessionConfig,
) *Session {
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 1
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		logger:   logger.With(slog.String("service", "session"), slog.String("session_id", id)),
		queue:    queue,
		resolver: resolver,
		backend:  backend,
		bus:      bus,
		repo:     repo,
		cfg:      cfg,
		state:    domain.SessionState{Transport: domain.TransportIdle},
		intents:  make(chan intent),
		results:  make(chan loadResult),
		done:     make(chan struct{}),
	}
	if item, _, ok := queue.Current(); ok {
		s.state.NowPlaying = item.ID()
	}

	s.wg.Add(1)
	go s.run()

	s.logger.Debug("session started")
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns a snapshot of the session state.
func (s *Session) State() domain.SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Items returns the queue in canonical order.
func (s *Session) Items() []*domain.MediaItem {
	return s.queue.Items()
}

// Cursor returns the canonical index of the current item, -1 when empty.
func (s *Session) Cursor() int {
	return s.queue.Cursor()
}

// Shuffled reports whether shuffle is on.
func (s *Session) Shuffled() bool {
	return s.queue.Shuffled()
}

// Direction returns the traversal direction.
func (s *Session) Direction() domain.Direction {
	return s.queue.Direction()
}

// ResumeState captures what is needed to resume this session later.
func (s *Session) ResumeState() domain.ResumeState {
	rs := s.queue.Snapshot()
	st := s.State()
	rs.NowPlaying = st.NowPlaying
	rs.PositionSeconds = st.PositionSeconds
	return rs
}

// Enqueue appends items to the queue.
func (s *Session) Enqueue(items ...*domain.MediaItem) error {
	return s.do("enqueue", func() error {
		wasEmpty := s.queue.Len() == 0
		s.queue.Append(items...)
		if wasEmpty {
			if item, _, ok := s.queue.Current(); ok {
				s.bumpGeneration(item.ID())
			}
		}
		s.publishQueueChanged()
		return nil
	})
}

// Play starts the current item, or resumes it when paused. It does nothing
// while an item is playing or loading.
func (s *Session) Play() error {
	return s.do("play", func() error {
		switch s.transport() {
		case domain.TransportPaused:
			return s.resume()
		case domain.TransportPlaying, domain.TransportLoading:
			return nil
		}
		s.failures = 0
		s.startCurrent("play")
		return nil
	})
}

// PlayAt makes the item at index current and starts it.
func (s *Session) PlayAt(index int) error {
	return s.do("play at", func() error {
		if _, err := s.queue.Select(index); err != nil {
			return err
		}
		s.failures = 0
		s.startCurrent("play")
		return nil
	})
}

// Pause pauses playback. It is a no-op unless playing.
func (s *Session) Pause() error {
	return s.do("pause", func() error {
		if s.transport() != domain.TransportPlaying {
			return nil
		}
		if err := s.backend.Pause(s.handle); err != nil {
			return domain.NewMediaError(domain.FailureBackend, "pause", s.State().NowPlaying, domain.Reason(err), err)
		}
		s.setTransport(domain.TransportPaused, "paused")
		return nil
	})
}

// Resume resumes playback. It is a no-op unless paused.
func (s *Session) Resume() error {
	return s.do("resume", func() error {
		if s.transport() != domain.TransportPaused {
			return nil
		}
		return s.resume()
	})
}

func (s *Session) resume() error {
	if err := s.backend.Play(s.handle); err != nil {
		return domain.NewMediaError(domain.FailureBackend, "resume", s.State().NowPlaying, domain.Reason(err), err)
	}
	s.setTransport(domain.TransportPlaying, "resumed")
	return nil
}

// Skip abandons the current item and plays its neighbour. Forward follows
// the queue direction, Reverse goes against it. At an end of the queue with
// wrap off the session settles at Idle.
func (s *Session) Skip(dir domain.Direction) error {
	return s.do("skip", func() error {
		s.failures = 0
		var err error
		if dir == domain.Reverse {
			_, err = s.queue.Previous()
		} else {
			_, err = s.queue.Next()
		}

		switch {
		case errors.Is(err, domain.ErrQueueEmpty):
			return nil
		case errors.Is(err, domain.ErrEndOfQueue):
			s.exhausted()
			return nil
		case err != nil:
			return err
		}
		s.startCurrent("skip")
		return nil
	})
}

// Next skips forward.
func (s *Session) Next() error { return s.Skip(domain.Forward) }

// Previous skips backward.
func (s *Session) Previous() error { return s.Skip(domain.Reverse) }

// Stop stops playback and any loading the session owns, and goes Idle.
func (s *Session) Stop() error {
	return s.do("stop", func() error {
		s.release()
		s.failures = 0
		s.seekOnStart = nil
		s.setPosition(0)
		s.setTransport(domain.TransportIdle, "stopped")
		return nil
	})
}

// Retry replays the current item after an error, resuming from the last known
// position. It is a no-op otherwise.
func (s *Session) Retry() error {
	return s.do("retry", func() error {
		st := s.State()
		if st.Transport != domain.TransportError {
			return nil
		}
		s.failures = 0
		if st.NowPlaying != "" && st.PositionSeconds > 0 {
			s.seekOnStart = &pendingSeek{itemID: st.NowPlaying, seconds: st.PositionSeconds}
		}
		s.startCurrent("retry")
		if ps := s.seekOnStart; ps != nil && s.transport() == domain.TransportLoading {
			s.setPosition(ps.seconds)
		}
		return nil
	})
}

// Seek moves playback to seconds. While loading, the position is applied
// once the item starts. In other states it does nothing.
func (s *Session) Seek(seconds float64) error {
	if seconds < 0 {
		return domain.ErrInvalidPosition
	}
	return s.do("seek", func() error {
		st := s.State()
		switch st.Transport {
		case domain.TransportPlaying, domain.TransportPaused:
			if err := s.backend.Seek(s.handle, seconds); err != nil {
				return domain.NewMediaError(domain.FailureBackend, "seek", st.NowPlaying, domain.Reason(err), err)
			}
			s.setPosition(seconds)
			s.bus.Publish(domain.NewPlaybackProgressEvent(st.NowPlaying, seconds, s.currentDuration()))
		case domain.TransportLoading:
			s.seekOnStart = &pendingSeek{itemID: st.NowPlaying, seconds: seconds}
		}
		return nil
	})
}

// ToggleShuffle flips shuffle and returns the new setting. The current item
// keeps playing.
func (s *Session) ToggleShuffle() (bool, error) {
	var on bool
	err := s.do("toggle shuffle", func() error {
		on = s.queue.ToggleShuffle()
		s.bus.Publish(domain.NewShuffleToggledEvent(on))
		return nil
	})
	return on, err
}

// ToggleReverse flips the traversal direction and returns the new one.
func (s *Session) ToggleReverse() (domain.Direction, error) {
	var dir domain.Direction
	err := s.do("toggle reverse", func() error {
		dir = s.queue.ToggleReverse()
		s.bus.Publish(domain.NewDirectionChangedEvent(dir))
		return nil
	})
	return dir, err
}

// SetWrap sets the wrap policy.
func (s *Session) SetWrap(wrap bool) error {
	return s.do("set wrap", func() error {
		s.queue.SetWrap(wrap)
		return nil
	})
}

// RemoveAt removes the item at index. Removing the current item while it
// plays or loads starts its neighbour; emptying the queue ends playback.
func (s *Session) RemoveAt(index int) error {
	return s.do("remove", func() error {
		prev := s.transport()
		_, wasCurrent, err := s.queue.RemoveAt(index)
		if err != nil {
			return err
		}
		s.publishQueueChanged()
		if !wasCurrent {
			return nil
		}

		s.release()
		next, _, ok := s.queue.Current()
		if !ok {
			s.bumpGeneration("")
			if prev == domain.TransportPlaying || prev == domain.TransportPaused || prev == domain.TransportLoading {
				s.setTransport(domain.TransportEnded, "queue emptied")
			}
			s.setTransport(domain.TransportIdle, "queue emptied")
			return nil
		}
		if prev == domain.TransportPlaying || prev == domain.TransportLoading {
			s.startCurrent("current item removed")
			return nil
		}
		s.bumpGeneration(next.ID())
		s.setTransport(domain.TransportIdle, "current item removed")
		return nil
	})
}

// MoveTo moves the item at from to position to.
func (s *Session) MoveTo(from, to int) error {
	return s.do("move", func() error {
		if err := s.queue.MoveTo(from, to); err != nil {
			return err
		}
		s.publishQueueChanged()
		return nil
	})
}

// Clear stops playback and empties the queue.
func (s *Session) Clear() error {
	return s.do("clear", func() error {
		s.release()
		s.queue.Clear()
		s.bumpGeneration("")
		s.setTransport(domain.TransportIdle, "queue cleared")
		s.publishQueueChanged()
		return nil
	})
}

// Restore replaces the queue with a saved state. Resolved remote items whose
// files are gone are reset to Unresolved. Playing the restored current item
// starts at the saved position.
func (s *Session) Restore(state domain.ResumeState) error {
	return s.do("restore", func() error {
		items := make([]*domain.MediaItem, 0, len(state.Items))
		for _, snap := range state.Items {
			item, err := domain.RestoreItem(snap)
			if err != nil {
				return domain.NewServiceError("Session", "Restore", "invalid item", err)
			}
			if item.Kind().IsRemote() && item.State() == domain.Resolved && !filesExist(item.Source()) {
				s.logger.Debug("downloaded files are gone, item will be resolved again", slog.String("item_id", item.ID()))
				item.Invalidate()
			}
			items = append(items, item)
		}

		s.release()
		if err := s.queue.Restore(items, state); err != nil {
			return domain.NewServiceError("Session", "Restore", "invalid queue state", err)
		}

		cur, _, ok := s.queue.Current()
		if !ok {
			s.bumpGeneration("")
		} else {
			s.bumpGeneration(cur.ID())
			if state.NowPlaying == cur.ID() && state.PositionSeconds > 0 {
				s.seekOnStart = &pendingSeek{itemID: cur.ID(), seconds: state.PositionSeconds}
				s.setPosition(state.PositionSeconds)
			}
		}
		s.setTransport(domain.TransportIdle, "restored")
		s.publishQueueChanged()

		s.logger.Info("session restored", slog.Int("items", len(items)), slog.Int("cursor", s.queue.Cursor()))
		return nil
	})
}

// Save writes the resume state now.
func (s *Session) Save() error {
	return s.do("save", func() error {
		return s.saveState("requested")
	})
}

// Settled returns the state after the control loop has applied everything
// queued before the call.
func (s *Session) Settled() (domain.SessionState, error) {
	var st domain.SessionState
	err := s.do("settled", func() error {
		st = s.State()
		return nil
	})
	return st, err
}

// Shutdown saves the resume state, stops playback and stops the control
// loop. The backend itself is left open. Safe to call more than once.
func (s *Session) Shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.do("shutdown", func() error {
			saveErr := s.saveState("shutdown")
			s.release()
			s.setTransport(domain.TransportIdle, "shutdown")
			return saveErr
		})
		close(s.done)
		s.wg.Wait()
		s.logger.Debug("session stopped")
	})
	return err
}

// do runs fn on the control loop and waits for it.
func (s *Session) do(name string, fn func() error) error {
	in := intent{name: name, fn: fn, reply: make(chan error, 1)}
	select {
	case s.intents <- in:
	case <-s.done:
		return domain.ErrSessionClosed
	}
	select {
	case err := <-in.reply:
		return err
	case <-s.done:
		return domain.ErrSessionClosed
	}
}

func (s *Session) run() {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.cfg.SaveInterval > 0 && s.repo != nil {
		ticker := time.NewTicker(s.cfg.SaveInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	events := s.backend.Events()

	for {
		select {
		case <-s.done:
			return
		case in := <-s.intents:
			in.reply <- s.apply(in)
		case r := <-s.results:
			s.applyResult(r)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleBackendEvent(ev)
		case <-tick:
			if s.transport() == domain.TransportPlaying {
				_ = s.saveState("periodic")
			}
		}
	}
}

func (s *Session) apply(in intent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("intent panicked", slog.String("intent", in.name), slog.Any("panic", r))
			err = domain.NewServiceError("Session", in.name, fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	s.logger.Debug("intent", slog.String("name", in.name))
	return in.fn()
}

// post hands a result to the control loop unless the session is closing.
func (s *Session) post(r loadResult) {
	select {
	case s.results <- r:
	case <-s.done:
	}
}

// startCurrent abandons whatever is loaded and starts the queue's current item.
func (s *Session) startCurrent(reason string) {
	s.release()

	item, idx, ok := s.queue.Current()
	if !ok {
		s.bumpGeneration("")
		s.setTransport(domain.TransportIdle, "queue empty")
		return
	}

	gen := s.bumpGeneration(item.ID())
	s.setTransport(domain.TransportLoading, reason)
	s.bus.Publish(domain.NewItemLoadingEvent(item, idx))
	s.logger.Info("loading item",
		slog.String("item_id", item.ID()),
		slog.String("title", item.Title()),
		slog.Int("index", idx),
		slog.String("reason", reason))

	if item.Kind() == domain.KindRemotePlaylist {
		ctx, cancel := context.WithCancel(context.Background())
		s.loading = &loadingOp{gen: gen, item: item, cancel: cancel}
		s.wg.Add(1)
		go s.awaitExpand(ctx, gen, item)
		return
	}

	if item.Kind().IsRemote() && item.State() == domain.Resolved && !filesExist(item.Source()) {
		s.logger.Debug("downloaded files are gone, resolving again", slog.String("item_id", item.ID()))
		item.Invalidate()
	}
	if item.State() == domain.Resolved {
		s.startBackend(item, idx)
		return
	}
	s.submit(item, gen, false)
}

func (s *Session) submit(item *domain.MediaItem, gen uint64, retried bool) {
	job, created := s.resolver.Submit(item)
	ctx, cancel := context.WithCancel(context.Background())
	s.loading = &loadingOp{gen: gen, item: item, job: job, created: created, retried: retried, cancel: cancel}
	s.logger.Debug("waiting for download",
		slog.String("item_id", item.ID()),
		slog.String("job_id", job.ID()),
		slog.Bool("owned", created))

	s.wg.Add(1)
	go s.awaitJob(ctx, gen, item, job)
}

func (s *Session) awaitJob(ctx context.Context, gen uint64, item *domain.MediaItem, job *DownloadJob) {
	defer s.wg.Done()
	select {
	case <-job.Done():
		s.post(loadResult{gen: gen, item: item, outcome: job.Outcome()})
	case <-ctx.Done():
	case <-s.done:
	}
}

func (s *Session) awaitExpand(ctx context.Context, gen uint64, item *domain.MediaItem) {
	defer s.wg.Done()
	entries, err := s.resolver.Expand(ctx, item)
	if ctx.Err() != nil {
		return
	}
	s.post(loadResult{gen: gen, item: item, expanded: true, entries: entries, err: err})
}

// release cancels owned loading and stops the backend handle.
func (s *Session) release() {
	if op := s.loading; op != nil {
		op.cancel()
		if op.created && op.job != nil {
			op.job.Cancel()
		}
		s.loading = nil
	}
	if s.handle != domain.InvalidBackendHandle {
		if err := s.backend.Stop(s.handle); err != nil && !errors.Is(err, domain.ErrInvalidHandle) {
			s.logger.Warn("failed to stop backend media", slog.Any("error", err))
		}
		s.handle = domain.InvalidBackendHandle
	}
}

func (s *Session) applyResult(r loadResult) {
	op := s.loading
	if op == nil || op.gen != r.gen || op.item != r.item {
		s.logger.Debug("discarding stale result", slog.String("item_id", r.item.ID()), slog.Uint64("generation", r.gen))
		return
	}

	if r.expanded {
		s.applyExpansion(r)
		return
	}

	if r.outcome.Kind == domain.OutcomeFailed {
		// Cancelled by someone else, e.g. the owner of a job we joined.
		if r.outcome.Failure == domain.FailureCancelled && !op.retried {
			op.cancel()
			s.loading = nil
			s.submit(r.item, r.gen, true)
			return
		}
		s.fail(r.item, r.outcome.Err)
		return
	}

	op.cancel()
	s.loading = nil
	s.startBackend(r.item, s.queue.IndexOf(r.item.ID()))
}

func (s *Session) applyExpansion(r loadResult) {
	s.loading.cancel()
	s.loading = nil
	if r.err != nil {
		s.fail(r.item, r.err)
		return
	}

	idx := s.queue.IndexOf(r.item.ID())
	if idx < 0 {
		return
	}
	if err := s.queue.ReplaceAt(idx, r.entries); err != nil {
		s.fail(r.item, domain.NewMediaError(domain.FailureResolution, "expand", r.item.ID(), "", err))
		return
	}
	s.publishQueueChanged()
	s.logger.Info("playlist expanded into queue", slog.String("item_id", r.item.ID()), slog.Int("entries", len(r.entries)))
	s.startCurrent("playlist expanded")
}

// startBackend hands a resolved item to the backend.
func (s *Session) startBackend(item *domain.MediaItem, idx int) {
	paths := item.Source().Paths()
	h, err := s.backend.Load(paths)
	if err != nil {
		s.fail(item, domain.NewMediaError(domain.FailureBackend, "load", item.ID(), domain.Reason(err), err))
		return
	}
	if err := s.backend.Play(h); err != nil {
		_ = s.backend.Stop(h)
		s.fail(item, domain.NewMediaError(domain.FailureBackend, "play", item.ID(), domain.Reason(err), err))
		return
	}
	s.handle = h
	s.failures = 0

	pos := 0.0
	if ps := s.seekOnStart; ps != nil && ps.itemID == item.ID() {
		if err := s.backend.Seek(h, ps.seconds); err != nil {
			s.logger.Warn("failed to restore position", slog.Float64("seconds", ps.seconds), slog.Any("error", err))
		} else {
			pos = ps.seconds
		}
	}
	s.seekOnStart = nil
	s.setPosition(pos)

	s.setTransport(domain.TransportPlaying, "")
	s.bus.Publish(domain.NewItemStartedEvent(item, idx, paths))
	s.logger.Info("playing item", slog.String("item_id", item.ID()), slog.Any("paths", paths))
}

// fail records a failure on the transport, surfaces it once and applies the
// auto-advance policy.
func (s *Session) fail(item *domain.MediaItem, err error) {
	s.release()
	kind := domain.KindOf(err)
	reason := domain.Reason(err)

	s.stateMu.Lock()
	s.state.Reason = reason
	s.state.FailureKind = kind
	s.stateMu.Unlock()
	s.setTransport(domain.TransportError, reason)
	s.bus.Publish(domain.NewPlaybackErrorEvent(item.ID(), err))
	s.logger.Warn("item failed",
		slog.String("item_id", item.ID()),
		slog.String("kind", kind.String()),
		slog.Any("error", err))

	if kind == domain.FailureCancelled || !s.cfg.AutoAdvanceOnError {
		return
	}
	s.failures++
	if s.failures >= s.cfg.MaxConsecutiveFailures {
		s.logger.Warn("auto-advance stopped after consecutive failures", slog.Int("failures", s.failures))
		return
	}
	if _, err := s.queue.Next(); err != nil {
		s.bus.Publish(domain.NewQueueExhaustedEvent(s.queue.Direction()))
		return
	}
	s.startCurrent("auto-advance after error")
}

func (s *Session) handleBackendEvent(ev domain.BackendEvent) {
	if s.handle == domain.InvalidBackendHandle || ev.Handle != s.handle {
		return
	}
	item, _, ok := s.queue.Current()
	if !ok {
		return
	}

	switch ev.Kind {
	case domain.BackendPositionUpdate:
		s.setPosition(ev.Position)
		s.bus.Publish(domain.NewPlaybackProgressEvent(item.ID(), ev.Position, item.Duration()))
	case domain.BackendEndOfMedia:
		s.release()
		s.setTransport(domain.TransportEnded, "end of media")
		s.bus.Publish(domain.NewItemEndedEvent(item.ID()))
		if _, err := s.queue.Next(); err != nil {
			s.exhausted()
			return
		}
		s.startCurrent("end of media")
	case domain.BackendFailure:
		s.fail(item, domain.NewMediaError(domain.FailureBackend, "playback", item.ID(), domain.Reason(ev.Err), ev.Err))
	}
}

// exhausted settles at Idle when traversal hit an end of the queue.
func (s *Session) exhausted() {
	s.release()
	s.setPosition(0)
	s.setTransport(domain.TransportIdle, "queue exhausted")
	s.bus.Publish(domain.NewQueueExhaustedEvent(s.queue.Direction()))
}

func (s *Session) saveState(reason string) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Save(s.ResumeState()); err != nil {
		s.logger.Error("failed to save resume state", slog.String("reason", reason), slog.Any("error", err))
		return err
	}
	s.logger.Debug("resume state saved", slog.String("reason", reason))
	return nil
}

func (s *Session) transport() domain.Transport {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.Transport
}

// setTransport moves to t and publishes the change.
func (s *Session) setTransport(t domain.Transport, reason string) {
	s.stateMu.Lock()
	prev := s.state.Transport
	s.state.Transport = t
	if t != domain.TransportError {
		s.state.Reason = ""
		s.state.FailureKind = domain.FailureNone
	}
	itemID := s.state.NowPlaying
	s.stateMu.Unlock()

	if prev == t {
		return
	}
	s.logger.Debug("transport changed",
		slog.String("from", prev.String()),
		slog.String("to", t.String()),
		slog.String("reason", reason))
	s.bus.Publish(domain.NewStateChangedEvent(prev, t, itemID, reason))
}

// bumpGeneration makes itemID current and invalidates older results.
func (s *Session) bumpGeneration(itemID string) uint64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state.Generation++
	s.state.NowPlaying = itemID
	s.state.PositionSeconds = 0
	return s.state.Generation
}

func (s *Session) setPosition(seconds float64) {
	s.stateMu.Lock()
	s.state.PositionSeconds = seconds
	s.stateMu.Unlock()
}

func (s *Session) currentDuration() time.Duration {
	if item, _, ok := s.queue.Current(); ok {
		return item.Duration()
	}
	return 0
}

func (s *Session) publishQueueChanged() {
	s.bus.Publish(domain.NewQueueChangedEvent(s.queue.Len(), s.queue.Cursor()))
}

func filesExist(src domain.MediaSource) bool {
	paths := src.Paths()
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Verify that DownloadPipeline satisfies the Resolver interface
var _ Resolver = (*DownloadPipeline)(nil)
