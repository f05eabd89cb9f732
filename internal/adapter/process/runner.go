// Package process supervises external tool invocations.
//
// Every job gets at most one OS process. Jobs wait for a free process slot,
// run with an optional time limit, and are reaped whether they finish, time
// out or are cancelled. Output is captured with a bounded tail per stream and
// can be streamed line by line to the caller.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// Config controls runner limits.
type Config struct {
	// MaxProcesses bounds concurrently running processes. Zero means unlimited.
	MaxProcesses int

	// KillGrace is how long a terminated process may take to exit before it
	// and its descendants are killed.
	KillGrace time.Duration

	// OutputLimit is the number of trailing bytes kept per stream.
	// Zero keeps everything.
	OutputLimit int
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		MaxProcesses: 4,
		KillGrace:    3 * time.Second,
		OutputLimit:  64 * 1024,
	}
}

// Runner launches subprocess jobs.
// All operations are thread-safe.
type Runner struct {
	logger *slog.Logger
	cfg    Config
	slots  *semaphore.Weighted

	mu     sync.Mutex
	jobs   map[string]*Handle
	closed bool

	wg sync.WaitGroup
}

// NewRunner creates a new runner.
func NewRunner(logger *slog.Logger, cfg Config) *Runner {
	r := &Runner{
		logger: logger,
		cfg:    cfg,
		jobs:   make(map[string]*Handle),
	}
	if cfg.MaxProcesses > 0 {
		r.slots = semaphore.NewWeighted(int64(cfg.MaxProcesses))
	}
	return r
}

// Run launches spec asynchronously and returns its handle immediately.
//
// A missing executable or a closed runner produces a handle that is already
// Failed; no process slot is consumed in that case.
func (r *Runner) Run(spec domain.JobSpec, timeout time.Duration, onLine ports.LineFunc) ports.JobHandle {
	return r.Start(spec, timeout, onLine)
}

// Start is Run returning the concrete handle.
func (r *Runner) Start(spec domain.JobSpec, timeout time.Duration, onLine ports.LineFunc) *Handle {
	h := newHandle(spec, timeout, onLine)

	path, err := exec.LookPath(spec.Command)
	if err != nil {
		r.logger.Warn("executable not found",
			slog.String("job_id", h.id),
			slog.String("command", spec.Command),
			slog.Any("error", err))
		h.finish(domain.JobStatus{
			State:    domain.JobFailed,
			ExitCode: -1,
			Err:      fmt.Errorf("%w: %s", domain.ErrToolMissing, spec.Command),
		})
		return h
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		h.finish(domain.JobStatus{State: domain.JobFailed, ExitCode: -1, Err: domain.ErrRunnerClosed})
		return h
	}
	r.jobs[h.id] = h
	r.wg.Add(1)
	r.mu.Unlock()

	go r.supervise(h, path)
	return h
}

// Active returns the number of jobs that are queued or running.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Shutdown cancels every job and waits until all processes are reaped.
// Later calls to Run return Failed handles.
func (r *Runner) Shutdown() error {
	r.mu.Lock()
	r.closed = true
	jobs := make([]*Handle, 0, len(r.jobs))
	for _, h := range r.jobs {
		jobs = append(jobs, h)
	}
	r.mu.Unlock()

	for _, h := range jobs {
		h.Cancel()
	}
	r.wg.Wait()
	return nil
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// supervise owns the job from slot acquisition to reaping.
func (r *Runner) supervise(h *Handle, path string) {
	defer r.wg.Done()
	defer r.forget(h.id)

	if r.slots != nil {
		if err := r.slots.Acquire(h.ctx, 1); err != nil {
			h.finish(domain.JobStatus{State: domain.JobKilled, ExitCode: -1, Err: domain.ErrCancelled})
			return
		}
		defer r.slots.Release(1)
	}
	if h.ctx.Err() != nil {
		h.finish(domain.JobStatus{State: domain.JobKilled, ExitCode: -1, Err: domain.ErrCancelled})
		return
	}

	stdoutLimit := r.cfg.OutputLimit
	if h.spec.FullStdout {
		stdoutLimit = 0
	}
	stdout := newCapture(stdoutLimit, false, h.onLine)
	stderr := newCapture(r.cfg.OutputLimit, true, h.onLine)

	cmd := exec.Command(path, h.spec.Args...)
	cmd.Dir = h.spec.Dir
	if len(h.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), h.spec.Env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Descendants holding our pipes must not keep Wait blocked forever.
	cmd.WaitDelay = r.cfg.KillGrace
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		r.logger.Warn("failed to start job",
			slog.String("job_id", h.id),
			slog.String("command", h.spec.String()),
			slog.Any("error", err))
		h.finish(domain.JobStatus{State: domain.JobFailed, ExitCode: -1, Err: err})
		return
	}

	pid := cmd.Process.Pid
	h.setRunning(pid)
	r.logger.Debug("job started",
		slog.String("job_id", h.id),
		slog.Int("pid", pid),
		slog.String("command", h.spec.String()))

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if h.timeout > 0 {
		timer := time.NewTimer(h.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	state := domain.JobSucceeded
	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-deadline:
		state = domain.JobTimedOut
		waitErr = r.terminate(pid, waitCh)
	case <-h.ctx.Done():
		state = domain.JobKilled
		waitErr = r.terminate(pid, waitCh)
	}

	stdout.Flush()
	stderr.Flush()

	status := domain.JobStatus{
		State:    state,
		PID:      pid,
		ExitCode: exitCode(cmd, waitErr),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	switch state {
	case domain.JobTimedOut:
		status.Err = domain.ErrTimedOut
	case domain.JobKilled:
		status.Err = domain.ErrCancelled
	default:
		if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
			status.Err = waitErr
		}
		if status.ExitCode != 0 || status.Err != nil {
			status.State = domain.JobFailed
		}
	}

	r.logger.Debug("job finished",
		slog.String("job_id", h.id),
		slog.Int("pid", pid),
		slog.String("state", status.State.String()),
		slog.Int("exit_code", status.ExitCode))
	h.finish(status)
}

// terminate asks the process tree to exit, escalates to a kill after the
// grace period and returns once the direct child is reaped.
func (r *Runner) terminate(pid int, waitCh <-chan error) error {
	tree := snapshotTree(pid)
	signalGroup(pid, false)
	terminateTree(tree)

	grace := time.NewTimer(r.cfg.KillGrace)
	defer grace.Stop()

	select {
	case err := <-waitCh:
		killTree(tree)
		return err
	case <-grace.C:
	}

	r.logger.Debug("process ignored termination, killing", slog.Int("pid", pid))
	signalGroup(pid, true)
	killTree(tree)
	return <-waitCh
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Handle tracks one subprocess job.
type Handle struct {
	id      string
	spec    domain.JobSpec
	timeout time.Duration
	onLine  ports.LineFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	status domain.JobStatus
	done   chan struct{}
}

func newHandle(spec domain.JobSpec, timeout time.Duration, onLine ports.LineFunc) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		id:      uuid.New().String(),
		spec:    spec,
		timeout: timeout,
		onLine:  onLine,
		ctx:     ctx,
		cancel:  cancel,
		status:  domain.JobStatus{State: domain.JobNotStarted},
		done:    make(chan struct{}),
	}
}

// ID returns the unique job id.
func (h *Handle) ID() string { return h.id }

// Spec returns the launch specification.
func (h *Handle) Spec() domain.JobSpec { return h.spec }

// Status returns a snapshot of the job.
func (h *Handle) Status() domain.JobStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done is closed once the job is terminal.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job is terminal, cancelling it if ctx ends first.
func (h *Handle) Wait(ctx context.Context) domain.JobStatus {
	select {
	case <-h.done:
	case <-ctx.Done():
		h.Cancel()
		<-h.done
	}
	return h.Status()
}

// Cancel forces the job to Killed. Idempotent.
func (h *Handle) Cancel() {
	h.cancel()
}

func (h *Handle) setRunning(pid int) {
	h.mu.Lock()
	h.status = domain.JobStatus{State: domain.JobRunning, PID: pid}
	h.mu.Unlock()
}

func (h *Handle) finish(status domain.JobStatus) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}

// Verify that Runner implements the JobRunner interface
var (
	_ ports.JobRunner = (*Runner)(nil)
	_ ports.JobHandle = (*Handle)(nil)
)
