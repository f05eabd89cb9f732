package process

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/logger"
	"github.com/tejashwikalptaru/pomelo/internal/testutil"
)

func newTestRunner(cfg Config) *Runner {
	return NewRunner(logger.NewTestLogger(), cfg)
}

func shell(script string) domain.JobSpec {
	return domain.JobSpec{Command: "sh", Args: []string{"-c", script}}
}

func waitTimeout(t *testing.T, h *Handle) domain.JobStatus {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("job %s did not finish", h.ID())
	}
	return h.Status()
}

func TestRunSucceedsAndCapturesOutput(t *testing.T) {
	testutil.RequireShell(t)
	defer testutil.VerifyNoLeaks(t)

	r := newTestRunner(DefaultConfig())
	defer r.Shutdown()

	h := r.Start(shell("echo hello; echo oops >&2"), 0, nil)
	st := waitTimeout(t, h)

	assert.Equal(t, domain.JobSucceeded, st.State)
	assert.Equal(t, 0, st.ExitCode)
	assert.Equal(t, "hello\n", st.Stdout)
	assert.Equal(t, "oops\n", st.Stderr)
	assert.NotZero(t, st.PID)
	assert.NoError(t, st.Err)
	assert.Equal(t, 0, r.Active())
}

func TestRunNonZeroExitFails(t *testing.T) {
	testutil.RequireShell(t)

	r := newTestRunner(DefaultConfig())
	defer r.Shutdown()

	st := waitTimeout(t, r.Start(shell("echo 'ERROR: nope' >&2; exit 3"), 0, nil))

	assert.Equal(t, domain.JobFailed, st.State)
	assert.Equal(t, 3, st.ExitCode)
	assert.Equal(t, "ERROR: nope", st.LastErrorLine())
}

func TestRunMissingExecutableFailsImmediately(t *testing.T) {
	r := newTestRunner(Config{MaxProcesses: 1})
	defer r.Shutdown()

	h := r.Start(domain.JobSpec{Command: "pomelo-definitely-not-installed"}, 0, nil)

	select {
	case <-h.Done():
	default:
		t.Fatal("handle should be terminal on return")
	}
	st := h.Status()
	assert.Equal(t, domain.JobFailed, st.State)
	assert.ErrorIs(t, st.Err, domain.ErrToolMissing)
	assert.Zero(t, st.PID)
	assert.Equal(t, 0, r.Active())

	// The single slot is still free
	testutil.RequireShell(t)
	st = waitTimeout(t, r.Start(shell("true"), 0, nil))
	assert.Equal(t, domain.JobSucceeded, st.State)
}

func TestRunTimeout(t *testing.T) {
	testutil.RequireShell(t)
	defer testutil.VerifyNoLeaks(t)

	r := newTestRunner(Config{KillGrace: time.Second})
	defer r.Shutdown()

	start := time.Now()
	st := waitTimeout(t, r.Start(shell("sleep 5"), 100*time.Millisecond, nil))

	assert.Equal(t, domain.JobTimedOut, st.State)
	assert.ErrorIs(t, st.Err, domain.ErrTimedOut)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCancelIsIdempotent(t *testing.T) {
	testutil.RequireShell(t)
	defer testutil.VerifyNoLeaks(t)

	r := newTestRunner(Config{KillGrace: time.Second})
	defer r.Shutdown()

	h := r.Start(shell("sleep 5"), 0, nil)
	require.Eventually(t, func() bool {
		return h.Status().State == domain.JobRunning
	}, 5*time.Second, 10*time.Millisecond)

	h.Cancel()
	h.Cancel()
	st := waitTimeout(t, h)
	h.Cancel()

	assert.Equal(t, domain.JobKilled, st.State)
	assert.ErrorIs(t, st.Err, domain.ErrCancelled)
}

func TestWaitCancelsOnContext(t *testing.T) {
	testutil.RequireShell(t)

	r := newTestRunner(Config{KillGrace: time.Second})
	defer r.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	st := r.Start(shell("sleep 5"), 0, nil).Wait(ctx)
	assert.Equal(t, domain.JobKilled, st.State)
}

func TestTerminationEscalatesToKill(t *testing.T) {
	testutil.RequireShell(t)

	r := newTestRunner(Config{KillGrace: 200 * time.Millisecond})
	defer r.Shutdown()

	h := r.Start(shell("trap '' TERM; echo ready; sleep 10; sleep 10"), 0, nil)
	require.Eventually(t, func() bool {
		return h.Status().State == domain.JobRunning
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	h.Cancel()
	st := waitTimeout(t, h)

	assert.Equal(t, domain.JobKilled, st.State)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCancelReapsDescendants(t *testing.T) {
	testutil.RequireShell(t)

	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")

	r := newTestRunner(Config{KillGrace: 500 * time.Millisecond})
	defer r.Shutdown()

	h := r.Start(shell("sleep 30 & echo $! > "+pidFile+"; wait"), 0, nil)

	var childPID int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		childPID, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	h.Cancel()
	waitTimeout(t, h)

	assert.Eventually(t, func() bool {
		p, err := process.NewProcess(int32(childPID))
		if err != nil {
			return true
		}
		status, err := p.Status()
		if err != nil {
			return true
		}
		for _, s := range status {
			if s == process.Zombie {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "grandchild %d survived cancellation", childPID)
}

func TestLineCallbackSplitsOnCarriageReturn(t *testing.T) {
	testutil.RequireShell(t)

	r := newTestRunner(DefaultConfig())
	defer r.Shutdown()

	var mu sync.Mutex
	var lines []string
	onLine := func(line string, stderr bool) {
		mu.Lock()
		defer mu.Unlock()
		prefix := "out:"
		if stderr {
			prefix = "err:"
		}
		lines = append(lines, prefix+line)
	}

	st := waitTimeout(t, r.Start(shell(`printf 'a\rb\n\nc'; printf 'x\n' >&2`), 0, onLine))
	require.Equal(t, domain.JobSucceeded, st.State)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"out:a", "out:b", "out:c", "err:x"}, lines)
}

func TestOutputLimitKeepsTail(t *testing.T) {
	testutil.RequireShell(t)

	r := newTestRunner(Config{OutputLimit: 8})
	defer r.Shutdown()

	st := waitTimeout(t, r.Start(shell("printf 0123456789abcdef"), 0, nil))
	assert.Equal(t, "89abcdef", st.Stdout)
}

func TestFullStdoutIgnoresOutputLimit(t *testing.T) {
	testutil.RequireShell(t)

	r := newTestRunner(Config{OutputLimit: 8})
	defer r.Shutdown()

	spec := shell("printf 0123456789abcdef; printf 0123456789 >&2")
	spec.FullStdout = true
	st := waitTimeout(t, r.Start(spec, 0, nil))
	assert.Equal(t, "0123456789abcdef", st.Stdout)
	assert.Equal(t, "23456789", st.Stderr)

	st = waitTimeout(t, r.Start(shell("head -c 200000 /dev/zero | tr '\\0' x"), 0, nil))
	assert.Len(t, st.Stdout, 8)

	big := shell("head -c 200000 /dev/zero | tr '\\0' x")
	big.FullStdout = true
	st = waitTimeout(t, r.Start(big, 0, nil))
	assert.Len(t, st.Stdout, 200000)
}

func TestProcessSlotsQueueJobs(t *testing.T) {
	testutil.RequireShell(t)
	defer testutil.VerifyNoLeaks(t)

	r := newTestRunner(Config{MaxProcesses: 1, KillGrace: time.Second})
	defer r.Shutdown()

	first := r.Start(shell("sleep 0.3"), 0, nil)
	second := r.Start(shell("true"), 0, nil)
	third := r.Start(shell("true"), 0, nil)

	require.Eventually(t, func() bool {
		return first.Status().State == domain.JobRunning
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.JobNotStarted, second.Status().State)

	// Cancelling a queued job never launches it
	third.Cancel()

	assert.Equal(t, domain.JobSucceeded, waitTimeout(t, first).State)
	assert.Equal(t, domain.JobSucceeded, waitTimeout(t, second).State)
	st := waitTimeout(t, third)
	assert.Equal(t, domain.JobKilled, st.State)
	assert.Zero(t, st.PID)
}

func TestShutdownKillsJobsAndRejectsNewOnes(t *testing.T) {
	testutil.RequireShell(t)
	defer testutil.VerifyNoLeaks(t)

	r := newTestRunner(Config{KillGrace: time.Second})
	h := r.Start(shell("sleep 5"), 0, nil)

	require.NoError(t, r.Shutdown())
	assert.Equal(t, domain.JobKilled, h.Status().State)

	st := r.Start(shell("true"), 0, nil).Status()
	assert.Equal(t, domain.JobFailed, st.State)
	assert.ErrorIs(t, st.Err, domain.ErrRunnerClosed)
}

func TestJobEnvAndDir(t *testing.T) {
	testutil.RequireShell(t)

	dir := t.TempDir()
	r := newTestRunner(DefaultConfig())
	defer r.Shutdown()

	spec := shell(`echo "$POMELO_TEST_VALUE"; pwd`)
	spec.Dir = dir
	spec.Env = []string{"POMELO_TEST_VALUE=42"}

	st := waitTimeout(t, r.Start(spec, 0, nil))
	require.Equal(t, domain.JobSucceeded, st.State)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, "42\n"+resolved+"\n", st.Stdout)
}
