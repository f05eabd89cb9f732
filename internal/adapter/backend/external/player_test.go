package external

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/pomelo/internal/adapter/process"
	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/logger"
	"github.com/tejashwikalptaru/pomelo/internal/testutil"
)

func newTestPlayer(t *testing.T, args []string) (*Player, string) {
	t.Helper()
	testutil.RequireShell(t)

	dir := t.TempDir()
	argLog := filepath.Join(dir, "args.log")
	bin := writeFakePlayer(t, dir, argLog)

	runner := process.NewRunner(logger.NewTestLogger(), process.Config{KillGrace: time.Second})
	t.Cleanup(func() { _ = runner.Shutdown() })

	cfg := Config{Command: bin, Args: args, PositionInterval: 20 * time.Millisecond}
	if cfg.Args == nil {
		cfg.Args = DefaultConfig().Args
	}
	p := NewPlayer(logger.NewTestLogger(), runner, cfg)
	t.Cleanup(func() { _ = p.Close() })
	return p, argLog
}

// writeFakePlayer writes a player script that records its arguments, exits
// immediately for inputs named short or fail, and otherwise keeps running.
func writeFakePlayer(t *testing.T, dir, argLog string) string {
	t.Helper()
	body := `echo "$@" >> ` + argLog + `
case "$*" in
  *fail*) exit 3 ;;
  *short*) exit 0 ;;
esac
sleep 30`
	return testutil.WriteScript(t, dir, "player", body)
}

// nextEvent returns the next event that is not a position update.
func nextEvent(t *testing.T, p *Player) domain.BackendEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			if ev.Kind != domain.BackendPositionUpdate {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for backend event")
		}
	}
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestExpandArgs(t *testing.T) {
	tmpl := DefaultConfig().Args

	got := expandArgs(tmpl, []string{"/v.mp4", "/a.m4a"}, 12.5)
	assert.Equal(t, []string{"--no-terminal", "--start=12.500", "--audio-file=/a.m4a", "/v.mp4"}, got)

	got = expandArgs(tmpl, []string{"/song.mp3"}, 0)
	assert.Equal(t, []string{"--no-terminal", "--start=0.000", "/song.mp3"}, got)
}

func TestPlayerEndOfMedia(t *testing.T) {
	p, _ := newTestPlayer(t, nil)

	h, err := p.Load([]string{"/media/short.mp3"})
	require.NoError(t, err)
	require.NoError(t, p.Play(h))

	ev := nextEvent(t, p)
	assert.Equal(t, domain.BackendEndOfMedia, ev.Kind)
	assert.Equal(t, h, ev.Handle)
}

func TestPlayerFailure(t *testing.T) {
	p, _ := newTestPlayer(t, nil)

	h, err := p.Load([]string{"/media/fail.mp3"})
	require.NoError(t, err)
	require.NoError(t, p.Play(h))

	ev := nextEvent(t, p)
	assert.Equal(t, domain.BackendFailure, ev.Kind)
	var toolErr *domain.ToolError
	require.ErrorAs(t, ev.Err, &toolErr)
	assert.Equal(t, 3, toolErr.Status.ExitCode)
}

func TestPlayerSeekRestarts(t *testing.T) {
	p, argLog := newTestPlayer(t, nil)

	h, err := p.Load([]string{"/media/long.mp4", "/media/long.m4a"})
	require.NoError(t, err)
	require.NoError(t, p.Play(h))
	require.Eventually(t, func() bool { return len(readArgs(t, argLog)) == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Seek(h, 12))
	require.Eventually(t, func() bool { return len(readArgs(t, argLog)) == 2 }, 5*time.Second, 10*time.Millisecond)

	args := readArgs(t, argLog)
	assert.Contains(t, args[1], "--start=12.000")
	assert.Contains(t, args[1], "--audio-file=/media/long.m4a")

	// The superseded process is killed without reporting an exit.
	select {
	case ev := <-p.Events():
		assert.Equal(t, domain.BackendPositionUpdate, ev.Kind)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, p.Stop(h))
	assert.ErrorIs(t, p.Stop(h), domain.ErrInvalidHandle)
}

func TestPlayerPauseResume(t *testing.T) {
	p, _ := newTestPlayer(t, nil)

	h, err := p.Load([]string{"/media/long.mp3"})
	require.NoError(t, err)
	require.NoError(t, p.Play(h))

	require.Eventually(t, func() bool { return p.Pause(h) == nil }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Pause(h))
	require.NoError(t, p.Play(h))
	require.NoError(t, p.Pause(h))

	// Stopping a suspended player must not hang on the kill escalation.
	start := time.Now()
	require.NoError(t, p.Stop(h))
	require.NoError(t, p.Close())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPlayerSeekUnsupported(t *testing.T) {
	p, _ := newTestPlayer(t, []string{"{input}"})

	h, err := p.Load([]string{"/media/long.mp3"})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Seek(h, 3), domain.ErrSeekUnsupported)
}

func TestPlayerValidation(t *testing.T) {
	p, _ := newTestPlayer(t, nil)

	_, err := p.Load(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSource)
	_, err = p.Load([]string{"a", "b", "c"})
	assert.ErrorIs(t, err, domain.ErrInvalidSource)
	assert.ErrorIs(t, p.Play(42), domain.ErrInvalidHandle)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, ok := <-p.Events()
	assert.False(t, ok)
}
