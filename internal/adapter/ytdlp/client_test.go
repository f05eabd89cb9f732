package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/pomelo/internal/adapter/process"
	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/logger"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
	"github.com/tejashwikalptaru/pomelo/internal/testutil"
)

// fakeTool imitates the parts of yt-dlp the client relies on.
const fakeTool = `
mode=""; dir="."; out=""; fmt=""; url=""
while [ $# -gt 0 ]; do
  case "$1" in
    -J) mode=probe ;;
    --flat-playlist) mode=playlist ;;
    --version) echo "2025.06.30"; exit 0 ;;
    --update-to) echo "Updated yt-dlp to $2"; exit 0 ;;
    -P) dir="$2"; shift ;;
    -o) out="$2"; shift ;;
    -f) fmt="$2"; mode=fetch ;;
    *) url="$1" ;;
  esac
  shift
done
case "$mode" in
  probe)
    case "$url" in
      *long*)
        printf '{"id":"v2","title":"Lecture","duration":5400,"description":"'
        head -c 100000 /dev/zero | tr '\0' x
        printf '","formats":[{"format_id":"22","ext":"mp4","height":720,"vcodec":"avc1","acodec":"mp4a"}]}\n'
        exit 0 ;;
    esac
    echo '{"id":"v1","title":"Clip","duration":10,"formats":[{"format_id":"18","ext":"mp4","height":360,"vcodec":"avc1","acodec":"mp4a"}]}' ;;
  playlist)
    echo '{"_type":"playlist","entries":[{"url":"https://example.com/a"},{"url":"https://example.com/b"}]}' ;;
  fetch)
    if [ "$fmt" = "bad" ]; then echo "ERROR: Requested format is not available" >&2; exit 1; fi
    file="$dir/$(echo "$out" | sed 's/%(ext)s/mp4/')"
    echo "pomelo:50|100"
    echo "pomelo:100|100"
    printf 'data' > "$file"
    echo "$file" ;;
esac
`

func newTestClient(t *testing.T) (*Client, *process.Runner) {
	t.Helper()
	testutil.RequireShell(t)

	bin := testutil.WriteScript(t, t.TempDir(), "yt-dlp", fakeTool)
	runner := process.NewRunner(logger.NewTestLogger(), process.DefaultConfig())
	t.Cleanup(func() { _ = runner.Shutdown() })

	cfg := DefaultConfig()
	cfg.Binary = bin
	return NewClient(logger.NewTestLogger(), runner, cfg), runner
}

func TestClientProbe(t *testing.T) {
	client, _ := newTestClient(t)

	res, err := client.Probe(context.Background(), "https://example.com/v1")
	require.NoError(t, err)
	assert.Equal(t, "Clip", res.Title)
	require.Len(t, res.Formats, 1)
	assert.True(t, res.Formats[0].IsMuxed())
}

func TestClientLargeJSONDocument(t *testing.T) {
	client, _ := newTestClient(t)

	res, err := client.Probe(context.Background(), "https://example.com/long")
	require.NoError(t, err)
	assert.Equal(t, "Lecture", res.Title)
	assert.Equal(t, 90*time.Minute, res.Duration)
	require.Len(t, res.Formats, 1)
	assert.Equal(t, "22", res.Formats[0].ID)
}

func TestClientExpand(t *testing.T) {
	client, _ := newTestClient(t)

	entries, err := client.Expand(context.Background(), "https://example.com/playlist?list=1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "https://example.com/b", entries[1].URL)
}

func TestClientFetch(t *testing.T) {
	client, _ := newTestClient(t)
	dir := t.TempDir()

	var mu sync.Mutex
	var progress [][2]int64
	path, err := client.Fetch(context.Background(), ports.FetchRequest{
		URL:      "https://example.com/v1",
		FormatID: "18",
		Dir:      dir,
		Name:     "single",
		OnProgress: func(downloaded, total int64) {
			mu.Lock()
			progress = append(progress, [2]int64{downloaded, total})
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "single.mp4"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][2]int64{{50, 100}, {100, 100}}, progress)
}

func TestClientFetchFailureCarriesOutput(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Fetch(context.Background(), ports.FetchRequest{
		URL:      "https://example.com/v1",
		FormatID: "bad",
		Dir:      t.TempDir(),
		Name:     "x",
	})
	require.Error(t, err)

	var toolErr *domain.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 1, toolErr.Status.ExitCode)
	assert.Contains(t, toolErr.Status.Stderr, "Requested format is not available")
}

func TestClientMissingBinary(t *testing.T) {
	runner := process.NewRunner(logger.NewTestLogger(), process.DefaultConfig())
	defer runner.Shutdown()

	cfg := DefaultConfig()
	cfg.Binary = "pomelo-no-such-yt-dlp"
	client := NewClient(logger.NewTestLogger(), runner, cfg)

	_, err := client.Probe(context.Background(), "https://example.com/v1")
	assert.ErrorIs(t, err, domain.ErrToolMissing)
	assert.Equal(t, domain.FailureConfiguration, domain.KindOf(err))
}

func TestClientVersionAndUpdate(t *testing.T) {
	client, _ := newTestClient(t)

	v, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025.06.30", v)

	msg, err := client.Update(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "Updated yt-dlp to nightly@latest", msg)
}

func TestClientProbeCancelled(t *testing.T) {
	client, _ := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Probe(ctx, "https://example.com/v1")
	require.Error(t, err)
	assert.Equal(t, domain.FailureCancelled, domain.KindOf(err))
}
