package ytdlp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
)

const probeFixture = `{
  "id": "abc123",
  "title": "Sample clip",
  "duration": 212.5,
  "formats": [
    {"format_id": "sb0", "ext": "mhtml", "protocol": "mhtml", "vcodec": "none", "acodec": "none"},
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "tbr": 129.5, "filesize": 3400000},
    {"format_id": "18", "ext": "mp4", "width": 640, "height": 360, "vcodec": "avc1.42001E", "acodec": "mp4a.40.2", "filesize_approx": 9000000},
    {"format_id": "137", "ext": "mp4", "width": 1920, "height": 1080, "vcodec": "avc1.640028", "acodec": "none", "tbr": 4400}
  ]
}`

func TestParseProbe(t *testing.T) {
	res, err := parseProbe([]byte(probeFixture))
	require.NoError(t, err)

	assert.Equal(t, "abc123", res.ID)
	assert.Equal(t, "Sample clip", res.Title)
	assert.Equal(t, 212500*time.Millisecond, res.Duration)
	require.Len(t, res.Formats, 3)

	audio := res.Formats[0]
	assert.Equal(t, "140", audio.ID)
	assert.False(t, audio.HasVideo)
	assert.True(t, audio.HasAudio)
	assert.Equal(t, int64(3400000), audio.ApproxSize)

	muxed := res.Formats[1]
	assert.True(t, muxed.IsMuxed())
	assert.Equal(t, 360, muxed.Height)
	assert.Equal(t, int64(9000000), muxed.ApproxSize)

	video := res.Formats[2]
	assert.True(t, video.HasVideo)
	assert.False(t, video.HasAudio)
	assert.Equal(t, "mp4", video.Container)
}

func TestParseProbeSingleFileExtractor(t *testing.T) {
	res, err := parseProbe([]byte(`{"id":"x","title":"direct","format_id":"0","ext":"webm"}`))
	require.NoError(t, err)
	require.Len(t, res.Formats, 1)
	assert.True(t, res.Formats[0].IsMuxed())
}

func TestParseProbeNoFormats(t *testing.T) {
	res, err := parseProbe([]byte(`{"id":"x","title":"gone","formats":[]}`))
	require.NoError(t, err)
	assert.Empty(t, res.Formats)

	_, err = parseProbe([]byte("ERROR: not json"))
	assert.Error(t, err)
}

func TestParseEntries(t *testing.T) {
	data := `{"_type":"playlist","entries":[
	  {"id":"a1","url":"https://www.youtube.com/watch?v=a1","title":"First","duration":60},
	  {"id":"b2","url":"b2","ie_key":"Youtube","title":"Second"},
	  {"id":"c3","url":"c3","ie_key":"Other"}
	]}`

	entries, err := parseEntries([]byte(data))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.RemoteDescriptor{
		URL:      "https://www.youtube.com/watch?v=a1",
		Title:    "First",
		Duration: time.Minute,
	}, entries[0])
	assert.Equal(t, "https://www.youtube.com/watch?v=b2", entries[1].URL)
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line       string
		downloaded int64
		total      int64
		ok         bool
	}{
		{"pomelo:1024|4096", 1024, 4096, true},
		{"pomelo:2048|NA", 2048, 0, true},
		{"pomelo:512.0|10000.5", 512, 10000, true},
		{"pomelo:NA|NA", 0, 0, false},
		{"[download]  50.0% of 10MiB", 0, 0, false},
	}

	for _, tt := range tests {
		downloaded, total, ok := parseProgress(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.downloaded, downloaded, tt.line)
		assert.Equal(t, tt.total, total, tt.line)
	}
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{"print after move", []string{"pomelo:1|2", "/d/clip.mp4"}, "/d/clip.mp4"},
		{"legacy destination", []string{"[download] Destination: /d/clip.f137.mp4"}, "/d/clip.f137.mp4"},
		{"merger wins", []string{
			"[download] Destination: /d/clip.f137.mp4",
			"[download] Destination: /d/clip.f140.m4a",
			`[Merger] Merging formats into "/d/clip.mkv"`,
		}, "/d/clip.mkv"},
		{"already downloaded", []string{"[download] /d/clip.mp4 has already been downloaded"}, "/d/clip.mp4"},
		{"nothing", []string{"[info] Downloading 1 format(s): 18", "WARNING: slow"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseDestination(tt.lines))
		})
	}
}

func TestLocateOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.mp4.part"), nil, 0o644))

	_, err := locateOutput(dir, "video", "")
	assert.ErrorIs(t, err, domain.ErrNoDestination)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.webm"), []byte("x"), 0o644))
	path, err := locateOutput(dir, "video", "/does/not/exist.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video.webm"), path)

	path, err = locateOutput(dir, "video", "video.webm")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video.webm"), path)
}
