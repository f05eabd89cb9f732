package ytdlp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
)

// progressPrefix tags the lines produced by our progress template so they can
// be told apart from everything else the tool prints.
const progressPrefix = "pomelo:"

// progressTemplate makes the tool print "pomelo:<downloaded>|<total>" per update.
const progressTemplate = "download:" + progressPrefix +
	"%(progress.downloaded_bytes)s|%(progress.total_bytes,progress.total_bytes_estimate)s"

// infoJSON is the subset of `yt-dlp -J` output we use.
type infoJSON struct {
	Type       string       `json:"_type"`
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Duration   float64      `json:"duration"`
	WebpageURL string       `json:"webpage_url"`
	Formats    []formatJSON `json:"formats"`
	Entries    []entryJSON  `json:"entries"`

	// Extractors that know a single file fill these instead of formats.
	FormatID string  `json:"format_id"`
	Ext      string  `json:"ext"`
	VCodec   string  `json:"vcodec"`
	ACodec   string  `json:"acodec"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Filesize float64 `json:"filesize"`
}

type formatJSON struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
	TBR            float64 `json:"tbr"`
	Protocol       string  `json:"protocol"`
	FormatNote     string  `json:"format_note"`
}

type entryJSON struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	IEKey      string  `json:"ie_key"`
}

// parseProbe converts `-J` output into a probe result.
func parseProbe(data []byte) (*domain.ProbeResult, error) {
	var info infoJSON
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode probe output: %w", err)
	}

	res := &domain.ProbeResult{
		ID:       info.ID,
		Title:    info.Title,
		Duration: seconds(info.Duration),
	}

	for _, f := range info.Formats {
		if d, ok := toDescriptor(f); ok {
			res.Formats = append(res.Formats, d)
		}
	}
	if len(info.Formats) == 0 && info.FormatID != "" {
		if d, ok := toDescriptor(formatJSON{
			FormatID: info.FormatID,
			Ext:      info.Ext,
			Width:    info.Width,
			Height:   info.Height,
			VCodec:   info.VCodec,
			ACodec:   info.ACodec,
			Filesize: info.Filesize,
		}); ok {
			res.Formats = append(res.Formats, d)
		}
	}
	return res, nil
}

func toDescriptor(f formatJSON) (domain.FormatDescriptor, bool) {
	if f.FormatID == "" || f.Protocol == "mhtml" {
		return domain.FormatDescriptor{}, false
	}

	hasVideo := codecPresent(f.VCodec, f.Height > 0)
	hasAudio := codecPresent(f.ACodec, false)
	if !hasVideo && !hasAudio {
		// Unknown codecs on a plain file usually mean a muxed stream.
		if f.VCodec == "" && f.ACodec == "" {
			hasVideo, hasAudio = true, true
		} else {
			return domain.FormatDescriptor{}, false
		}
	}

	size := int64(f.Filesize)
	if size == 0 {
		size = int64(f.FilesizeApprox)
	}

	return domain.FormatDescriptor{
		ID:         f.FormatID,
		Container:  f.Ext,
		Width:      f.Width,
		Height:     f.Height,
		HasVideo:   hasVideo,
		HasAudio:   hasAudio,
		VideoCodec: f.VCodec,
		AudioCodec: f.ACodec,
		ApproxSize: size,
		Bitrate:    f.TBR,
		Protocol:   f.Protocol,
		Note:       f.FormatNote,
	}, true
}

// codecPresent interprets yt-dlp codec fields: "none" means absent, empty
// means unknown.
func codecPresent(codec string, fallback bool) bool {
	switch codec {
	case "none":
		return false
	case "":
		return fallback
	}
	return true
}

// parseEntries converts `-J --flat-playlist` output into playlist entries.
func parseEntries(data []byte) ([]domain.RemoteDescriptor, error) {
	var info infoJSON
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode playlist output: %w", err)
	}

	out := make([]domain.RemoteDescriptor, 0, len(info.Entries))
	for _, e := range info.Entries {
		url := entryURL(e)
		if url == "" {
			continue
		}
		out = append(out, domain.RemoteDescriptor{
			URL:      url,
			Title:    e.Title,
			Duration: seconds(e.Duration),
		})
	}
	return out, nil
}

func entryURL(e entryJSON) string {
	for _, candidate := range []string{e.URL, e.WebpageURL} {
		if strings.HasPrefix(candidate, "http://") || strings.HasPrefix(candidate, "https://") {
			return candidate
		}
	}
	if e.ID != "" && strings.EqualFold(e.IEKey, "Youtube") {
		return "https://www.youtube.com/watch?v=" + e.ID
	}
	return ""
}

// parseProgress reads a line produced by progressTemplate.
func parseProgress(line string) (downloaded, total int64, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(line), progressPrefix)
	if !found {
		return 0, 0, false
	}
	left, right, found := strings.Cut(rest, "|")
	if !found {
		return 0, 0, false
	}
	downloaded, ok = parseBytes(left)
	if !ok {
		return 0, 0, false
	}
	total, _ = parseBytes(right)
	return downloaded, total, true
}

func parseBytes(s string) (int64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return int64(v), true
}

// destinationMarkers are the log lines older releases print instead of
// honouring --print after_move:filepath.
var destinationMarkers = []struct {
	prefix string
	suffix string
}{
	{`[Merger] Merging formats into "`, `"`},
	{`[download] Destination: `, ""},
	{`[ExtractAudio] Destination: `, ""},
	{`[download] `, ` has already been downloaded`},
}

// parseDestination finds the final file name in the tool's stdout lines.
// The last match wins, since merges and post-processing rename the file.
func parseDestination(lines []string) string {
	dest := ""
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, progressPrefix) {
			continue
		}
		matched := false
		for _, m := range destinationMarkers {
			if !strings.HasPrefix(line, m.prefix) || !strings.HasSuffix(line, m.suffix) {
				continue
			}
			if name := strings.TrimSuffix(strings.TrimPrefix(line, m.prefix), m.suffix); name != "" {
				dest = name
				matched = true
				break
			}
		}
		if !matched && !strings.HasPrefix(line, "[") && !strings.HasPrefix(line, "WARNING:") {
			// --print after_move:filepath emits the bare path
			dest = line
		}
	}
	return dest
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
