package domain

import (
	"fmt"
	"time"
)

// FormatDescriptor describes one stream a remote item can be fetched as.
type FormatDescriptor struct {
	ID         string
	Container  string // File extension reported by the tool (mp4, webm, m4a, ...)
	Width      int
	Height     int
	HasVideo   bool
	HasAudio   bool
	VideoCodec string
	AudioCodec string
	ApproxSize int64   // Bytes, zero when unknown
	Bitrate    float64 // Total bitrate in kbit/s, zero when unknown
	Protocol   string
	Note       string
}

// IsMuxed reports whether the stream carries both audio and video.
func (f FormatDescriptor) IsMuxed() bool {
	return f.HasVideo && f.HasAudio
}

// String renders a short description for logs.
func (f FormatDescriptor) String() string {
	switch {
	case f.IsMuxed():
		return fmt.Sprintf("%s (%s %dp a+v)", f.ID, f.Container, f.Height)
	case f.HasVideo:
		return fmt.Sprintf("%s (%s %dp video)", f.ID, f.Container, f.Height)
	default:
		return fmt.Sprintf("%s (%s audio)", f.ID, f.Container)
	}
}

// ProbeResult is what a probe learns about a single remote item.
type ProbeResult struct {
	ID       string
	Title    string
	Duration time.Duration
	Formats  []FormatDescriptor
}

// RemoteDescriptor is a candidate item returned by the remote catalog.
type RemoteDescriptor struct {
	URL      string
	Title    string
	Duration time.Duration
}

// OutcomeKind identifies the variant of a download outcome.
type OutcomeKind int

const (
	OutcomePending OutcomeKind = iota
	OutcomeSingleFile
	OutcomeSplitAV
	OutcomeFailed
)

// String returns a string representation of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "Pending"
	case OutcomeSingleFile:
		return "SingleFile"
	case OutcomeSplitAV:
		return "SplitAV"
	case OutcomeFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// DownloadOutcome is the result of a download job.
type DownloadOutcome struct {
	Kind      OutcomeKind
	Path      string // SingleFile
	VideoPath string // SplitAV
	AudioPath string // SplitAV
	Failure   FailureKind
	Err       error
}

// SingleFile returns a single-file outcome.
func SingleFile(path string) DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeSingleFile, Path: path}
}

// SplitAV returns a split outcome.
func SplitAV(videoPath, audioPath string) DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeSplitAV, VideoPath: videoPath, AudioPath: audioPath}
}

// FailedOutcome returns a failed outcome classified from err.
func FailedOutcome(err error) DownloadOutcome {
	return DownloadOutcome{Kind: OutcomeFailed, Failure: KindOf(err), Err: err}
}

// Source converts a successful outcome into a playable source.
func (o DownloadOutcome) Source() (MediaSource, bool) {
	switch o.Kind {
	case OutcomeSingleFile:
		return ResolvedSource(o.Path, ""), true
	case OutcomeSplitAV:
		return ResolvedSource(o.VideoPath, o.AudioPath), true
	}
	return MediaSource{}, false
}

// Paths returns the files produced by a successful outcome.
func (o DownloadOutcome) Paths() []string {
	src, ok := o.Source()
	if !ok {
		return nil
	}
	return src.Paths()
}

// DownloadProgress reports bytes transferred by a fetch.
type DownloadProgress struct {
	JobID      string
	ItemID     string
	Stream     string // "single", "video" or "audio"
	Downloaded int64
	Total      int64 // Zero when the tool does not know
}

// Percentage returns the progress as a percentage (0-100), or -1 when unknown.
func (p DownloadProgress) Percentage() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Downloaded) / float64(p.Total) * 100
}
