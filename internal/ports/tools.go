package ports

import (
	"context"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
)

// Prober is the remote metadata capability.
// Failures here are resolution failures.
type Prober interface {
	// Probe lists the formats and metadata of a single remote item.
	Probe(ctx context.Context, url string) (*domain.ProbeResult, error)

	// Expand lists the entries of a remote playlist.
	Expand(ctx context.Context, url string) ([]domain.RemoteDescriptor, error)
}

// FetchRequest asks the conversion tool to retrieve one stream.
type FetchRequest struct {
	URL      string
	FormatID string
	Dir      string // Output directory, created by the caller
	Name     string // Output file name without extension

	// OnProgress receives byte counts as the tool reports them. May be nil.
	OnProgress func(downloaded, total int64)
}

// Fetcher retrieves a stream to disk and returns the final file path.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (string, error)
}

// Muxer combines a separate video and audio file into one container.
type Muxer interface {
	Mux(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// FailureClassifier decides whether a failed attempt is worth retrying.
type FailureClassifier interface {
	IsTransient(err error) bool
}

// MetadataReader reads embedded metadata from local files.
type MetadataReader interface {
	// Title returns the embedded title, or "" when the file has none.
	Title(path string) (string, error)
}

// ResumeRepository persists the minimal state needed to resume a session.
type ResumeRepository interface {
	// Save replaces the stored state.
	Save(state domain.ResumeState) error

	// Load returns the stored state, or an empty state when nothing was saved.
	Load() (domain.ResumeState, error)

	// Clear removes the stored state.
	Clear() error
}
