// Package metadata reads embedded tags from local media files.
package metadata

import (
	"fmt"
	"os"
	"strings"

	"github.com/dhowden/tag"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// TagReader reads ID3, MP4, FLAC and Ogg tags with dhowden/tag.
type TagReader struct{}

// NewTagReader creates a new tag reader.
func NewTagReader() *TagReader {
	return &TagReader{}
}

// Title returns "artist - title", the bare title when the artist is unknown,
// or "" when the file carries no usable tags.
func (r *TagReader) Title(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", domain.ErrFileNotFound, path)
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	m, err := tag.ReadFrom(file)
	if err != nil {
		// tag.ErrNoTagsFound and unrecognised containers both mean no title.
		return "", nil
	}

	title := strings.TrimSpace(m.Title())
	if title == "" {
		return "", nil
	}
	if artist := strings.TrimSpace(m.Artist()); artist != "" {
		return artist + " - " + title, nil
	}
	return title, nil
}

// Verify that TagReader implements the MetadataReader interface
var _ ports.MetadataReader = (*TagReader)(nil)
