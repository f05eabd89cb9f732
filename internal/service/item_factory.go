// Package service provides the orchestration logic of Pomelo: item
// construction, the download pipeline, the playback queue and the session.
package service

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// supportedExts lists the local extensions handed to a media backend.
var supportedExts = []string{
	// Audio
	".mp3", ".mp2", ".ogg", ".oga", ".opus",
	".wav", ".aif", ".aiff",
	".flac", ".aac", ".m4a", ".m4b",
	".wma", ".wv", ".ape", ".mpc",
	// Video
	".mp4", ".m4v", ".mkv", ".webm", ".mov", ".avi", ".flv", ".ts", ".3gp",
}

// ItemFactory builds media items from user input.
type ItemFactory struct {
	logger *slog.Logger
	tags   ports.MetadataReader // nil disables tag titles
}

// NewItemFactory creates a new item factory. tags may be nil.
func NewItemFactory(logger *slog.Logger, tags ports.MetadataReader) *ItemFactory {
	return &ItemFactory{
		logger: logger.With(slog.String("service", "items")),
		tags:   tags,
	}
}

// IsFormatSupported reports whether a local file can be queued.
func (f *ItemFactory) IsFormatSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, supported := range supportedExts {
		if ext == supported {
			return true
		}
	}
	return false
}

// SupportedFormats returns the supported local extensions.
func (f *ItemFactory) SupportedFormats() []string {
	out := make([]string, len(supportedExts))
	copy(out, supportedExts)
	return out
}

// FromInput classifies a path or URL. Existing paths become local items,
// http(s) URLs become remote singles, or playlists when the URL names one.
func (f *ItemFactory) FromInput(input string) (*domain.MediaItem, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, domain.ErrInvalidInput
	}

	if info, err := os.Stat(input); err == nil {
		if info.IsDir() {
			return nil, domain.NewValidationError("input", input, "is a directory, scan it instead")
		}
		return f.FromFile(input)
	}

	u, err := url.Parse(input)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, domain.ErrInvalidInput
	}
	return domain.NewRemoteItem(u.String(), "", IsPlaylistURL(u)), nil
}

// IsPlaylistURL reports whether u points at a playlist rather than one entry.
func IsPlaylistURL(u *url.URL) bool {
	if strings.Contains(strings.ToLower(u.Path), "/playlist") {
		return true
	}
	// A watch URL that also carries a list is played as the single entry.
	return u.Query().Get("list") != "" && u.Query().Get("v") == ""
}

// FromFile builds a local item for an existing file.
func (f *ItemFactory) FromFile(path string) (*domain.MediaItem, error) {
	if !f.IsFormatSupported(path) {
		return nil, domain.ErrUnsupportedFormat
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrFileNotFound
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return domain.NewLocalItem(abs, f.title(abs)), nil
}

func (f *ItemFactory) title(path string) string {
	if f.tags == nil {
		return ""
	}
	title, err := f.tags.Title(path)
	if err != nil {
		f.logger.Debug("failed to read tags", slog.String("path", path), slog.Any("error", err))
		return ""
	}
	return title
}

// ScanFolder collects the supported files below dir in lexical order.
// Unreadable entries are skipped.
func (f *ItemFactory) ScanFolder(ctx context.Context, dir string) ([]*domain.MediaItem, error) {
	var items []*domain.MediaItem
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() || !f.IsFormatSupported(path) {
			return nil
		}

		item, err := f.FromFile(path)
		if err != nil {
			f.logger.Debug("skipping file", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrFileNotFound
		}
		return items, err
	}

	f.logger.Info("folder scanned", slog.String("dir", dir), slog.Int("items", len(items)))
	return items, nil
}

// FromInputs builds items for every input. Directories are scanned. Inputs
// that fail are collected into the returned error and skipped.
func (f *ItemFactory) FromInputs(ctx context.Context, inputs []string) ([]*domain.MediaItem, error) {
	var (
		items []*domain.MediaItem
		errs  []error
	)
	for _, in := range inputs {
		if info, err := os.Stat(in); err == nil && info.IsDir() {
			scanned, err := f.ScanFolder(ctx, in)
			if err != nil {
				errs = append(errs, err)
			}
			items = append(items, scanned...)
			continue
		}

		item, err := f.FromInput(in)
		if err != nil {
			errs = append(errs, domain.NewServiceError("ItemFactory", "FromInputs", in, err))
			continue
		}
		items = append(items, item)
	}
	return items, errors.Join(errs...)
}
