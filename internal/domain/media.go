package domain

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// MediaKind distinguishes local files from remote entries.
type MediaKind int

const (
	KindLocalFile MediaKind = iota
	KindRemoteSingle
	KindRemotePlaylist
)

// String returns a string representation of the media kind.
func (k MediaKind) String() string {
	switch k {
	case KindLocalFile:
		return "LocalFile"
	case KindRemoteSingle:
		return "RemoteSingle"
	case KindRemotePlaylist:
		return "RemotePlaylist"
	default:
		return "Unknown"
	}
}

// IsRemote reports whether items of this kind need resolution.
func (k MediaKind) IsRemote() bool {
	return k == KindRemoteSingle || k == KindRemotePlaylist
}

// SourceKind identifies which variant of MediaSource is populated.
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceFilePath
	SourceRemoteURL
	SourceResolvedLocal
)

// String returns a string representation of the source kind.
func (k SourceKind) String() string {
	switch k {
	case SourceFilePath:
		return "FilePath"
	case SourceRemoteURL:
		return "RemoteUrl"
	case SourceResolvedLocal:
		return "ResolvedLocalPaths"
	default:
		return "None"
	}
}

// MediaSource is where the bytes of an item come from.
type MediaSource struct {
	Kind SourceKind `yaml:"kind"`

	// Path is set for SourceFilePath.
	Path string `yaml:"path,omitempty"`

	// URL is set for SourceRemoteURL.
	URL string `yaml:"url,omitempty"`

	// VideoPath is the primary file of SourceResolvedLocal. AudioPath is only
	// set when video and audio arrived as separate files.
	VideoPath string `yaml:"video_path,omitempty"`
	AudioPath string `yaml:"audio_path,omitempty"`
}

// FileSource returns a source for a local file.
func FileSource(path string) MediaSource {
	return MediaSource{Kind: SourceFilePath, Path: path}
}

// RemoteSource returns a source for a remote URL.
func RemoteSource(url string) MediaSource {
	return MediaSource{Kind: SourceRemoteURL, URL: url}
}

// ResolvedSource returns a source for downloaded files. audioPath may be empty.
func ResolvedSource(videoPath, audioPath string) MediaSource {
	return MediaSource{Kind: SourceResolvedLocal, VideoPath: videoPath, AudioPath: audioPath}
}

// Paths returns the local files a media backend should load.
func (s MediaSource) Paths() []string {
	switch s.Kind {
	case SourceFilePath:
		return []string{s.Path}
	case SourceResolvedLocal:
		if s.AudioPath != "" {
			return []string{s.VideoPath, s.AudioPath}
		}
		return []string{s.VideoPath}
	}
	return nil
}

// IsSplit reports whether video and audio are separate files.
func (s MediaSource) IsSplit() bool {
	return s.Kind == SourceResolvedLocal && s.AudioPath != ""
}

// IsPlayable reports whether the source points at local files.
func (s MediaSource) IsPlayable() bool {
	switch s.Kind {
	case SourceFilePath:
		return s.Path != ""
	case SourceResolvedLocal:
		return s.VideoPath != ""
	}
	return false
}

// ResolutionState tracks the progress of turning an item into a playable source.
type ResolutionState int

const (
	Unresolved ResolutionState = iota
	Resolving
	Resolved
	ResolutionFailed
)

// String returns a string representation of the resolution state.
func (s ResolutionState) String() string {
	switch s {
	case Unresolved:
		return "Unresolved"
	case Resolving:
		return "Resolving"
	case Resolved:
		return "Resolved"
	case ResolutionFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// NewItemID derives a stable identifier from a URL or local path.
func NewItemID(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

// MediaItem is a playable entity in the queue.
//
// Identity fields are immutable. Metadata, source and resolution state are
// guarded by an internal lock because a download job may complete on another
// goroutine while the session reads the item.
type MediaItem struct {
	id   string
	kind MediaKind
	url  string

	mu       sync.RWMutex
	title    string
	duration time.Duration
	source   MediaSource
	state    ResolutionState
	failure  error
	entries  []*MediaItem
}

// NewLocalItem creates an item for a local file. It is born Resolved.
func NewLocalItem(path, title string) *MediaItem {
	clean := filepath.Clean(path)
	if title == "" {
		title = filepath.Base(clean)
	}
	return &MediaItem{
		id:     NewItemID(clean),
		kind:   KindLocalFile,
		title:  title,
		source: FileSource(clean),
		state:  Resolved,
	}
}

// NewRemoteItem creates an Unresolved item for a remote URL.
func NewRemoteItem(url, title string, playlist bool) *MediaItem {
	kind := KindRemoteSingle
	if playlist {
		kind = KindRemotePlaylist
	}
	return &MediaItem{
		id:     NewItemID(url),
		kind:   kind,
		url:    url,
		title:  title,
		source: RemoteSource(url),
		state:  Unresolved,
	}
}

// ID returns the stable identifier.
func (m *MediaItem) ID() string { return m.id }

// Kind returns the media kind.
func (m *MediaItem) Kind() MediaKind { return m.kind }

// URL returns the remote URL, or "" for local files.
func (m *MediaItem) URL() string { return m.url }

// Title returns the display title. Falls back to the URL or path.
func (m *MediaItem) Title() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.title != "" {
		return m.title
	}
	if m.url != "" {
		return m.url
	}
	return m.source.Path
}

// Duration returns the duration, zero when unknown.
func (m *MediaItem) Duration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.duration
}

// SetMetadata records probed metadata. Empty values leave existing ones untouched.
func (m *MediaItem) SetMetadata(title string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if title != "" {
		m.title = title
	}
	if duration > 0 {
		m.duration = duration
	}
}

// Source returns the current source.
func (m *MediaItem) Source() MediaSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

// State returns the resolution state.
func (m *MediaItem) State() ResolutionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Failure returns the reason of the last failed resolution, if any.
func (m *MediaItem) Failure() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failure
}

// Entries returns the expanded entries of a playlist item.
func (m *MediaItem) Entries() []*MediaItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MediaItem, len(m.entries))
	copy(out, m.entries)
	return out
}

// MarkResolving starts a resolution attempt. Allowed from Unresolved and Failed.
func (m *MediaItem) MarkResolving() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Unresolved, ResolutionFailed:
		m.state = Resolving
		m.failure = nil
		return nil
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, m.kind, m.state, Resolving)
}

// MarkResolved completes a resolution attempt with a local source.
// Calling it on an already Resolved item is a no-op returning the existing source.
func (m *MediaItem) MarkResolved(source MediaSource) (MediaSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Resolved {
		return m.source, nil
	}
	if m.state != Resolving {
		return m.source, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, Resolved)
	}
	if source.Kind != SourceResolvedLocal || !source.IsPlayable() {
		return m.source, fmt.Errorf("%w: %s", ErrInvalidSource, source.Kind)
	}

	m.source = source
	m.state = Resolved
	return m.source, nil
}

// MarkExpanded completes the resolution of a playlist item with its entries.
// Repeated calls on an expanded playlist are no-ops.
func (m *MediaItem) MarkExpanded(entries []*MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.kind != KindRemotePlaylist {
		return fmt.Errorf("%w: %s cannot be expanded", ErrInvalidTransition, m.kind)
	}
	if m.state == Resolved {
		return nil
	}
	if m.state != Resolving {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, Resolved)
	}

	m.entries = append([]*MediaItem(nil), entries...)
	m.state = Resolved
	return nil
}

// MarkFailed ends a resolution attempt with a failure reason.
func (m *MediaItem) MarkFailed(reason error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Resolving {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, ResolutionFailed)
	}
	m.state = ResolutionFailed
	m.failure = reason
	return nil
}

// Invalidate drops a resolved remote source whose files are gone,
// returning the item to Unresolved. Local items are unaffected.
func (m *MediaItem) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.kind.IsRemote() {
		return
	}
	m.source = RemoteSource(m.url)
	m.state = Unresolved
	m.failure = nil
	m.entries = nil
}

// ItemSnapshot is the persisted form of a MediaItem.
type ItemSnapshot struct {
	ID       string        `yaml:"id"`
	Kind     MediaKind     `yaml:"kind"`
	URL      string        `yaml:"url,omitempty"`
	Title    string        `yaml:"title,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
	Source   MediaSource   `yaml:"source"`
	Resolved bool          `yaml:"resolved"`
}

// Snapshot captures the item for persistence. In-flight and failed
// resolutions are stored as unresolved.
func (m *MediaItem) Snapshot() ItemSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := ItemSnapshot{
		ID:       m.id,
		Kind:     m.kind,
		URL:      m.url,
		Title:    m.title,
		Duration: m.duration,
		Source:   m.source,
		Resolved: m.state == Resolved,
	}
	if m.kind.IsRemote() && !snap.Resolved {
		snap.Source = RemoteSource(m.url)
	}
	return snap
}

// RestoreItem rebuilds an item from a snapshot.
func RestoreItem(snap ItemSnapshot) (*MediaItem, error) {
	switch snap.Kind {
	case KindLocalFile:
		if snap.Source.Kind != SourceFilePath || snap.Source.Path == "" {
			return nil, fmt.Errorf("%w: local item %s without path", ErrInvalidSource, snap.ID)
		}
		item := NewLocalItem(snap.Source.Path, snap.Title)
		item.duration = snap.Duration
		return item, nil
	case KindRemoteSingle, KindRemotePlaylist:
		if snap.URL == "" {
			return nil, fmt.Errorf("%w: remote item %s without url", ErrInvalidSource, snap.ID)
		}
		item := NewRemoteItem(snap.URL, snap.Title, snap.Kind == KindRemotePlaylist)
		item.duration = snap.Duration
		if snap.Resolved && snap.Kind == KindRemoteSingle && snap.Source.IsPlayable() {
			item.source = snap.Source
			item.state = Resolved
		}
		return item, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidSource, snap.Kind)
}
