package service

import (
	"fmt"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
)

// FormatPolicy picks the streams to fetch from a probe result.
type FormatPolicy struct {
	// MaxHeight caps the video height. Zero means best available.
	MaxHeight int

	// Container is the preferred container. Empty means any.
	Container string
}

// FormatSelection is the chosen stream or stream pair.
type FormatSelection struct {
	Single *domain.FormatDescriptor
	Video  *domain.FormatDescriptor
	Audio  *domain.FormatDescriptor
}

// IsSplit reports whether video and audio are fetched separately.
func (s FormatSelection) IsSplit() bool {
	return s.Single == nil
}

// String renders the selection for logs.
func (s FormatSelection) String() string {
	if s.IsSplit() {
		return fmt.Sprintf("%s + %s", s.Video, s.Audio)
	}
	return s.Single.String()
}

// Select applies the policy, in order:
//  1. a muxed stream within the height cap in the preferred container
//  2. the best video stream plus the best audio stream (split)
//  3. the best muxed stream regardless of cap or container
//  4. the best lone video or audio stream
//
// It returns ErrNoFormats when nothing usable is listed.
func (p FormatPolicy) Select(formats []domain.FormatDescriptor) (FormatSelection, error) {
	var muxed, video, audio []domain.FormatDescriptor
	for _, f := range formats {
		switch {
		case f.IsMuxed():
			muxed = append(muxed, f)
		case f.HasVideo:
			video = append(video, f)
		case f.HasAudio:
			audio = append(audio, f)
		}
	}

	if f, ok := p.best(muxed, true); ok {
		return FormatSelection{Single: &f}, nil
	}

	v, okV := p.bestVideo(video)
	a, okA := p.bestAudio(audio)
	if okV && okA {
		return FormatSelection{Video: &v, Audio: &a}, nil
	}

	if f, ok := p.best(muxed, false); ok {
		return FormatSelection{Single: &f}, nil
	}
	if okV {
		return FormatSelection{Single: &v}, nil
	}
	if okA {
		return FormatSelection{Single: &a}, nil
	}
	return FormatSelection{}, domain.ErrNoFormats
}

// best returns the highest-ranked candidate. With strict set, candidates
// above the cap or in another container are skipped.
func (p FormatPolicy) best(candidates []domain.FormatDescriptor, strict bool) (domain.FormatDescriptor, bool) {
	var pick domain.FormatDescriptor
	found := false
	for _, f := range candidates {
		if strict && (!p.withinCap(f) || !p.containerMatches(f.Container)) {
			continue
		}
		if !found || p.betterVideo(f, pick) {
			pick, found = f, true
		}
	}
	return pick, found
}

func (p FormatPolicy) bestVideo(candidates []domain.FormatDescriptor) (domain.FormatDescriptor, bool) {
	var pick domain.FormatDescriptor
	found := false
	for _, f := range candidates {
		if !found || p.betterVideo(f, pick) {
			pick, found = f, true
		}
	}
	return pick, found
}

func (p FormatPolicy) bestAudio(candidates []domain.FormatDescriptor) (domain.FormatDescriptor, bool) {
	var pick domain.FormatDescriptor
	found := false
	for _, f := range candidates {
		if !found || p.betterAudio(f, pick) {
			pick, found = f, true
		}
	}
	return pick, found
}

// betterVideo ranks by cap compliance, container, height, then bitrate.
func (p FormatPolicy) betterVideo(a, b domain.FormatDescriptor) bool {
	if ac, bc := p.withinCap(a), p.withinCap(b); ac != bc {
		return ac
	}
	if am, bm := p.containerMatches(a.Container), p.containerMatches(b.Container); am != bm {
		return am
	}
	if a.Height != b.Height {
		if !p.withinCap(a) {
			// Both exceed the cap: the smaller overshoot wins.
			return a.Height < b.Height
		}
		return a.Height > b.Height
	}
	if a.Bitrate != b.Bitrate {
		return a.Bitrate > b.Bitrate
	}
	return a.ApproxSize > b.ApproxSize
}

// betterAudio prefers an audio container that pairs with the preferred
// video container, then bitrate.
func (p FormatPolicy) betterAudio(a, b domain.FormatDescriptor) bool {
	if am, bm := p.audioPairs(a.Container), p.audioPairs(b.Container); am != bm {
		return am
	}
	if a.Bitrate != b.Bitrate {
		return a.Bitrate > b.Bitrate
	}
	return a.ApproxSize > b.ApproxSize
}

func (p FormatPolicy) withinCap(f domain.FormatDescriptor) bool {
	return p.MaxHeight <= 0 || f.Height <= p.MaxHeight
}

func (p FormatPolicy) containerMatches(container string) bool {
	return p.Container == "" || p.Container == "mkv" || container == p.Container
}

func (p FormatPolicy) audioPairs(container string) bool {
	switch p.Container {
	case "mp4":
		return container == "m4a" || container == "mp4"
	case "webm":
		return container == "webm" || container == "opus"
	}
	return true
}
