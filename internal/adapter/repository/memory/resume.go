// Package memory provides in-memory repository implementations.
// They back dry runs and tests where nothing should touch the disk.
package memory

import (
	"sync"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// ResumeRepository implements ports.ResumeRepository in memory.
//
// Thread-safe: All operations protected by sync.RWMutex.
type ResumeRepository struct {
	state domain.ResumeState
	saves int
	mu    sync.RWMutex
}

// NewResumeRepository creates a new repository, optionally seeded with state.
func NewResumeRepository(seed ...domain.ResumeState) *ResumeRepository {
	r := &ResumeRepository{}
	if len(seed) > 0 {
		r.state = cloneState(seed[0])
	}
	return r
}

// Save replaces the stored state.
func (r *ResumeRepository) Save(state domain.ResumeState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = cloneState(state)
	r.saves++
	return nil
}

// Load returns a copy of the stored state.
func (r *ResumeRepository) Load() (domain.ResumeState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneState(r.state), nil
}

// Clear removes the stored state.
func (r *ResumeRepository) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = domain.ResumeState{}
	return nil
}

// Saves returns how many times Save was called.
func (r *ResumeRepository) Saves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}

func cloneState(s domain.ResumeState) domain.ResumeState {
	out := s
	if s.Items != nil {
		out.Items = append([]domain.ItemSnapshot(nil), s.Items...)
	}
	if s.Order != nil {
		out.Order = append([]int(nil), s.Order...)
	}
	return out
}

// Verify that ResumeRepository implements the ResumeRepository interface
var _ ports.ResumeRepository = (*ResumeRepository)(nil)
