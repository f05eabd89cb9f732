// Package file persists session state as YAML on the local filesystem.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// ResumeRepository implements ports.ResumeRepository with a single YAML file.
// Writes go to a temporary file that is renamed over the target, so a crash
// never leaves a truncated state file behind.
//
// Thread-safe: All operations protected by sync.Mutex.
type ResumeRepository struct {
	path string
	mu   sync.Mutex
}

// NewResumeRepository creates a repository that stores state at path.
func NewResumeRepository(path string) *ResumeRepository {
	return &ResumeRepository{path: path}
}

// Path returns the state file location.
func (r *ResumeRepository) Path() string {
	return r.path
}

// Save replaces the stored state.
func (r *ResumeRepository) Save(state domain.ResumeState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(&state)
	if err != nil {
		return domain.NewServiceError("ResumeRepository", "Save", "failed to marshal state", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.NewServiceError("ResumeRepository", "Save", "failed to create state directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+".*")
	if err != nil {
		return domain.NewServiceError("ResumeRepository", "Save", "failed to create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.NewServiceError("ResumeRepository", "Save", "failed to write state", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return domain.NewServiceError("ResumeRepository", "Save", "failed to write state", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return domain.NewServiceError("ResumeRepository", "Save", "failed to replace state file", err)
	}
	return nil
}

// Load returns the stored state. A missing file yields an empty state.
func (r *ResumeRepository) Load() (domain.ResumeState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var state domain.ResumeState
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, domain.NewServiceError("ResumeRepository", "Load", "failed to read state", err)
	}

	if err := yaml.Unmarshal(data, &state); err != nil {
		return domain.ResumeState{}, domain.NewServiceError("ResumeRepository", "Load",
			fmt.Sprintf("corrupt state file %s", r.path), err)
	}
	return state, nil
}

// Clear removes the state file.
func (r *ResumeRepository) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return domain.NewServiceError("ResumeRepository", "Clear", "failed to remove state", err)
	}
	return nil
}

// Verify that ResumeRepository implements the ResumeRepository interface
var _ ports.ResumeRepository = (*ResumeRepository)(nil)
