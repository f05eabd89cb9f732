package ports

import (
	"context"
	"time"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
)

// LineFunc receives each line a subprocess writes, as it is written.
// stderr tells which stream the line came from.
type LineFunc func(line string, stderr bool)

// JobRunner launches and supervises external tool invocations.
type JobRunner interface {
	// Run launches spec asynchronously and returns immediately.
	// A zero timeout means no limit. onLine may be nil.
	Run(spec domain.JobSpec, timeout time.Duration, onLine LineFunc) JobHandle
}

// JobHandle observes and controls one subprocess job.
type JobHandle interface {
	// ID returns the unique job id.
	ID() string

	// Status returns a snapshot of the job.
	Status() domain.JobStatus

	// Done is closed once the job is terminal and its process reaped.
	Done() <-chan struct{}

	// Wait blocks until the job is terminal. If ctx ends first the job is
	// cancelled and Wait still returns its terminal status once reaped.
	Wait(ctx context.Context) domain.JobStatus

	// Cancel forces the job to Killed. Safe to call more than once and after
	// the job finished.
	Cancel()
}
