package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

// PipelineConfig configures the download pipeline.
type PipelineConfig struct {
	// Dir is the shared download directory. Each item gets its own subdirectory.
	Dir string

	Policy FormatPolicy

	// MaxAttempts caps attempts per job, the first one included.
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	MaxElapsed      time.Duration // Zero means no overall limit
	BackoffJitter   float64       // Randomization factor, 0 disables jitter
	PlaylistWorkers int

	// RequestsPerSecond throttles probe and fetch launches. Zero disables it.
	RequestsPerSecond float64
	Burst             int

	// MuxSplit combines split results when a muxer is configured.
	MuxSplit bool

	// MuxContainer is the extension of muxed output.
	MuxContainer string
}

// DefaultPipelineConfig returns the default pipeline configuration.
func DefaultPipelineConfig(dir string) PipelineConfig {
	return PipelineConfig{
		Dir:               dir,
		Policy:            FormatPolicy{MaxHeight: 1080, Container: "mp4"},
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffJitter:     0.3,
		PlaylistWorkers:   2,
		RequestsPerSecond: 2,
		Burst:             2,
		MuxSplit:          true,
		MuxContainer:      "mkv",
	}
}

// DownloadPipeline resolves remote items into local files.
//
// Each job owns its item's resolution state until it reaches a terminal
// outcome. Jobs for different items run concurrently; a second request for an
// item that is already downloading joins the running job.
type DownloadPipeline struct {
	logger     *slog.Logger
	prober     ports.Prober
	fetcher    ports.Fetcher
	muxer      ports.Muxer // nil when no mux tool is available
	classifier ports.FailureClassifier
	bus        ports.EventBus
	cfg        PipelineConfig
	limiter    *rate.Limiter

	mu     sync.Mutex
	jobs   map[string]*DownloadJob // in flight, by item id
	closed bool
	wg     sync.WaitGroup
}

// NewDownloadPipeline creates a new download pipeline. muxer may be nil.
func NewDownloadPipeline(
	logger *slog.Logger,
	prober ports.Prober,
	fetcher ports.Fetcher,
	muxer ports.Muxer,
	classifier ports.FailureClassifier,
	bus ports.EventBus,
	cfg PipelineConfig,
) *DownloadPipeline {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PlaylistWorkers < 1 {
		cfg.PlaylistWorkers = 1
	}
	if cfg.MuxContainer == "" {
		cfg.MuxContainer = "mkv"
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &DownloadPipeline{
		logger:     logger.With(slog.String("service", "pipeline")),
		prober:     prober,
		fetcher:    fetcher,
		muxer:      muxer,
		classifier: classifier,
		bus:        bus,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, burst),
		jobs:       make(map[string]*DownloadJob),
	}
}

// DownloadJob is one attempt sequence to resolve a remote item.
type DownloadJob struct {
	id     string
	item   *domain.MediaItem
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	attempts int
	outcome  domain.DownloadOutcome
}

func newDownloadJob(item *domain.MediaItem, cancel context.CancelFunc) *DownloadJob {
	return &DownloadJob{
		id:     uuid.NewString(),
		item:   item,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// finishedJob returns a job that is already terminal.
func finishedJob(item *domain.MediaItem, outcome domain.DownloadOutcome) *DownloadJob {
	job := newDownloadJob(item, func() {})
	job.outcome = outcome
	close(job.done)
	return job
}

// ID returns the job id.
func (j *DownloadJob) ID() string { return j.id }

// Item returns the item being resolved.
func (j *DownloadJob) Item() *domain.MediaItem { return j.item }

// Done is closed once the outcome is terminal and partial files are gone.
func (j *DownloadJob) Done() <-chan struct{} { return j.done }

// Cancel abandons the job. The outcome becomes Failed(Cancelled) unless the
// job already finished. Safe to call more than once.
func (j *DownloadJob) Cancel() { j.cancel() }

// Outcome returns the current outcome: Pending until Done is closed.
func (j *DownloadJob) Outcome() domain.DownloadOutcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

// Attempts returns how many attempts were started.
func (j *DownloadJob) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// Wait blocks until the job is terminal or ctx ends. It does not cancel
// the job, which may be shared with other callers.
func (j *DownloadJob) Wait(ctx context.Context) (domain.DownloadOutcome, error) {
	select {
	case <-j.done:
		return j.Outcome(), nil
	case <-ctx.Done():
		return domain.DownloadOutcome{}, ctx.Err()
	}
}

func (j *DownloadJob) nextAttempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
	return j.attempts
}

// Submit starts resolving item, or joins the job already resolving it.
// created reports whether this call started the job; only the creator should
// cancel it. Items that are already resolved yield a finished job.
func (p *DownloadPipeline) Submit(item *domain.MediaItem) (job *DownloadJob, created bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.jobs[item.ID()]; ok {
		return existing, false
	}
	if p.closed {
		return finishedJob(item, domain.FailedOutcome(
			domain.NewMediaError(domain.FailureCancelled, "submit", item.ID(), "", domain.ErrPipelineClosed))), false
	}
	if item.Kind() != domain.KindRemoteSingle {
		if item.State() == domain.Resolved && item.Source().IsPlayable() {
			return finishedJob(item, outcomeFromSource(item.Source())), false
		}
		return finishedJob(item, domain.FailedOutcome(domain.NewMediaError(domain.FailureResolution, "submit", item.ID(),
			fmt.Sprintf("%s items are not downloaded", item.Kind()), domain.ErrInvalidSource))), false
	}
	if item.State() == domain.Resolved {
		return finishedJob(item, outcomeFromSource(item.Source())), false
	}
	if err := item.MarkResolving(); err != nil {
		return finishedJob(item, domain.FailedOutcome(
			domain.NewMediaError(domain.FailureResolution, "submit", item.ID(), "", err))), false
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = newDownloadJob(item, cancel)
	job.outcome = domain.DownloadOutcome{Kind: domain.OutcomePending}
	p.jobs[item.ID()] = job
	p.wg.Add(1)

	go p.run(ctx, job)
	return job, true
}

func outcomeFromSource(src domain.MediaSource) domain.DownloadOutcome {
	switch {
	case src.IsSplit():
		return domain.SplitAV(src.VideoPath, src.AudioPath)
	case src.Kind == domain.SourceFilePath:
		return domain.SingleFile(src.Path)
	default:
		return domain.SingleFile(src.VideoPath)
	}
}

// Active returns the number of jobs in flight.
func (p *DownloadPipeline) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Shutdown cancels all jobs and waits for their cleanup.
func (p *DownloadPipeline) Shutdown() error {
	p.mu.Lock()
	p.closed = true
	jobs := make([]*DownloadJob, 0, len(p.jobs))
	for _, j := range p.jobs {
		jobs = append(jobs, j)
	}
	p.mu.Unlock()

	for _, j := range jobs {
		j.Cancel()
	}
	p.wg.Wait()
	return nil
}

// WorkDir returns the directory a job for item writes to.
func (p *DownloadPipeline) WorkDir(item *domain.MediaItem) string {
	return filepath.Join(p.cfg.Dir, item.ID())
}

func (p *DownloadPipeline) run(ctx context.Context, job *DownloadJob) {
	defer p.wg.Done()
	defer job.cancel()

	item := job.item
	workDir := p.WorkDir(item)
	log := p.logger.With(slog.String("job_id", job.id), slog.String("item_id", item.ID()))
	log.Info("download started", slog.String("url", item.URL()))
	p.bus.Publish(domain.NewDownloadStartedEvent(job.id, item.ID(), item.URL()))

	outcome, err := p.resolve(ctx, job, workDir, log)
	if err != nil {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			log.Error("failed to remove partial files", slog.String("dir", workDir), slog.Any("error", rmErr))
		}
		outcome = domain.FailedOutcome(err)
		_ = item.MarkFailed(err)
		log.Warn("download failed",
			slog.String("kind", outcome.Failure.String()),
			slog.Int("attempts", job.Attempts()),
			slog.Any("error", err))
	} else {
		src, _ := outcome.Source()
		if _, mErr := item.MarkResolved(src); mErr != nil {
			log.Error("failed to mark item resolved", slog.Any("error", mErr))
		}
		log.Info("download completed", slog.String("outcome", outcome.Kind.String()), slog.Any("paths", outcome.Paths()))
	}

	job.mu.Lock()
	job.outcome = outcome
	job.mu.Unlock()

	p.mu.Lock()
	delete(p.jobs, item.ID())
	p.mu.Unlock()
	close(job.done)

	if err != nil {
		p.bus.Publish(domain.NewDownloadFailedEvent(job.id, item.ID(), err))
	} else {
		p.bus.Publish(domain.NewDownloadCompletedEvent(job.id, item.ID(), outcome))
	}
}

// resolve runs attempts until one succeeds, a failure is not transient, or
// the attempt cap is reached.
func (p *DownloadPipeline) resolve(ctx context.Context, job *DownloadJob, workDir string, log *slog.Logger) (domain.DownloadOutcome, error) {
	var outcome domain.DownloadOutcome

	attempt := func() error {
		n := job.nextAttempt()
		log.Debug("download attempt", slog.Int("attempt", n))

		o, err := p.attempt(ctx, job, workDir)
		if err == nil {
			outcome = o
			return nil
		}
		if ctx.Err() != nil || !p.classifier.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		n := job.Attempts()
		log.Warn("transient download failure, retrying",
			slog.Int("attempt", n),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		p.bus.Publish(domain.NewDownloadRetryEvent(job.id, job.item.ID(), n, delay, err))
	}

	err := backoff.RetryNotify(attempt, p.newBackOff(ctx), notify)
	if err == nil {
		return outcome, nil
	}
	if ctx.Err() != nil {
		return domain.DownloadOutcome{}, domain.NewMediaError(domain.FailureCancelled, "download", job.item.ID(), "download cancelled", domain.ErrCancelled)
	}
	return domain.DownloadOutcome{}, err
}

func (p *DownloadPipeline) newBackOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	if p.cfg.InitialBackoff > 0 {
		exp.InitialInterval = p.cfg.InitialBackoff
	}
	if p.cfg.MaxBackoff > 0 {
		exp.MaxInterval = p.cfg.MaxBackoff
	}
	exp.RandomizationFactor = p.cfg.BackoffJitter
	exp.MaxElapsedTime = p.cfg.MaxElapsed
	exp.Reset()

	retries := uint64(p.cfg.MaxAttempts - 1)
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

// attempt performs one probe, select, fetch and optional mux pass into a
// freshly emptied working directory.
func (p *DownloadPipeline) attempt(ctx context.Context, job *DownloadJob, workDir string) (domain.DownloadOutcome, error) {
	item := job.item

	if err := os.RemoveAll(workDir); err != nil {
		return domain.DownloadOutcome{}, stageError(domain.FailureDownload, "prepare", item.ID(), err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return domain.DownloadOutcome{}, stageError(domain.FailureDownload, "prepare", item.ID(), err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return domain.DownloadOutcome{}, stageError(domain.FailureCancelled, "probe", item.ID(), err)
	}
	probe, err := p.prober.Probe(ctx, item.URL())
	if err != nil {
		return domain.DownloadOutcome{}, stageError(domain.FailureResolution, "probe", item.ID(), err)
	}
	item.SetMetadata(probe.Title, probe.Duration)

	sel, err := p.cfg.Policy.Select(probe.Formats)
	if err != nil {
		return domain.DownloadOutcome{}, stageError(domain.FailureResolution, "select", item.ID(), err)
	}
	p.logger.Debug("format selected", slog.String("item_id", item.ID()), slog.String("selection", sel.String()))

	if !sel.IsSplit() {
		path, err := p.fetch(ctx, job, workDir, "media", "single", sel.Single.ID)
		if err != nil {
			return domain.DownloadOutcome{}, err
		}
		return domain.SingleFile(path), nil
	}

	var videoPath, audioPath string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		videoPath, err = p.fetch(gctx, job, workDir, "video", "video", sel.Video.ID)
		return err
	})
	g.Go(func() error {
		var err error
		audioPath, err = p.fetch(gctx, job, workDir, "audio", "audio", sel.Audio.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.DownloadOutcome{}, err
	}

	return p.maybeMux(ctx, item, workDir, videoPath, audioPath), nil
}

func (p *DownloadPipeline) fetch(ctx context.Context, job *DownloadJob, workDir, name, stream, formatID string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", stageError(domain.FailureCancelled, "fetch", job.item.ID(), err)
	}

	path, err := p.fetcher.Fetch(ctx, ports.FetchRequest{
		URL:      job.item.URL(),
		FormatID: formatID,
		Dir:      workDir,
		Name:     name,
		OnProgress: func(downloaded, total int64) {
			p.bus.Publish(domain.NewDownloadProgressEvent(domain.DownloadProgress{
				JobID:      job.id,
				ItemID:     job.item.ID(),
				Stream:     stream,
				Downloaded: downloaded,
				Total:      total,
			}))
		},
	})
	if err != nil {
		return "", stageError(domain.FailureDownload, "fetch "+stream, job.item.ID(), err)
	}
	return path, nil
}

// maybeMux combines a split result when possible. A failed mux keeps the
// split result.
func (p *DownloadPipeline) maybeMux(ctx context.Context, item *domain.MediaItem, workDir, videoPath, audioPath string) domain.DownloadOutcome {
	split := domain.SplitAV(videoPath, audioPath)
	if !p.cfg.MuxSplit || p.muxer == nil {
		return split
	}

	out := filepath.Join(workDir, "media."+p.cfg.MuxContainer)
	if err := p.muxer.Mux(ctx, videoPath, audioPath, out); err != nil {
		p.logger.Warn("mux failed, keeping separate streams",
			slog.String("item_id", item.ID()),
			slog.Any("error", err))
		return split
	}
	for _, f := range []string{videoPath, audioPath} {
		if err := os.Remove(f); err != nil {
			p.logger.Debug("failed to remove muxed input", slog.String("path", f), slog.Any("error", err))
		}
	}
	return domain.SingleFile(out)
}

// stageError classifies err by the stage it came from. Missing tools and
// cancellations keep their own kind.
func stageError(stage domain.FailureKind, op, itemID string, err error) error {
	kind := stage
	switch domain.KindOf(err) {
	case domain.FailureConfiguration:
		kind = domain.FailureConfiguration
	case domain.FailureCancelled:
		kind = domain.FailureCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", domain.ErrTimedOut, err)
	}
	return domain.NewMediaError(kind, op, itemID, domain.Reason(err), err)
}

// Expand resolves a playlist item into its entries. Transient failures are
// retried like downloads.
func (p *DownloadPipeline) Expand(ctx context.Context, item *domain.MediaItem) ([]*domain.MediaItem, error) {
	if item.Kind() != domain.KindRemotePlaylist {
		return nil, domain.NewMediaError(domain.FailureResolution, "expand", item.ID(), "not a playlist", domain.ErrInvalidSource)
	}
	if item.State() == domain.Resolved {
		return item.Entries(), nil
	}
	if err := item.MarkResolving(); err != nil {
		return nil, domain.NewMediaError(domain.FailureResolution, "expand", item.ID(), "", err)
	}

	log := p.logger.With(slog.String("item_id", item.ID()))
	var descriptors []domain.RemoteDescriptor
	attempts := 0
	op := func() error {
		attempts++
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(stageError(domain.FailureCancelled, "expand", item.ID(), err))
		}
		d, err := p.prober.Expand(ctx, item.URL())
		if err == nil && len(d) == 0 {
			err = domain.ErrNoEntries
		}
		if err != nil {
			err = stageError(domain.FailureResolution, "expand", item.ID(), err)
			if ctx.Err() != nil || !p.classifier.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		descriptors = d
		return nil
	}
	notify := func(err error, delay time.Duration) {
		log.Warn("transient playlist failure, retrying", slog.Int("attempt", attempts), slog.Duration("delay", delay), slog.Any("error", err))
	}

	if err := backoff.RetryNotify(op, p.newBackOff(ctx), notify); err != nil {
		if ctx.Err() != nil {
			err = domain.NewMediaError(domain.FailureCancelled, "expand", item.ID(), "expansion cancelled", domain.ErrCancelled)
		}
		_ = item.MarkFailed(err)
		return nil, err
	}

	// Repeated URLs share one item ID and one download job, so only the
	// first occurrence becomes an entry.
	entries := make([]*domain.MediaItem, 0, len(descriptors))
	seen := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		entry := domain.NewRemoteItem(d.URL, d.Title, false)
		if _, dup := seen[entry.ID()]; dup {
			log.Debug("skipping repeated playlist entry", slog.String("url", d.URL))
			continue
		}
		seen[entry.ID()] = struct{}{}
		entry.SetMetadata("", d.Duration)
		entries = append(entries, entry)
	}
	if err := item.MarkExpanded(entries); err != nil {
		return nil, domain.NewMediaError(domain.FailureResolution, "expand", item.ID(), "", err)
	}
	log.Info("playlist expanded", slog.Int("entries", len(entries)))
	return entries, nil
}

// DownloadPlaylist expands item and downloads every entry with bounded
// concurrency. Individual failures are reported in the outcomes; the error
// is set only when expansion fails or ctx ends.
func (p *DownloadPipeline) DownloadPlaylist(ctx context.Context, item *domain.MediaItem) ([]*domain.MediaItem, []domain.DownloadOutcome, error) {
	entries, err := p.Expand(ctx, item)
	if err != nil {
		return nil, nil, err
	}

	outcomes := make([]domain.DownloadOutcome, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.PlaylistWorkers)

	for i, entry := range entries {
		g.Go(func() error {
			job, created := p.Submit(entry)
			select {
			case <-job.Done():
			case <-gctx.Done():
				if created {
					job.Cancel()
				}
				<-job.Done()
			}
			outcomes[i] = job.Outcome()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return entries, outcomes, domain.NewMediaError(domain.FailureCancelled, "download playlist", item.ID(), "", err)
	}
	return entries, outcomes, nil
}

// CountOutcomes tallies successful and failed outcomes.
func CountOutcomes(outcomes []domain.DownloadOutcome) (succeeded, failed int) {
	for _, o := range outcomes {
		if o.Kind == domain.OutcomeFailed {
			failed++
		} else if o.Kind != domain.OutcomePending {
			succeeded++
		}
	}
	return succeeded, failed
}
