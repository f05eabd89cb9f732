package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/pomelo/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/logger"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
	"github.com/tejashwikalptaru/pomelo/internal/testutil"
)

type fakeProber struct {
	probe  func(ctx context.Context, url string) (*domain.ProbeResult, error)
	expand func(ctx context.Context, url string) ([]domain.RemoteDescriptor, error)
}

func (f *fakeProber) Probe(ctx context.Context, url string) (*domain.ProbeResult, error) {
	return f.probe(ctx, url)
}

func (f *fakeProber) Expand(ctx context.Context, url string) ([]domain.RemoteDescriptor, error) {
	return f.expand(ctx, url)
}

// fakeFetcher writes "<Name>.<ext>" into the request dir. fail, when set,
// runs after a partial file was written.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []ports.FetchRequest
	fail  func(ctx context.Context, req ports.FetchRequest) error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req ports.FetchRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	ext := "mp4"
	if req.Name == "audio" {
		ext = "m4a"
	}
	path := filepath.Join(req.Dir, req.Name+"."+ext)
	if err := os.WriteFile(path, []byte(req.FormatID), 0o644); err != nil {
		return "", err
	}
	if req.OnProgress != nil {
		req.OnProgress(50, 100)
	}
	if f.fail != nil {
		if err := f.fail(ctx, req); err != nil {
			return "", err
		}
	}
	return path, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeMuxer struct {
	err error
}

func (m *fakeMuxer) Mux(_ context.Context, videoPath, audioPath, outputPath string) error {
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(outputPath, []byte("muxed"), 0o644)
}

// eventRecorder collects every event published on a bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func newEventRecorder(bus ports.EventBus) *eventRecorder {
	r := &eventRecorder{}
	bus.SubscribeAll(func(e domain.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *eventRecorder) Count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type() == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) Of(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

func transientErr() error {
	return &domain.ToolError{Tool: "yt-dlp", Status: domain.JobStatus{
		State: domain.JobFailed, ExitCode: 1, Stderr: "ERROR: HTTP Error 503: Service Unavailable",
	}}
}

func fatalErr() error {
	return &domain.ToolError{Tool: "yt-dlp", Status: domain.JobStatus{
		State: domain.JobFailed, ExitCode: 1, Stderr: "ERROR: Video unavailable",
	}}
}

func probeWith(formats ...domain.FormatDescriptor) func(context.Context, string) (*domain.ProbeResult, error) {
	return func(context.Context, string) (*domain.ProbeResult, error) {
		return &domain.ProbeResult{Title: "Probed", Duration: 3 * time.Minute, Formats: formats}, nil
	}
}

type pipelineFixture struct {
	pipeline *DownloadPipeline
	prober   *fakeProber
	fetcher  *fakeFetcher
	events   *eventRecorder
	bus      *eventbus.SyncEventBus
	dir      string
}

func newPipelineFixture(t *testing.T, muxer ports.Muxer, mutate func(*PipelineConfig)) *pipelineFixture {
	t.Helper()

	dir := t.TempDir()
	cfg := DefaultPipelineConfig(dir)
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.BackoffJitter = 0
	cfg.RequestsPerSecond = 0
	if mutate != nil {
		mutate(&cfg)
	}

	classifier, err := NewOutputClassifier(nil, nil)
	require.NoError(t, err)

	bus := eventbus.NewSyncEventBus(logger.NewTestLogger())
	f := &pipelineFixture{
		prober:  &fakeProber{probe: probeWith(muxed("22", "mp4", 720))},
		fetcher: &fakeFetcher{},
		events:  newEventRecorder(bus),
		bus:     bus,
		dir:     dir,
	}
	f.pipeline = NewDownloadPipeline(logger.NewTestLogger(), f.prober, f.fetcher, muxer, classifier, bus, cfg)
	t.Cleanup(func() { _ = f.pipeline.Shutdown() })
	return f
}

func waitJob(t *testing.T, job *DownloadJob) domain.DownloadOutcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := job.Wait(ctx)
	require.NoError(t, err, "job did not finish")
	return outcome
}

func TestDownloadPipeline_SingleFile(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)

	item := domain.NewRemoteItem("https://example.com/watch?v=1", "", false)
	job, created := f.pipeline.Submit(item)
	require.True(t, created)
	assert.Equal(t, domain.Resolving, item.State())

	outcome := waitJob(t, job)
	require.Equal(t, domain.OutcomeSingleFile, outcome.Kind)
	assert.FileExists(t, outcome.Path)
	assert.Equal(t, filepath.Join(f.dir, item.ID()), filepath.Dir(outcome.Path))

	assert.Equal(t, domain.Resolved, item.State())
	assert.Equal(t, []string{outcome.Path}, item.Source().Paths())
	assert.Equal(t, "Probed", item.Title())
	assert.Equal(t, 1, job.Attempts())
	assert.Equal(t, 0, f.pipeline.Active())

	assert.Equal(t, 1, f.events.Count(domain.EventDownloadStarted))
	assert.Equal(t, 1, f.events.Count(domain.EventDownloadCompleted))
	assert.Positive(t, f.events.Count(domain.EventDownloadProgress))
}

func TestDownloadPipeline_SplitWithoutMuxer(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)
	f.prober.probe = probeWith(videoOnly("137", "mp4", 1080), audioOnly("140", "m4a", 128))

	item := domain.NewRemoteItem("https://example.com/watch?v=2", "", false)
	job, _ := f.pipeline.Submit(item)

	outcome := waitJob(t, job)
	require.Equal(t, domain.OutcomeSplitAV, outcome.Kind)
	assert.FileExists(t, outcome.VideoPath)
	assert.FileExists(t, outcome.AudioPath)
	assert.True(t, item.Source().IsSplit())
	assert.Equal(t, 2, f.fetcher.Calls())
}

func TestDownloadPipeline_SplitMuxed(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, &fakeMuxer{}, nil)
	f.prober.probe = probeWith(videoOnly("137", "mp4", 1080), audioOnly("140", "m4a", 128))

	item := domain.NewRemoteItem("https://example.com/watch?v=3", "", false)
	job, _ := f.pipeline.Submit(item)

	outcome := waitJob(t, job)
	require.Equal(t, domain.OutcomeSingleFile, outcome.Kind)
	assert.Equal(t, "media.mkv", filepath.Base(outcome.Path))
	assert.Equal(t, []string{"media.mkv"}, testutil.ListFiles(t, f.pipeline.WorkDir(item)))
}

func TestDownloadPipeline_MuxFailureKeepsSplit(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, &fakeMuxer{err: errors.New("ffmpeg exploded")}, nil)
	f.prober.probe = probeWith(videoOnly("137", "mp4", 1080), audioOnly("140", "m4a", 128))

	job, _ := f.pipeline.Submit(domain.NewRemoteItem("https://example.com/watch?v=4", "", false))

	outcome := waitJob(t, job)
	assert.Equal(t, domain.OutcomeSplitAV, outcome.Kind)
}

func TestDownloadPipeline_RetriesTransientFailure(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)
	var calls atomic.Int32
	f.fetcher.fail = func(context.Context, ports.FetchRequest) error {
		if calls.Add(1) == 1 {
			return transientErr()
		}
		return nil
	}

	job, _ := f.pipeline.Submit(domain.NewRemoteItem("https://example.com/watch?v=5", "", false))

	outcome := waitJob(t, job)
	assert.Equal(t, domain.OutcomeSingleFile, outcome.Kind)
	assert.Equal(t, 2, job.Attempts())

	retries := f.events.Of(domain.EventDownloadRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, 1, retries[0].(domain.DownloadRetryEvent).Attempt)
}

func TestDownloadPipeline_ExhaustedRetriesLeaveNoFiles(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)
	f.fetcher.fail = func(context.Context, ports.FetchRequest) error { return transientErr() }

	item := domain.NewRemoteItem("https://example.com/watch?v=6", "", false)
	job, _ := f.pipeline.Submit(item)

	outcome := waitJob(t, job)
	require.Equal(t, domain.OutcomeFailed, outcome.Kind)
	assert.Equal(t, domain.FailureDownload, outcome.Failure)
	assert.Equal(t, 3, job.Attempts())
	assert.Empty(t, testutil.ListFiles(t, f.dir))

	assert.Equal(t, domain.ResolutionFailed, item.State())
	assert.Error(t, item.Failure())
	assert.Equal(t, 1, f.events.Count(domain.EventDownloadFailed))
}

func TestDownloadPipeline_PermanentFailureIsNotRetried(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)
	f.prober.probe = func(context.Context, string) (*domain.ProbeResult, error) { return nil, fatalErr() }

	job, _ := f.pipeline.Submit(domain.NewRemoteItem("https://example.com/watch?v=7", "", false))

	outcome := waitJob(t, job)
	assert.Equal(t, domain.FailureResolution, outcome.Failure)
	assert.Equal(t, 1, job.Attempts())
	assert.Contains(t, domain.Reason(outcome.Err), "Video unavailable")
}

func TestDownloadPipeline_NoFormats(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)
	f.prober.probe = probeWith()

	job, _ := f.pipeline.Submit(domain.NewRemoteItem("https://example.com/watch?v=8", "", false))

	outcome := waitJob(t, job)
	assert.Equal(t, domain.FailureResolution, outcome.Failure)
	assert.ErrorIs(t, outcome.Err, domain.ErrNoFormats)
	assert.Equal(t, 0, f.fetcher.Calls())
}

func TestDownloadPipeline_MissingToolIsConfiguration(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)
	f.prober.probe = func(context.Context, string) (*domain.ProbeResult, error) {
		return nil, errors.Join(domain.ErrToolMissing, errors.New("yt-dlp"))
	}

	job, _ := f.pipeline.Submit(domain.NewRemoteItem("https://example.com/watch?v=9", "", false))

	outcome := waitJob(t, job)
	assert.Equal(t, domain.FailureConfiguration, outcome.Failure)
	assert.Equal(t, 1, job.Attempts())
}

func TestDownloadPipeline_Cancel(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)
	started := make(chan struct{})
	f.fetcher.fail = func(ctx context.Context, _ ports.FetchRequest) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	item := domain.NewRemoteItem("https://example.com/watch?v=10", "", false)
	job, _ := f.pipeline.Submit(item)
	<-started
	assert.Equal(t, domain.OutcomePending, job.Outcome().Kind)

	job.Cancel()
	job.Cancel()

	outcome := waitJob(t, job)
	assert.Equal(t, domain.FailureCancelled, outcome.Failure)
	assert.Equal(t, 1, job.Attempts())
	assert.Empty(t, testutil.ListFiles(t, f.dir))
	assert.Equal(t, domain.ResolutionFailed, item.State())
}

func TestDownloadPipeline_SubmitJoinsRunningJob(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)
	release := make(chan struct{})
	f.fetcher.fail = func(context.Context, ports.FetchRequest) error {
		<-release
		return nil
	}

	item := domain.NewRemoteItem("https://example.com/watch?v=11", "", false)
	first, created := f.pipeline.Submit(item)
	require.True(t, created)
	second, created := f.pipeline.Submit(item)
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, 1, f.pipeline.Active())

	close(release)
	waitJob(t, first)

	// Resolved items come back as finished jobs without new work.
	again, created := f.pipeline.Submit(item)
	assert.False(t, created)
	assert.Equal(t, domain.OutcomeSingleFile, waitJob(t, again).Kind)
	assert.Equal(t, 1, f.fetcher.Calls())
}

func TestDownloadPipeline_LocalItemIsAlreadyResolved(t *testing.T) {
	f := newPipelineFixture(t, nil, nil)
	item := domain.NewLocalItem("/music/song.mp3", "")

	job, created := f.pipeline.Submit(item)
	assert.False(t, created)
	outcome := waitJob(t, job)
	assert.Equal(t, domain.SingleFile("/music/song.mp3"), outcome)
}

func TestDownloadPipeline_ShutdownCancelsJobs(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)
	started := make(chan struct{})
	f.fetcher.fail = func(ctx context.Context, _ ports.FetchRequest) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	job, _ := f.pipeline.Submit(domain.NewRemoteItem("https://example.com/watch?v=12", "", false))
	<-started

	require.NoError(t, f.pipeline.Shutdown())
	assert.Equal(t, domain.FailureCancelled, job.Outcome().Failure)

	late, created := f.pipeline.Submit(domain.NewRemoteItem("https://example.com/watch?v=13", "", false))
	assert.False(t, created)
	assert.ErrorIs(t, waitJob(t, late).Err, domain.ErrPipelineClosed)
}

func TestDownloadPipeline_Expand(t *testing.T) {
	f := newPipelineFixture(t, nil, nil)
	f.prober.expand = func(context.Context, string) ([]domain.RemoteDescriptor, error) {
		return []domain.RemoteDescriptor{
			{URL: "https://example.com/watch?v=a", Title: "A", Duration: time.Minute},
			{URL: "https://example.com/watch?v=b", Title: "B"},
		}, nil
	}

	playlist := domain.NewRemoteItem("https://example.com/playlist?list=x", "", true)
	entries, err := f.pipeline.Expand(context.Background(), playlist)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "A", entries[0].Title())
	assert.Equal(t, time.Minute, entries[0].Duration())
	assert.Equal(t, domain.KindRemoteSingle, entries[1].Kind())
	assert.Equal(t, domain.Resolved, playlist.State())

	// A second expansion reuses the entries.
	again, err := f.pipeline.Expand(context.Background(), playlist)
	require.NoError(t, err)
	assert.Equal(t, entries, again)
}

func TestDownloadPipeline_ExpandEmpty(t *testing.T) {
	f := newPipelineFixture(t, nil, nil)
	f.prober.expand = func(context.Context, string) ([]domain.RemoteDescriptor, error) { return nil, nil }

	playlist := domain.NewRemoteItem("https://example.com/playlist?list=y", "", true)
	_, err := f.pipeline.Expand(context.Background(), playlist)
	assert.ErrorIs(t, err, domain.ErrNoEntries)
	assert.Equal(t, domain.FailureResolution, domain.KindOf(err))
	assert.Equal(t, domain.ResolutionFailed, playlist.State())

	_, err = f.pipeline.Expand(context.Background(), domain.NewRemoteItem("https://example.com/v", "", false))
	assert.ErrorIs(t, err, domain.ErrInvalidSource)
}

func TestDownloadPipeline_DownloadPlaylist(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, func(cfg *PipelineConfig) { cfg.PlaylistWorkers = 2 })

	var inFlight, peak atomic.Int32
	f.fetcher.fail = func(_ context.Context, req ports.FetchRequest) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		if strings.HasSuffix(req.URL, "bad") {
			return fatalErr()
		}
		return nil
	}
	f.prober.expand = func(context.Context, string) ([]domain.RemoteDescriptor, error) {
		return []domain.RemoteDescriptor{
			{URL: "https://example.com/watch?v=1"},
			{URL: "https://example.com/watch?v=bad"},
			{URL: "https://example.com/watch?v=3"},
			{URL: "https://example.com/watch?v=4"},
		}, nil
	}

	playlist := domain.NewRemoteItem("https://example.com/playlist?list=z", "", true)
	entries, outcomes, err := f.pipeline.DownloadPlaylist(context.Background(), playlist)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Len(t, outcomes, 4)

	assert.Equal(t, domain.OutcomeFailed, outcomes[1].Kind)
	ok, failed := CountOutcomes(outcomes)
	assert.Equal(t, 3, ok)
	assert.Equal(t, 1, failed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDownloadPipeline_DownloadPlaylistRepeatedEntries(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)
	f := newPipelineFixture(t, nil, nil)

	f.prober.expand = func(context.Context, string) ([]domain.RemoteDescriptor, error) {
		return []domain.RemoteDescriptor{
			{URL: "https://example.com/watch?v=1"},
			{URL: "https://example.com/watch?v=2"},
			{URL: "https://example.com/watch?v=1"},
		}, nil
	}

	playlist := domain.NewRemoteItem("https://example.com/playlist?list=dup", "", true)
	entries, outcomes, err := f.pipeline.DownloadPlaylist(context.Background(), playlist)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "https://example.com/watch?v=1", entries[0].URL())
	assert.Equal(t, "https://example.com/watch?v=2", entries[1].URL())
	for i, entry := range entries {
		assert.Equal(t, domain.Resolved, entry.State(), "entry %d", i)
		assert.NotEqual(t, domain.OutcomeFailed, outcomes[i].Kind)
	}
	assert.Len(t, playlist.Entries(), 2)
}
