// Package app wires Pomelo together.
// It builds every adapter and service from the configuration and manages
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/tejashwikalptaru/pomelo/internal/adapter/backend/external"
	"github.com/tejashwikalptaru/pomelo/internal/adapter/backend/mock"
	"github.com/tejashwikalptaru/pomelo/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/pomelo/internal/adapter/ffmpeg"
	"github.com/tejashwikalptaru/pomelo/internal/adapter/metadata"
	"github.com/tejashwikalptaru/pomelo/internal/adapter/process"
	"github.com/tejashwikalptaru/pomelo/internal/adapter/repository/file"
	"github.com/tejashwikalptaru/pomelo/internal/adapter/repository/memory"
	"github.com/tejashwikalptaru/pomelo/internal/adapter/ytdlp"
	"github.com/tejashwikalptaru/pomelo/internal/config"
	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/logger"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
	"github.com/tejashwikalptaru/pomelo/internal/service"
)

// Application is the main application container.
// It holds all dependencies and manages the application lifecycle.
type Application struct {
	config Config
	logger *slog.Logger

	// Infrastructure
	eventBus     *eventbus.SyncEventBus
	toolRunner   *process.Runner
	playerRunner *process.Runner
	ytdlp        *ytdlp.Client
	backend      ports.MediaBackend
	resumeRepo   ports.ResumeRepository

	// Services
	items    *service.ItemFactory
	queue    *service.Queue
	pipeline *service.DownloadPipeline
	session  *service.Session

	shutdownOnce sync.Once
}

// Config holds the application configuration.
type Config struct {
	Settings *config.Config

	// DryRun plays through the mock backend and keeps resume state in memory.
	DryRun bool

	// LogOutput receives the logs. Defaults to stderr.
	LogOutput io.Writer
}

// DefaultConfig returns the default application configuration.
func DefaultConfig() Config {
	return Config{Settings: config.Default()}
}

// NewApplication creates a new application with dependency injection.
// This is where all components are wired together.
func NewApplication(cfg Config) (*Application, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	settings := cfg.Settings

	app := &Application{config: cfg}

	// Step 1: Create logger
	app.logger = logger.NewLogger(logger.Config{
		Level:  logger.ParseLevel(settings.Log.Level, slog.LevelInfo),
		Format: settings.Log.Format,
		Output: cfg.LogOutput,
	})
	app.logger.Info("starting", slog.String("version", GetVersionInfo().FullString()), slog.Bool("dry_run", cfg.DryRun))

	// Step 2: Create event bus
	app.eventBus = eventbus.NewSyncEventBus(app.logger.With(slog.String("component", "eventbus")))
	app.eventBus.SubscribeAll(func(event domain.Event) {
		app.logger.Debug("event", slog.String("type", string(event.Type())))
	})

	// Step 3: Create subprocess runners and tool clients.
	// The player gets its own unbounded runner so a playing item never
	// waits behind downloads for a process slot.
	runnerCfg := process.Config{
		MaxProcesses: settings.Runner.MaxProcesses,
		KillGrace:    settings.Runner.KillGrace,
		OutputLimit:  settings.Runner.OutputLimit,
	}
	app.toolRunner = process.NewRunner(app.logger.With(slog.String("component", "runner")), runnerCfg)
	runnerCfg.MaxProcesses = 0
	app.playerRunner = process.NewRunner(app.logger.With(slog.String("component", "player-runner")), runnerCfg)

	app.ytdlp = ytdlp.NewClient(app.logger.With(slog.String("component", "ytdlp")), app.toolRunner, ytdlp.Config{
		Binary:        settings.Tools.YtDlp,
		ProbeTimeout:  settings.Runner.ProbeTimeout,
		FetchTimeout:  settings.Runner.FetchTimeout,
		UpdateTimeout: settings.Runner.UpdateTimeout,
		ExtraArgs:     settings.Tools.YtDlpArgs,
	})

	var muxer ports.Muxer
	if settings.Downloads.MuxSplit && settings.Tools.FFmpeg != "" && ffmpeg.Available(settings.Tools.FFmpeg) {
		muxer = ffmpeg.NewMuxer(app.logger.With(slog.String("component", "ffmpeg")), app.toolRunner, settings.Tools.FFmpeg, settings.Runner.MuxTimeout)
	} else {
		app.logger.Info("split downloads will not be muxed", slog.String("ffmpeg", settings.Tools.FFmpeg))
	}

	// Step 4: Create media backend
	if cfg.DryRun {
		backend := mock.NewBackend()
		backend.SetLogger(app.logger.With(slog.String("component", "backend")))
		app.backend = backend
	} else {
		playerCfg := external.DefaultConfig()
		playerCfg.Command = settings.Tools.Player
		if len(settings.Tools.PlayerArgs) > 0 {
			playerCfg.Args = settings.Tools.PlayerArgs
		}
		app.backend = external.NewPlayer(app.logger.With(slog.String("component", "backend")), app.playerRunner, playerCfg)
	}

	// Step 5: Create repositories
	if cfg.DryRun || settings.Session.ResumeFile == "" {
		app.resumeRepo = memory.NewResumeRepository()
	} else {
		app.resumeRepo = file.NewResumeRepository(settings.Session.ResumeFile)
	}

	// Step 6: Create services
	classifier, err := service.NewOutputClassifier(settings.Downloads.TransientPatterns, settings.Downloads.TransientExitCodes)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	pipelineCfg := service.DefaultPipelineConfig(settings.Downloads.Dir)
	pipelineCfg.Policy = service.FormatPolicy{MaxHeight: settings.Downloads.Quality, Container: settings.Downloads.Container}
	pipelineCfg.MaxAttempts = settings.Downloads.MaxAttempts
	pipelineCfg.InitialBackoff = settings.Downloads.RetryBackoff
	pipelineCfg.MaxBackoff = settings.Downloads.RetryMaxBackoff
	pipelineCfg.PlaylistWorkers = settings.Downloads.PlaylistConcurrency
	pipelineCfg.RequestsPerSecond = settings.Downloads.RequestsPerSecond
	pipelineCfg.Burst = settings.Downloads.Burst
	pipelineCfg.MuxSplit = settings.Downloads.MuxSplit

	app.pipeline = service.NewDownloadPipeline(app.logger, app.ytdlp, app.ytdlp, muxer, classifier, app.eventBus, pipelineCfg)
	app.items = service.NewItemFactory(app.logger, metadata.NewTagReader())
	app.queue = service.NewQueue(service.WithWrap(settings.Session.Wrap))
	app.session = service.NewSession(app.logger, app.queue, app.pipeline, app.backend, app.eventBus, app.resumeRepo, service.SessionConfig{
		AutoAdvanceOnError:     settings.Session.AutoAdvanceOnError,
		MaxConsecutiveFailures: settings.Session.MaxConsecutiveFailures,
		SaveInterval:           settings.Session.SaveInterval,
	})

	app.logger.Info("all services initialized")
	return app, nil
}

// Logger returns the application logger.
func (a *Application) Logger() *slog.Logger { return a.logger }

// EventBus returns the event bus.
func (a *Application) EventBus() ports.EventBus { return a.eventBus }

// Session returns the playback session.
func (a *Application) Session() *service.Session { return a.session }

// Pipeline returns the download pipeline.
func (a *Application) Pipeline() *service.DownloadPipeline { return a.pipeline }

// Items returns the item factory.
func (a *Application) Items() *service.ItemFactory { return a.items }

// Dependency describes an external tool and whether it was found.
type Dependency struct {
	Name     string
	Binary   string
	Path     string
	Required bool
}

// Found reports whether the tool is on the PATH.
func (d Dependency) Found() bool { return d.Path != "" }

// Dependencies reports the external tools Pomelo drives.
func (a *Application) Dependencies() []Dependency {
	tools := a.config.Settings.Tools
	deps := []Dependency{
		{Name: "yt-dlp", Binary: tools.YtDlp, Required: true},
		{Name: "ffmpeg", Binary: tools.FFmpeg},
		{Name: "player", Binary: tools.Player, Required: !a.config.DryRun},
	}
	for i := range deps {
		if deps[i].Binary == "" {
			continue
		}
		if path, err := exec.LookPath(deps[i].Binary); err == nil {
			deps[i].Path = path
		}
	}
	return deps
}

// LoadSavedState restores the queue from the previous session.
func (a *Application) LoadSavedState() error {
	state, err := a.resumeRepo.Load()
	if err != nil {
		return fmt.Errorf("failed to load resume state: %w", err)
	}
	if len(state.Items) == 0 {
		return nil
	}
	return a.session.Restore(state)
}

// Enqueue builds items from inputs and appends them to the session queue.
// Inputs that cannot be used are reported in the error; the rest are queued.
func (a *Application) Enqueue(ctx context.Context, inputs []string) (int, error) {
	items, buildErr := a.items.FromInputs(ctx, inputs)
	if len(items) == 0 {
		if buildErr == nil {
			buildErr = domain.ErrQueueEmpty
		}
		return 0, buildErr
	}
	if err := a.session.Enqueue(items...); err != nil {
		return 0, errors.Join(buildErr, err)
	}
	return len(items), buildErr
}

// Play starts the session and blocks until playback settles: the queue is
// exhausted, the session is stopped, playback halts on an error, or ctx ends.
func (a *Application) Play(ctx context.Context) error {
	if len(a.session.Items()) == 0 {
		return domain.ErrQueueEmpty
	}

	settle := make(chan domain.Transport, 16)
	notify := func(t domain.Transport) {
		select {
		case settle <- t:
		default:
		}
	}
	subs := []domain.SubscriptionID{
		a.eventBus.Subscribe(domain.EventStateChanged, func(event domain.Event) {
			if ev, ok := event.(domain.StateChangedEvent); ok {
				notify(ev.Current)
			}
		}),
		a.eventBus.Subscribe(domain.EventQueueExhausted, func(domain.Event) {
			notify(domain.TransportIdle)
		}),
	}
	defer func() {
		for _, id := range subs {
			a.eventBus.Unsubscribe(id)
		}
	}()

	if err := a.session.Play(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-settle:
			if t != domain.TransportIdle && t != domain.TransportError {
				continue
			}
			// Auto-advance may already have moved on from an error.
			st, err := a.session.Settled()
			if err != nil {
				return err
			}
			switch st.Transport {
			case domain.TransportIdle:
				return nil
			case domain.TransportError:
				return domain.NewMediaError(st.FailureKind, "play", st.NowPlaying, st.Reason, nil)
			}
		}
	}
}

// Download resolves every input to local files without playing them.
// Playlists are expanded and their entries downloaded concurrently.
func (a *Application) Download(ctx context.Context, inputs []string) ([]domain.DownloadOutcome, error) {
	items, buildErr := a.items.FromInputs(ctx, inputs)

	var (
		outcomes []domain.DownloadOutcome
		errs     = []error{buildErr}
	)
	for _, item := range items {
		switch item.Kind() {
		case domain.KindRemotePlaylist:
			_, results, err := a.pipeline.DownloadPlaylist(ctx, item)
			if err != nil {
				errs = append(errs, err)
			}
			outcomes = append(outcomes, results...)
		default:
			job, _ := a.pipeline.Submit(item)
			outcome, err := job.Wait(ctx)
			if err != nil {
				job.Cancel()
				errs = append(errs, err)
				return outcomes, errors.Join(errs...)
			}
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes, errors.Join(errs...)
}

// Probe lists the formats available for a remote URL.
func (a *Application) Probe(ctx context.Context, url string) (*domain.ProbeResult, error) {
	return a.ytdlp.Probe(ctx, url)
}

// UpdateTools moves yt-dlp to its latest release on the configured channel.
func (a *Application) UpdateTools(ctx context.Context) (string, error) {
	return a.ytdlp.Update(ctx, a.config.Settings.Tools.UseNightly)
}

// ToolVersion returns the installed yt-dlp version.
func (a *Application) ToolVersion(ctx context.Context) (string, error) {
	return a.ytdlp.Version(ctx)
}

// Shutdown gracefully shuts down the application.
// Safe to call more than once.
func (a *Application) Shutdown() error {
	var errs []error
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down application")

		// Shutdown services (in reverse order of creation)
		if a.session != nil {
			if err := a.session.Shutdown(); err != nil {
				a.logger.Warn("failed to shutdown session", slog.Any("error", err))
				errs = append(errs, err)
			}
		}
		if a.pipeline != nil {
			if err := a.pipeline.Shutdown(); err != nil {
				a.logger.Warn("failed to shutdown pipeline", slog.Any("error", err))
				errs = append(errs, err)
			}
		}

		errs = append(errs, a.closeInfrastructure()...)
		a.logger.Info("application shutdown complete")
	})
	return errors.Join(errs...)
}

func (a *Application) closeInfrastructure() []error {
	var errs []error
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("failed to close backend", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	for _, r := range []*process.Runner{a.playerRunner, a.toolRunner} {
		if r == nil {
			continue
		}
		if err := r.Shutdown(); err != nil {
			a.logger.Warn("failed to shutdown runner", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	if a.eventBus != nil {
		if err := a.eventBus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
