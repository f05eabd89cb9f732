package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
	"github.com/tejashwikalptaru/pomelo/internal/service"
)

func (c *command) play(ctx context.Context, args []string) error {
	fs, common := newFlagSet("play", c.stderr)
	dryRun := fs.Bool("dry-run", false, "resolve and sequence items without launching a player")
	resume := fs.Bool("resume", false, "restore the queue saved by the previous session first")
	shuffle := fs.Bool("shuffle", false, "play in shuffled order")
	reverse := fs.Bool("reverse", false, "play from the end of the queue backwards")
	wrap := fs.Bool("wrap", false, "continue from the other end when the queue runs out")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 && !*resume {
		return errors.New("play: at least one input is required (or use --resume)")
	}

	settings, err := common.settings()
	if err != nil {
		return err
	}
	application, err := c.newApp(settings, *dryRun)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	if *resume {
		if err := application.LoadSavedState(); err != nil {
			application.Logger().Warn("failed to load saved state", slog.Any("error", err))
		}
	}
	if fs.NArg() > 0 {
		n, err := application.Enqueue(ctx, fs.Args())
		if err != nil {
			c.out.Printf("some inputs were skipped: %v\n", err)
		}
		c.out.Printf("queued %d item(s)\n", n)
	}

	session := application.Session()
	if *shuffle && !session.Shuffled() {
		if _, err := session.ToggleShuffle(); err != nil {
			return err
		}
	}
	if *reverse && session.Direction() != domain.Reverse {
		if _, err := session.ToggleReverse(); err != nil {
			return err
		}
	}
	if *wrap {
		if err := session.SetWrap(true); err != nil {
			return err
		}
	}

	for _, id := range c.watchPlayback(application.EventBus()) {
		defer application.EventBus().Unsubscribe(id)
	}

	err = application.Play(ctx)
	if errors.Is(err, context.Canceled) {
		c.out.Println("stopped")
		return nil
	}
	return err
}

// watchPlayback prints session and download progress.
func (c *command) watchPlayback(bus ports.EventBus) []domain.SubscriptionID {
	return []domain.SubscriptionID{
		bus.Subscribe(domain.EventItemLoading, func(event domain.Event) {
			if ev, ok := event.(domain.ItemLoadingEvent); ok {
				c.out.Printf("loading  [%d] %s\n", ev.Index+1, ev.Title)
			}
		}),
		bus.Subscribe(domain.EventItemStarted, func(event domain.Event) {
			if ev, ok := event.(domain.ItemStartedEvent); ok {
				c.out.Printf("playing  [%d] %s\n", ev.Index+1, ev.Title)
			}
		}),
		bus.Subscribe(domain.EventPlaybackError, func(event domain.Event) {
			if ev, ok := event.(domain.PlaybackErrorEvent); ok {
				c.out.Printf("failed   %s: %s\n", ev.Kind, ev.Reason)
			}
		}),
		bus.Subscribe(domain.EventQueueExhausted, func(domain.Event) {
			c.out.Println("end of queue")
		}),
		bus.Subscribe(domain.EventDownloadRetry, c.printRetry),
	}
}

func (c *command) printRetry(event domain.Event) {
	if ev, ok := event.(domain.DownloadRetryEvent); ok {
		c.out.Printf("retrying %s (attempt %d in %s): %v\n", ev.ItemID, ev.Attempt, ev.Delay.Round(time.Millisecond), ev.Err)
	}
}

type outcomeReport struct {
	Kind    string   `json:"kind"`
	Paths   []string `json:"paths,omitempty"`
	Failure string   `json:"failure,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (c *command) download(ctx context.Context, args []string) error {
	fs, common := newFlagSet("download", c.stderr)
	dir := fs.String("dir", "", "download directory override")
	quality := fs.Int("quality", -1, "maximum video height (0 = best available)")
	container := fs.String("container", "", "preferred container: mp4|webm|mkv")
	jsonOut := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("download: at least one input is required")
	}

	settings, err := common.settings()
	if err != nil {
		return err
	}
	if *dir != "" {
		settings.Downloads.Dir = *dir
	}
	if *quality >= 0 {
		settings.Downloads.Quality = *quality
	}
	if *container != "" {
		settings.Downloads.Container = strings.ToLower(*container)
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	application, err := c.newApp(settings, true)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	if !*jsonOut {
		bus := application.EventBus()
		defer bus.Unsubscribe(bus.Subscribe(domain.EventDownloadRetry, c.printRetry))
		defer bus.Unsubscribe(bus.Subscribe(domain.EventDownloadProgress, func(event domain.Event) {
			if ev, ok := event.(domain.DownloadProgressEvent); ok && ev.Progress.Percentage() >= 0 {
				c.out.Printf("\r%s %-6s %5.1f%%", ev.Progress.ItemID, ev.Progress.Stream, ev.Progress.Percentage())
			}
		}))
	}

	outcomes, err := application.Download(ctx, fs.Args())
	succeeded, failed := service.CountOutcomes(outcomes)

	if *jsonOut {
		reports := make([]outcomeReport, 0, len(outcomes))
		for _, o := range outcomes {
			r := outcomeReport{Kind: o.Kind.String(), Paths: o.Paths()}
			if o.Err != nil {
				r.Failure = o.Failure.String()
				r.Error = o.Err.Error()
			}
			reports = append(reports, r)
		}
		if jsonErr := c.out.JSON(reports); jsonErr != nil {
			return jsonErr
		}
		return err
	}

	c.out.Println()
	for _, o := range outcomes {
		if o.Kind == domain.OutcomeFailed {
			c.out.Printf("failed: %s\n", domain.Reason(o.Err))
			continue
		}
		c.out.Printf("%s: %s\n", o.Kind, strings.Join(o.Paths(), " + "))
	}
	c.out.Printf("downloaded %d, failed %d\n", succeeded, failed)
	return err
}

type probeReport struct {
	ID       string                    `json:"id"`
	Title    string                    `json:"title"`
	Duration string                    `json:"duration"`
	Formats  []domain.FormatDescriptor `json:"formats"`
}

func (c *command) probe(ctx context.Context, args []string) error {
	fs, common := newFlagSet("probe", c.stderr)
	jsonOut := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("probe: exactly one URL is required")
	}

	settings, err := common.settings()
	if err != nil {
		return err
	}
	application, err := c.newApp(settings, true)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	res, err := application.Probe(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	duration := domain.FormatTimestamp(res.Duration.Seconds(), false)
	if *jsonOut {
		return c.out.JSON(probeReport{ID: res.ID, Title: res.Title, Duration: duration, Formats: res.Formats})
	}

	c.out.Printf("%s [%s] %s\n", res.Title, res.ID, duration)
	for _, f := range res.Formats {
		streams := "video+audio"
		switch {
		case f.HasVideo && !f.HasAudio:
			streams = "video only"
		case !f.HasVideo && f.HasAudio:
			streams = "audio only"
		}
		resolution := "-"
		if f.HasVideo {
			resolution = fmt.Sprintf("%dx%d", f.Width, f.Height)
		}
		c.out.Printf("  %-10s %-5s %-10s %-12s %s\n", f.ID, f.Container, resolution, streams, formatSize(f.ApproxSize))
	}
	return nil
}

func (c *command) update(ctx context.Context, args []string) error {
	fs, common := newFlagSet("update", c.stderr)
	nightly := fs.Bool("nightly", false, "use the nightly channel")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := common.settings()
	if err != nil {
		return err
	}
	if *nightly {
		settings.Tools.UseNightly = true
	}
	application, err := c.newApp(settings, true)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	out, err := application.UpdateTools(ctx)
	if err != nil {
		return err
	}
	if out != "" {
		c.out.Println(out)
	}
	if version, err := application.ToolVersion(ctx); err == nil {
		c.out.Printf("yt-dlp %s\n", version)
	}
	return nil
}

func (c *command) doctor(args []string) error {
	fs, common := newFlagSet("doctor", c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := common.settings()
	if err != nil {
		return err
	}
	application, err := c.newApp(settings, false)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	missing := 0
	for _, dep := range application.Dependencies() {
		status := "ok (" + dep.Path + ")"
		if !dep.Found() {
			status = "missing"
			if dep.Required {
				missing++
				status += ", required"
			}
		}
		c.out.Printf("%s: %s %s\n", dep.Name, dep.Binary, status)
	}
	if missing > 0 {
		return fmt.Errorf("doctor: %d required tool(s) missing", missing)
	}
	c.out.Println("doctor: all checks passed")
	return nil
}

func formatSize(n int64) string {
	if n <= 0 {
		return "?"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
