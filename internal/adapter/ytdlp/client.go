// Package ytdlp drives the yt-dlp command-line tool through the job runner.
// It provides the probe, playlist expansion and fetch capabilities.
package ytdlp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

const toolName = "yt-dlp"

// Config holds yt-dlp invocation settings.
type Config struct {
	// Binary is the executable name or path.
	Binary string

	// ProbeTimeout bounds metadata and playlist lookups.
	ProbeTimeout time.Duration

	// FetchTimeout bounds a single stream download. Zero means no limit.
	FetchTimeout time.Duration

	// UpdateTimeout bounds self-update runs.
	UpdateTimeout time.Duration

	// ExtraArgs are appended to every invocation (e.g. cookies or proxy flags).
	ExtraArgs []string
}

// DefaultConfig returns the default yt-dlp configuration.
func DefaultConfig() Config {
	return Config{
		Binary:        "yt-dlp",
		ProbeTimeout:  45 * time.Second,
		FetchTimeout:  30 * time.Minute,
		UpdateTimeout: 2 * time.Minute,
	}
}

// Client runs yt-dlp.
type Client struct {
	logger *slog.Logger
	runner ports.JobRunner
	cfg    Config
}

// NewClient creates a new yt-dlp client.
func NewClient(logger *slog.Logger, runner ports.JobRunner, cfg Config) *Client {
	return &Client{
		logger: logger,
		runner: runner,
		cfg:    cfg,
	}
}

// Probe lists the formats of a single item.
func (c *Client) Probe(ctx context.Context, url string) (*domain.ProbeResult, error) {
	args := []string{"-J", "--no-warnings", "--no-playlist", "--", url}
	st, err := c.runDocument(ctx, args)
	if err != nil {
		return nil, err
	}

	res, err := parseProbe([]byte(st.Stdout))
	if err != nil {
		return nil, err
	}
	c.logger.Debug("probed item",
		slog.String("url", url),
		slog.String("title", res.Title),
		slog.Int("formats", len(res.Formats)))
	return res, nil
}

// Expand lists the entries of a playlist without resolving each one.
func (c *Client) Expand(ctx context.Context, url string) ([]domain.RemoteDescriptor, error) {
	args := []string{"-J", "--flat-playlist", "--no-warnings", "--", url}
	st, err := c.runDocument(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseEntries([]byte(st.Stdout))
}

// Fetch downloads one format into req.Dir and returns the final file path.
func (c *Client) Fetch(ctx context.Context, req ports.FetchRequest) (string, error) {
	name := req.Name
	if name == "" {
		name = "%(id)s.%(format_id)s"
	}
	args := []string{
		"-f", req.FormatID,
		"-P", req.Dir,
		"-o", name + ".%(ext)s",
		"--no-playlist",
		"--no-warnings",
		"-q",
		"--progress",
		"--newline",
		"--progress-template", progressTemplate,
		"--print", "after_move:filepath",
		"--", req.URL,
	}

	var mu sync.Mutex
	var lines []string
	onLine := func(line string, stderr bool) {
		if downloaded, total, ok := parseProgress(line); ok {
			if req.OnProgress != nil {
				req.OnProgress(downloaded, total)
			}
			return
		}
		if !stderr {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		}
	}

	if _, err := c.run(ctx, args, c.cfg.FetchTimeout, onLine); err != nil {
		return "", err
	}

	mu.Lock()
	dest := parseDestination(lines)
	mu.Unlock()

	path, err := locateOutput(req.Dir, req.Name, dest)
	if err != nil {
		return "", err
	}
	c.logger.Debug("fetched stream",
		slog.String("url", req.URL),
		slog.String("format_id", req.FormatID),
		slog.String("path", path))
	return path, nil
}

// Update moves the installed tool to the latest stable or nightly release.
// It returns the tool's final status line.
func (c *Client) Update(ctx context.Context, nightly bool) (string, error) {
	channel := "stable@latest"
	if nightly {
		channel = "nightly@latest"
	}
	st, err := c.run(ctx, []string{"--update-to", channel}, c.cfg.UpdateTimeout, nil)
	if err != nil {
		return "", err
	}
	return st.LastErrorLine(), nil
}

// Version returns the installed tool version.
func (c *Client) Version(ctx context.Context) (string, error) {
	st, err := c.runDocument(ctx, []string{"--version"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(st.Stdout), nil
}

func (c *Client) command(args []string) domain.JobSpec {
	return domain.JobSpec{
		Command: c.cfg.Binary,
		Args:    append(append([]string(nil), c.cfg.ExtraArgs...), args...),
	}
}

func (c *Client) run(ctx context.Context, args []string, timeout time.Duration, onLine ports.LineFunc) (domain.JobStatus, error) {
	return c.wait(ctx, c.command(args), timeout, onLine)
}

// runDocument runs a metadata command whose stdout is parsed as a whole.
// JSON dumps easily exceed the runner's output tail, so stdout is kept in full.
func (c *Client) runDocument(ctx context.Context, args []string) (domain.JobStatus, error) {
	spec := c.command(args)
	spec.FullStdout = true
	return c.wait(ctx, spec, c.cfg.ProbeTimeout, nil)
}

func (c *Client) wait(ctx context.Context, spec domain.JobSpec, timeout time.Duration, onLine ports.LineFunc) (domain.JobStatus, error) {
	st := c.runner.Run(spec, timeout, onLine).Wait(ctx)
	if st.State != domain.JobSucceeded {
		return st, &domain.ToolError{Tool: toolName, Status: st}
	}
	return st, nil
}

// locateOutput confirms the reported destination exists. When the tool did
// not report one, it falls back to the single finished file named after the
// request.
func locateOutput(dir, name, reported string) (string, error) {
	if reported != "" {
		if !filepath.IsAbs(reported) {
			reported = filepath.Join(dir, reported)
		}
		if _, err := os.Stat(reported); err == nil {
			return reported, nil
		}
	}

	if name == "" {
		return "", fmt.Errorf("%w in %s", domain.ErrNoDestination, dir)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, globEscape(name)+".*"))
	candidates := matches[:0]
	for _, m := range matches {
		switch filepath.Ext(m) {
		case ".part", ".ytdl", ".temp", ".tmp":
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w for %s in %s", domain.ErrNoDestination, name, dir)
	}
	sort.Strings(candidates)
	return candidates[0], nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}

// Verify that Client implements the tool interfaces
var (
	_ ports.Prober  = (*Client)(nil)
	_ ports.Fetcher = (*Client)(nil)
)
