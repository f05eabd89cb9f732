// Package cli implements the pomelo command line.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tejashwikalptaru/pomelo/internal/app"
	"github.com/tejashwikalptaru/pomelo/internal/config"
)

// Run executes the command named by args[0]. Output goes to stdout; logs go
// to stderr.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &command{out: &printer{w: stdout}, stderr: stderr}
	if len(args) == 0 {
		c.usage()
		return nil
	}

	switch args[0] {
	case "play":
		return c.play(ctx, args[1:])
	case "download":
		return c.download(ctx, args[1:])
	case "probe":
		return c.probe(ctx, args[1:])
	case "update":
		return c.update(ctx, args[1:])
	case "doctor":
		return c.doctor(args[1:])
	case "version":
		c.out.Println(app.GetVersionInfo().FullString())
		return nil
	case "help", "-h", "--help":
		c.usage()
		return nil
	default:
		c.usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

type command struct {
	out    *printer
	stderr io.Writer
}

func (c *command) usage() {
	c.out.Println("pomelo: play and download local files and remote media")
	c.out.Println()
	c.out.Println("Commands:")
	c.out.Println("  play      queue inputs (files, folders, URLs) and play them in order")
	c.out.Println("  download  resolve inputs to local files without playing")
	c.out.Println("  probe     list the formats available for a URL")
	c.out.Println("  update    update yt-dlp to its latest release")
	c.out.Println("  doctor    check that the external tools are installed")
	c.out.Println("  version   print the version")
	c.out.Println()
	c.out.Println("Common flags:")
	c.out.Println("  --config <path>  config file (default " + config.DefaultPath() + ")")
}

// commonFlags are accepted by every command that builds the application.
type commonFlags struct {
	configPath string
	logLevel   string
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := &commonFlags{}
	fs.StringVar(&common.configPath, "config", config.DefaultPath(), "config file path")
	fs.StringVar(&common.logLevel, "log-level", "", "log level override: debug|info|warn|error")
	return fs, common
}

// settings loads the configuration and applies the flag overrides.
func (f *commonFlags) settings() (*config.Config, error) {
	cfg, err := config.Load(strings.TrimSpace(f.configPath))
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, cfg.Validate()
}

func (c *command) newApp(settings *config.Config, dryRun bool) (*app.Application, error) {
	return app.NewApplication(app.Config{
		Settings:  settings,
		DryRun:    dryRun,
		LogOutput: c.stderr,
	})
}

// printer serializes output from event handlers running on other goroutines.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) Println(args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, args...)
}

func (p *printer) JSON(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
