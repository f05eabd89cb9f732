// Package config loads the application configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "POMELO_CONFIG"

// Config holds the complete application configuration.
type Config struct {
	Tools     ToolsConfig     `yaml:"tools"`
	Runner    RunnerConfig    `yaml:"runner"`
	Downloads DownloadsConfig `yaml:"downloads"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
}

// ToolsConfig locates the external tools.
type ToolsConfig struct {
	YtDlp      string   `yaml:"ytdlp" env:"POMELO_YTDLP"`
	YtDlpArgs  []string `yaml:"ytdlp_args,omitempty" env:"POMELO_YTDLP_ARGS"`
	FFmpeg     string   `yaml:"ffmpeg" env:"POMELO_FFMPEG"`
	Player     string   `yaml:"player" env:"POMELO_PLAYER"`
	PlayerArgs []string `yaml:"player_args" env:"POMELO_PLAYER_ARGS"`
	UseNightly bool     `yaml:"use_nightly" env:"POMELO_USE_NIGHTLY"`
}

// RunnerConfig bounds subprocess jobs.
type RunnerConfig struct {
	MaxProcesses  int           `yaml:"max_processes" env:"POMELO_MAX_PROCESSES"`
	KillGrace     time.Duration `yaml:"kill_grace" env:"POMELO_KILL_GRACE"`
	OutputLimit   int           `yaml:"output_limit" env:"POMELO_OUTPUT_LIMIT"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" env:"POMELO_PROBE_TIMEOUT"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" env:"POMELO_FETCH_TIMEOUT"`
	MuxTimeout    time.Duration `yaml:"mux_timeout" env:"POMELO_MUX_TIMEOUT"`
	UpdateTimeout time.Duration `yaml:"update_timeout" env:"POMELO_UPDATE_TIMEOUT"`
}

// DownloadsConfig drives the download pipeline.
type DownloadsConfig struct {
	Dir string `yaml:"dir" env:"POMELO_DOWNLOAD_DIR"`

	// Quality caps the video height. Zero means best available.
	Quality int `yaml:"quality" env:"POMELO_QUALITY"`

	// Container is the preferred container: mp4, webm or mkv.
	Container string `yaml:"container" env:"POMELO_CONTAINER"`

	MaxAttempts         int           `yaml:"max_attempts" env:"POMELO_MAX_ATTEMPTS"`
	RetryBackoff        time.Duration `yaml:"retry_backoff" env:"POMELO_RETRY_BACKOFF"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff" env:"POMELO_RETRY_MAX_BACKOFF"`
	PlaylistConcurrency int           `yaml:"playlist_concurrency" env:"POMELO_PLAYLIST_CONCURRENCY"`

	// RequestsPerSecond throttles tool launches that hit the network.
	// Zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"POMELO_REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"POMELO_BURST"`

	// MuxSplit combines split results into one file when ffmpeg is available.
	MuxSplit bool `yaml:"mux_split" env:"POMELO_MUX_SPLIT"`

	// TransientPatterns are regular expressions over tool output that mark
	// a failure as worth retrying. They extend the built-in set.
	TransientPatterns []string `yaml:"transient_patterns,omitempty"`

	// TransientExitCodes are tool exit codes that mark a failure as worth
	// retrying regardless of output.
	TransientExitCodes []int `yaml:"transient_exit_codes,omitempty" env:"POMELO_TRANSIENT_EXIT_CODES"`
}

// SessionConfig drives the playback session.
type SessionConfig struct {
	AutoAdvanceOnError     bool          `yaml:"auto_advance_on_error" env:"POMELO_AUTO_ADVANCE"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" env:"POMELO_MAX_CONSECUTIVE_FAILURES"`
	Wrap                   bool          `yaml:"wrap" env:"POMELO_WRAP"`
	SaveInterval           time.Duration `yaml:"save_interval" env:"POMELO_SAVE_INTERVAL"`
	ResumeFile             string        `yaml:"resume_file" env:"POMELO_RESUME_FILE"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level" env:"POMELO_LOG_LEVEL"`
	Format string `yaml:"format" env:"POMELO_LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Tools: ToolsConfig{
			YtDlp:      "yt-dlp",
			FFmpeg:     "ffmpeg",
			Player:     "mpv",
			PlayerArgs: []string{"--no-terminal", "--start={start}", "--audio-file={audio}", "{input}"},
		},
		Runner: RunnerConfig{
			MaxProcesses:  4,
			KillGrace:     3 * time.Second,
			OutputLimit:   64 * 1024,
			ProbeTimeout:  45 * time.Second,
			FetchTimeout:  30 * time.Minute,
			MuxTimeout:    10 * time.Minute,
			UpdateTimeout: 2 * time.Minute,
		},
		Downloads: DownloadsConfig{
			Dir:                 filepath.Join(dataDir(os.UserCacheDir), "downloads"),
			Quality:             1080,
			Container:           "mp4",
			MaxAttempts:         3,
			RetryBackoff:        2 * time.Second,
			RetryMaxBackoff:     30 * time.Second,
			PlaylistConcurrency: 2,
			RequestsPerSecond:   2,
			Burst:               2,
			MuxSplit:            true,
		},
		Session: SessionConfig{
			AutoAdvanceOnError:     true,
			MaxConsecutiveFailures: 3,
			SaveInterval:           15 * time.Second,
			ResumeFile:             filepath.Join(dataDir(os.UserConfigDir), "state.yaml"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns the config file location: $POMELO_CONFIG, or
// config.yaml in the user config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(dataDir(os.UserConfigDir), "config.yaml")
}

func dataDir(base func() (string, error)) string {
	dir, err := base()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "pomelo")
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields that carry an env tag with the variables that
// are set. Lists are comma separated.
func (c *Config) ApplyEnv() error {
	return applyEnv(reflect.ValueOf(c).Elem())
}

func applyEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := applyEnv(field); err != nil {
				return err
			}
			continue
		}

		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setField(field, strings.TrimSpace(value)); err != nil {
			return domain.NewValidationError(name, value, err.Error())
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if field.Type().Elem().Kind() != reflect.Int {
			field.Set(reflect.ValueOf(parts))
			return nil
		}
		codes := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return err
			}
			codes = append(codes, n)
		}
		field.Set(reflect.ValueOf(codes))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

var containers = map[string]bool{"mp4": true, "webm": true, "mkv": true}

// Validate checks the configuration for values the services cannot use.
func (c *Config) Validate() error {
	switch {
	case c.Tools.YtDlp == "":
		return domain.NewValidationError("tools.ytdlp", c.Tools.YtDlp, "must not be empty")
	case c.Runner.MaxProcesses < 0:
		return domain.NewValidationError("runner.max_processes", c.Runner.MaxProcesses, "must not be negative")
	case c.Runner.KillGrace <= 0:
		return domain.NewValidationError("runner.kill_grace", c.Runner.KillGrace, "must be positive")
	case c.Runner.ProbeTimeout <= 0:
		return domain.NewValidationError("runner.probe_timeout", c.Runner.ProbeTimeout, "must be positive")
	case c.Runner.FetchTimeout < 0:
		return domain.NewValidationError("runner.fetch_timeout", c.Runner.FetchTimeout, "must not be negative")
	case c.Downloads.Dir == "":
		return domain.NewValidationError("downloads.dir", c.Downloads.Dir, "must not be empty")
	case c.Downloads.Quality < 0:
		return domain.NewValidationError("downloads.quality", c.Downloads.Quality, "must not be negative")
	case !containers[c.Downloads.Container]:
		return domain.NewValidationError("downloads.container", c.Downloads.Container, "must be one of mp4, webm, mkv")
	case c.Downloads.MaxAttempts < 1:
		return domain.NewValidationError("downloads.max_attempts", c.Downloads.MaxAttempts, "must be at least 1")
	case c.Downloads.RetryBackoff <= 0:
		return domain.NewValidationError("downloads.retry_backoff", c.Downloads.RetryBackoff, "must be positive")
	case c.Downloads.RetryMaxBackoff < c.Downloads.RetryBackoff:
		return domain.NewValidationError("downloads.retry_max_backoff", c.Downloads.RetryMaxBackoff, "must not be below retry_backoff")
	case c.Downloads.PlaylistConcurrency < 1:
		return domain.NewValidationError("downloads.playlist_concurrency", c.Downloads.PlaylistConcurrency, "must be at least 1")
	case c.Downloads.RequestsPerSecond < 0:
		return domain.NewValidationError("downloads.requests_per_second", c.Downloads.RequestsPerSecond, "must not be negative")
	case c.Downloads.RequestsPerSecond > 0 && c.Downloads.Burst < 1:
		return domain.NewValidationError("downloads.burst", c.Downloads.Burst, "must be at least 1")
	case c.Session.MaxConsecutiveFailures < 1:
		return domain.NewValidationError("session.max_consecutive_failures", c.Session.MaxConsecutiveFailures, "must be at least 1")
	case c.Session.SaveInterval < 0:
		return domain.NewValidationError("session.save_interval", c.Session.SaveInterval, "must not be negative")
	}

	for _, code := range c.Downloads.TransientExitCodes {
		if code < 0 {
			return domain.NewValidationError("downloads.transient_exit_codes", code, "must not be negative")
		}
	}
	for _, p := range c.Downloads.TransientPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return domain.NewValidationError("downloads.transient_patterns", p, err.Error())
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return domain.NewValidationError("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return domain.NewValidationError("log.format", c.Log.Format, "must be text or json")
	}
	return nil
}
