// Package ffmpeg provides the mux capability used to combine split downloads.
package ffmpeg

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/ports"
)

const toolName = "ffmpeg"

// Muxer joins a video-only and an audio-only file without re-encoding.
type Muxer struct {
	logger  *slog.Logger
	runner  ports.JobRunner
	binary  string
	timeout time.Duration
}

// NewMuxer creates a new muxer.
func NewMuxer(logger *slog.Logger, runner ports.JobRunner, binary string, timeout time.Duration) *Muxer {
	if binary == "" {
		binary = toolName
	}
	return &Muxer{
		logger:  logger,
		runner:  runner,
		binary:  binary,
		timeout: timeout,
	}
}

// Available reports whether the ffmpeg executable can be found.
func Available(binary string) bool {
	if binary == "" {
		binary = toolName
	}
	_, err := exec.LookPath(binary)
	return err == nil
}

// Mux writes outputPath from the first video stream of videoPath and the first
// audio stream of audioPath. A failed mux leaves no output file behind.
func (m *Muxer) Mux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
		outputPath,
	}

	st := m.runner.Run(domain.JobSpec{Command: m.binary, Args: args}, m.timeout, nil).Wait(ctx)
	if st.State != domain.JobSucceeded {
		if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to remove partial mux output",
				slog.String("path", outputPath),
				slog.Any("error", err))
		}
		return &domain.ToolError{Tool: toolName, Status: st}
	}

	m.logger.Debug("muxed streams",
		slog.String("video", videoPath),
		slog.String("audio", audioPath),
		slog.String("output", outputPath))
	return nil
}

// Verify that Muxer implements the Muxer interface
var _ ports.Muxer = (*Muxer)(nil)
