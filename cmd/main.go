// Package main is the entry point for the pomelo command.
//
// Build:
//
//	go build -o build/pomelo ./cmd
//
// Run:
//
//	./build/pomelo play ~/Music https://www.youtube.com/watch?v=...
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tejashwikalptaru/pomelo/internal/cli"
)

func main() {
	// Interrupts stop playback and downloads; deferred shutdowns still run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
