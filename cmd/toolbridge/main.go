// Command toolbridge serves the Claude Messages API on top of an
// OpenAI-compatible chat completions backend.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/florianilch/toolbridge/cmd/toolbridge/commands"
)

// Set at build time via -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Errors before the start command configures logging go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	// SIGINT/SIGTERM cancel the root context; the start command drains
	// in-flight streams before returning.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, os.Args, version, commit); err != nil {
		slog.ErrorContext(ctx, "toolbridge failed", "error", err)
		stop()
		os.Exit(1)
	}
}
