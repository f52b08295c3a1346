// Command stub-backend stands in for the real backend during development.
// Build it as binaries/refsearch-backend-<goos>-<goarch> next to the
// supervisor to exercise the bundled launch path.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/sidecar/internal/stub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := stub.ConfigFromEnv()
	if err := stub.Run(ctx, cfg); err != nil {
		cfg.Logger.Error("stub backend failed", "error", err)
		os.Exit(1)
	}
}
