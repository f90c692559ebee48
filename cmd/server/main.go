// Package main is the entry point for the Memora server.
//
// main() stays minimal on purpose: read configuration, create the logger,
// make sure the data directory exists, and hand everything to
// internal/server. All real logic lives in the imported packages, which
// keeps it testable without going through a process boundary.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/memora-app/memora/internal/config"
	"github.com/memora-app/memora/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Both SQLite files live under the same data directory by default;
	// create it so first boot does not fail on a missing path.
	for _, p := range []string{cfg.DocstorePath, cfg.IdentityDBPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logger.Error("creating data directory",
					slog.String("dir", dir),
					slog.String("error", err.Error()),
				)
				os.Exit(1)
			}
		}
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialise server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
