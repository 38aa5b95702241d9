// Package app wires configuration into running services and owns the
// process lifecycle for every run mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sniperlabs/sniperbot/internal/config"
)

// App holds the wired dependency graph and runs the configured mode.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App. Dependencies are wired lazily in Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until the
// context is cancelled or a subsystem fails fatally.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("backend", a.cfg.Executor.Backend),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "trade":
		return a.TradeMode(ctx, deps)
	case "monitor":
		return a.MonitorMode(ctx, deps)
	case "api":
		return a.APIMode(ctx, deps)
	case "all", "":
		return a.AllMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close releases wired resources in reverse order. Safe to call more than
// once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if a.closers[i] != nil {
			a.closers[i]()
			a.closers[i] = nil
		}
	}
	a.closers = nil
}
