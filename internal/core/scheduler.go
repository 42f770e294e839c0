package core

// scheduler.go runs background maintenance: idle import sessions and bulk
// controllers are cancelled after config.SessionConfig.IdleTTL so abandoned
// backend sessions do not pile up.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/config"
)

// Reaper drops state that has been idle for longer than ttl and returns how
// many items it removed.
type Reaper interface {
	ReapIdle(ctx context.Context, ttl time.Duration) int
}

// RunSessionReaper reaps every interval until ctx is cancelled. Run it in
// its own goroutine.
func RunSessionReaper(ctx context.Context, cfg config.SessionConfig, reapers ...Reaper) {
	slog.Info("session reaper started",
		"idle_ttl", cfg.IdleTTL.String(),
		"interval", cfg.ReapInterval.String())

	ticker := time.NewTicker(cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session reaper stopped")
			return
		case <-ticker.C:
			reapOnce(ctx, cfg.IdleTTL, reapers)
		}
	}
}

func reapOnce(ctx context.Context, ttl time.Duration, reapers []Reaper) int {
	start := time.Now()
	total := 0
	for _, r := range reapers {
		total += r.ReapIdle(ctx, ttl)
	}
	if total > 0 {
		slog.Info("reaped idle sessions",
			"count", total,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return total
}
