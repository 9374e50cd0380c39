// Package reaper runs the periodic lease sweep. Crash recovery needs no
// special path: every stale lease is reclaimed by the same conditional
// updates the sweep uses in steady state.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"mintline/internal/engine"
)

type Reaper struct {
	Engine   engine.Engine
	Interval time.Duration
	Logger   *slog.Logger
}

// Run sweeps once immediately, then on every tick until the context ends.
func (r Reaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	r.sweep(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r Reaper) sweep(ctx context.Context) {
	if _, err := r.Engine.Sweep(ctx); err != nil {
		if r.Logger != nil {
			r.Logger.Error("sweep failed", "error", err.Error())
		}
	}
}
