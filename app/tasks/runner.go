package tasks

import (
	"context"
	"log/slog"
	"time"
)

// Periodic runs a job on a fixed interval until the context is cancelled.
// Errors are logged and the schedule keeps going.
type Periodic struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Fn         func(ctx context.Context) error
}

func (p Periodic) Run(ctx context.Context) {
	slog.Info("Starting periodic task", "task", p.Name, "interval", p.Interval)

	if p.RunAtStart {
		p.runOnce(ctx)
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping periodic task", "task", p.Name)
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p Periodic) runOnce(ctx context.Context) {
	if err := p.Fn(ctx); err != nil {
		slog.Error("Periodic task failed", "task", p.Name, "error", err)
	}
}
