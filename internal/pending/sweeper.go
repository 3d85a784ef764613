package pending

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec is the cron schedule used when none is configured.
const DefaultSweepSpec = "@every 30s"

// Sweeper discards expired pending state. Implemented by Slot and by the
// dispatcher, which wraps the slot sweep in its own lock.
type Sweeper interface {
	Sweep(now time.Time) bool
}

// StartSweeper runs s.Sweep on the cron schedule spec until ctx is done or
// the returned stop function is called.
func StartSweeper(ctx context.Context, spec string, s Sweeper, logger *slog.Logger) (func(), error) {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if s.Sweep(time.Now()) {
			logger.Info("expired pending action discarded")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	c.Start()
	logger.Debug("pending sweeper started", slog.String("schedule", spec))

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return func() {
		cancel()
		<-done
	}, nil
}
