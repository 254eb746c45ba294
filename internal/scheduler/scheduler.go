package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/singleflight"
)

// Replenisher fills the image cache from the external source.
type Replenisher interface {
	Replenish(ctx context.Context) error
}

// Aggregator rebuilds tag statistics from the cache.
type Aggregator interface {
	Recompute(ctx context.Context) error
}

// Scheduler runs the replenish-then-recompute sequence once at startup
// and then on a fixed recurring interval.
type Scheduler struct {
	replenisher Replenisher
	aggregator  Aggregator
	interval    time.Duration
	group       singleflight.Group
}

// New creates a scheduler. A zero interval defaults to 24 hours.
func New(r Replenisher, a Aggregator, interval time.Duration) *Scheduler {
	if interval == 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		replenisher: r,
		aggregator:  a,
		interval:    interval,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	fmt.Fprintln(os.Stderr, "scheduler: initial cache refresh...")
	s.RunOnce(ctx)

	fmt.Fprintf(os.Stderr, "scheduler: running (refresh every %s)\n", s.interval)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			fmt.Fprintln(os.Stderr, "scheduler: refreshing cache...")
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one replenish-then-recompute sequence. Concurrent
// callers, including a tick that fires while a previous run is still
// going, join the in-flight run instead of starting a second one.
// Failures are logged and the cycle abandoned; they never propagate to
// request handling.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.group.Do("refresh", func() (any, error) {
		if err := s.replenisher.Replenish(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "  replenish error: %v\n", err)
			return nil, nil
		}

		if err := s.aggregator.Recompute(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "  tag stats error: %v\n", err)
			return nil, nil
		}

		fmt.Fprintln(os.Stderr, "  cache refresh complete")
		return nil, nil
	})
}
