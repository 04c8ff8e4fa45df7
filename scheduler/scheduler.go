// Package scheduler provides the fixed-rate tick source that paces
// dashboard redraws.
package scheduler

import (
	"context"
	"time"

	"github.com/gaugelab/speedboard/metrics"
)

// DefaultTicksPerSecond matches the dashboard's 30 fps refresh.
const DefaultTicksPerSecond = 30

// Scheduler invokes a callback at a fixed rate. Each tick is scheduled
// against the absolute period boundary rather than re-armed after the
// callback returns, so a slow frame does not push later frames back.
type Scheduler struct {
	period time.Duration
}

// New returns a scheduler that fires n times per second. Zero or negative
// n falls back to DefaultTicksPerSecond.
func New(n int) *Scheduler {
	if n <= 0 {
		n = DefaultTicksPerSecond
	}
	return &Scheduler{period: time.Second / time.Duration(n)}
}

// Period returns the tick interval.
func (s *Scheduler) Period() time.Duration {
	return s.period
}

// Run invokes onTick once per period until ctx is done, then returns
// ctx.Err(). The callback runs on Run's goroutine and must not block;
// redrawing with no new data is expected to be harmless.
//
// Liveness guarantee: Run returns within one period of ctx being canceled.
func (s *Scheduler) Run(ctx context.Context, onTick func(time.Time)) error {
	timer := time.NewTimer(s.period)
	defer timer.Stop()
	next := time.Now().Add(s.period)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-timer.C:
			onTick(now)
			metrics.Ticks.Inc()
			next = next.Add(s.period)
			wait := time.Until(next)
			if wait <= 0 {
				// The callback overran at least one full period. Realign to
				// now instead of bursting to catch up.
				next = time.Now().Add(s.period)
				wait = s.period
			}
			timer.Reset(wait)
		}
	}
}
