// internal/poller/runner.go
package poller

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Run polls at the configured interval and emits one Sample per poll.
// Frame timestamps are milliseconds since start. No overlap. No retries.
func (p *Poller) Run(ctx context.Context, start time.Time, out chan<- Sample) {
	limiter := rate.NewLimiter(rate.Every(p.cfg.Interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		s := p.PollOnce(uint16(time.Since(start).Milliseconds()))
		select {
		case out <- s:
		case <-ctx.Done():
			return
		}
	}
}
