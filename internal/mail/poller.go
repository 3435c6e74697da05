package mail

import (
	"context"
	"time"
)

// DefaultPollInterval is how often a session rebuilds its mailbox.
const DefaultPollInterval = 30 * time.Second

// Poller calls a function at a fixed interval until its context is
// cancelled. Ticks that arrive while a call is still running are dropped,
// so calls never overlap.
type Poller struct {
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   Logger
}

// NewPoller creates a Poller. A non-positive interval selects
// DefaultPollInterval.
func NewPoller(interval time.Duration, fn func(ctx context.Context) error, logger Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{interval: interval, fn: fn, logger: logger}
}

// Interval returns the configured poll interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Run blocks until ctx is done. Errors from fn are logged and polling
// continues.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.fn(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn("poll failed", "error", err)
			}
		}
	}
}
