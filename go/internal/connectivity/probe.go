package connectivity

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/ledgersync/go/internal/remote"
)

// ProbeSource pings the remote on an interval.
type ProbeSource struct {
	pinger   remote.Pinger
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
}

func NewProbeSource(p remote.Pinger, clock clockwork.Clock, interval, timeout time.Duration) *ProbeSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ProbeSource{pinger: p, clock: clock, interval: interval, timeout: timeout}
}

func (s *ProbeSource) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.pinger.Ping(ctx) == nil
}

func (s *ProbeSource) Watch(ctx context.Context, fn func(bool)) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			fn(s.Reachable(ctx))
		}
	}
}
