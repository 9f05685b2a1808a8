// Package connectivity tracks whether the remote system of record is reachable.
package connectivity

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ledgersync/go/internal/events"
)

// Source reports reachability. Watch blocks until ctx is done, calling fn with each
// observed state; it may repeat a state.
type Source interface {
	Reachable(ctx context.Context) bool
	Watch(ctx context.Context, fn func(reachable bool)) error
}

// Monitor holds the current state and announces transitions.
type Monitor struct {
	clock clockwork.Clock
	pub   events.Publisher

	mu       sync.RWMutex
	online   bool
	onOnline []func()
}

func NewMonitor(clock clockwork.Clock, pub events.Publisher) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{clock: clock, pub: pub}
}

// OnOnline registers fn to run on every offline to online transition.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	m.onOnline = append(m.onOnline, fn)
	m.mu.Unlock()
}

// Seed sets the initial state without announcing it.
func (m *Monitor) Seed(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Status returns "online" or "offline".
func (m *Monitor) Status() string {
	if m.Online() {
		return events.StatusOnline
	}
	return events.StatusOffline
}

// Set records an observed state. Repeats of the current state are ignored.
func (m *Monitor) Set(reachable bool) {
	m.mu.Lock()
	if m.online == reachable {
		m.mu.Unlock()
		return
	}
	m.online = reachable
	callbacks := append([]func(){}, m.onOnline...)
	m.mu.Unlock()

	status := events.StatusOffline
	if reachable {
		status = events.StatusOnline
	}
	now := m.clock.Now()
	log.Info().Str("status", status).Msg("connectivity changed")

	if m.pub != nil {
		ev, err := events.New(events.TypeConnectionChange, events.ConnectionChange{Status: status, Timestamp: now}, now)
		if err == nil {
			err = m.pub.Publish(context.Background(), ev)
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to publish connection change")
		}
	}

	if reachable {
		for _, fn := range callbacks {
			fn()
		}
	}
}

// Run seeds the state from src and then follows it until ctx is done.
func (m *Monitor) Run(ctx context.Context, src Source) error {
	m.Seed(src.Reachable(ctx))
	return m.Follow(ctx, src)
}

// Follow applies the states src reports until ctx is done.
func (m *Monitor) Follow(ctx context.Context, src Source) error {
	log.Info().Str("status", m.Status()).Msg("connectivity monitor started")
	err := src.Watch(ctx, m.Set)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
