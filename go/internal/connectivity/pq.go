package connectivity

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type pqListener interface {
	Ping() error
	Close() error
}

// PQSource follows the connection events of a lib/pq LISTEN connection, so a dropped
// or restored link to the hosted database is noticed without polling. A periodic ping
// catches half-open connections.
type PQSource struct {
	listener     pqListener
	states       chan bool
	clock        clockwork.Clock
	pingInterval time.Duration
}

// NewPQSource starts a listener connection that reconnects in the background. It
// subscribes to no channels; only the connection lifecycle is of interest.
func NewPQSource(dsn string, clock clockwork.Clock, pingInterval time.Duration) *PQSource {
	s := newPQSource(nil, clock, pingInterval)
	s.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, s.handleEvent)
	return s
}

func newPQSource(l pqListener, clock clockwork.Clock, pingInterval time.Duration) *PQSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if pingInterval <= 0 {
		pingInterval = 90 * time.Second
	}
	return &PQSource{
		listener:     l,
		states:       make(chan bool, 8),
		clock:        clock,
		pingInterval: pingInterval,
	}
}

func (s *PQSource) handleEvent(ev pq.ListenerEventType, err error) {
	if err != nil {
		log.Error().Err(err).Msg("listener event")
	}
	reachable, ok := stateFor(ev)
	if !ok {
		return
	}
	select {
	case s.states <- reachable:
	default:
	}
}

func stateFor(ev pq.ListenerEventType) (reachable bool, known bool) {
	switch ev {
	case pq.ListenerEventConnected, pq.ListenerEventReconnected:
		return true, true
	case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
		return false, true
	}
	return false, false
}

func (s *PQSource) Reachable(ctx context.Context) bool {
	return s.listener.Ping() == nil
}

func (s *PQSource) Watch(ctx context.Context, fn func(bool)) error {
	ticker := s.clock.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-s.states:
			fn(r)
		case <-ticker.Chan():
			fn(s.listener.Ping() == nil)
		}
	}
}

func (s *PQSource) Close() error {
	return s.listener.Close()
}
