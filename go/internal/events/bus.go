package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus fans events out to subscriber channels and to any attached sinks.
// Publish never blocks on a slow subscriber; events for a full channel are dropped.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	sinks  []Publisher
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a channel with the given buffer. The returned func unsubscribes
// and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Attach adds an external sink such as a NATSForwarder.
func (b *Bus) Attach(p Publisher) {
	b.mu.Lock()
	b.sinks = append(b.sinks, p)
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Int("subscriber", id).Str("type", string(ev.Type)).Msg("subscriber channel full, dropping event")
		}
	}
	for _, sink := range b.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to forward event")
		}
	}
	return nil
}
