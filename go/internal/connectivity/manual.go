package connectivity

import (
	"context"
	"sync"
)

// ManualSource is driven by the host application, for example from a platform
// network-change callback.
type ManualSource struct {
	mu        sync.Mutex
	reachable bool
	updates   chan bool
}

func NewManualSource(initial bool) *ManualSource {
	return &ManualSource{reachable: initial, updates: make(chan bool, 16)}
}

// Set pushes a new state. It does not block; if the watcher is far behind only the
// current value matters, and Reachable still reports it.
func (s *ManualSource) Set(reachable bool) {
	s.mu.Lock()
	s.reachable = reachable
	s.mu.Unlock()

	select {
	case s.updates <- reachable:
	default:
	}
}

func (s *ManualSource) Reachable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable
}

func (s *ManualSource) Watch(ctx context.Context, fn func(bool)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-s.updates:
			fn(r)
		}
	}
}
