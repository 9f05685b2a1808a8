// Package gateway pushes engine events to browser clients over websockets and serves
// a plain JSON status endpoint.
package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ledgersync/go/internal/events"
)

// Engine is what the gateway needs from *engine.Engine.
type Engine interface {
	StatusSource
	Subscribe(buffer int) (<-chan events.Event, func())
}

type Config struct {
	Connection ConnectionConfig
	// EventBuffer is the engine subscription buffer.
	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		Connection:  DefaultConnectionConfig(),
		EventBuffer: 256,
	}
}

type Service struct {
	config  Config
	engine  Engine
	hub     *Hub
	handler *Handler
}

func NewService(config Config, engine Engine) *Service {
	hub := NewHub(config.Connection)
	return &Service{
		config:  config,
		engine:  engine,
		hub:     hub,
		handler: NewHandler(hub, engine),
	}
}

// Start relays engine events to connected clients until ctx is done.
func (s *Service) Start(ctx context.Context) {
	ch, unsubscribe := s.engine.Subscribe(s.config.EventBuffer)
	defer unsubscribe()

	log.Info().Msg("starting event gateway")
	s.hub.Run(ctx, ch)
	log.Info().Msg("event gateway stopped")
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.handler.RegisterRoutes(mux)
}

// Connections is the number of connected websocket clients.
func (s *Service) Connections() int {
	return s.hub.Count()
}
