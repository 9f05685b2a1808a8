package main

import (
	"context"
	"io"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ledgersync/go/internal/dbconfig"
	"github.com/mcdev12/ledgersync/go/internal/engine"
	"github.com/mcdev12/ledgersync/go/internal/engineapi"
	"github.com/mcdev12/ledgersync/go/internal/events"
	"github.com/mcdev12/ledgersync/go/internal/gateway"
	"github.com/mcdev12/ledgersync/go/internal/outbox"
	"github.com/mcdev12/ledgersync/go/internal/remote"
)

type Services struct {
	Engine   *engine.Engine
	API      *engineapi.Service
	Gateway  *gateway.Service
	Registry *prometheus.Registry

	closers []func()
}

// setupServices wires storage, the hosted database, connectivity, event sinks and
// metrics into an engine and the surfaces that expose it. The engine is not
// initialized yet.
func setupServices(ctx context.Context, cfg *Config, dbCfg dbconfig.Config) (*Services, error) {
	s := &Services{Registry: prometheus.NewRegistry()}
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	clock := clockwork.NewRealClock()

	open, err := setupLocalStore(cfg)
	if err != nil {
		return nil, err
	}

	// Remote: pgx pool → collaborator, which doubles as the probe pinger.
	var collaborator remote.Collaborator = remote.Unconfigured{}
	var pinger remote.Pinger
	pool, err := setupRemote(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		s.closers = append(s.closers, pool.Close)
		pg := remote.NewPostgresCollaborator(pool)
		collaborator, pinger = pg, pg
	}

	source := setupSource(cfg, dbCfg, pinger, clock)
	if c, ok := source.(io.Closer); ok {
		s.closers = append(s.closers, func() { _ = c.Close() })
	}

	bus := events.NewBus()
	if cfg.NATS.Enabled {
		fwd, err := events.NewNATSForwarder(cfg.natsConfig())
		if err != nil {
			// Events still reach in-process subscribers.
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("nats unavailable, events will not be forwarded")
		} else {
			bus.Attach(fwd)
			s.closers = append(s.closers, func() { _ = fwd.Close() })
		}
	}

	s.Engine = engine.New(cfg.engineConfig(), engine.Deps{
		Open:    open,
		Remote:  collaborator,
		Source:  source,
		Clock:   clock,
		Bus:     bus,
		Metrics: outbox.NewPrometheusMetrics(s.Registry),
	})
	s.API = engineapi.NewService(s.Engine)
	s.Gateway = gateway.NewService(gateway.DefaultConfig(), s.Engine)
	return s, nil
}

// Close shuts the engine down, then the connections it depended on.
func (s *Services) Close() {
	if err := s.Engine.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close engine")
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
