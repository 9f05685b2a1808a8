package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ledgersync/go/internal/connectivity"
	"github.com/mcdev12/ledgersync/go/internal/dbconfig"
	"github.com/mcdev12/ledgersync/go/internal/remote"
	"github.com/mcdev12/ledgersync/go/internal/store"
	"github.com/mcdev12/ledgersync/go/internal/store/sqlite"
)

// setupLocalStore returns an opener for the on-device database, creating its
// directory if needed.
func setupLocalStore(cfg *Config) (store.Opener, error) {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	log.Info().Str("path", cfg.Database.Path).Msg("using local database")
	return sqlite.Opener(cfg.Database.Path), nil
}

// setupRemote connects to the hosted database. A nil pool with a nil error means no
// remote is configured and the engine runs local-only.
func setupRemote(ctx context.Context, dbCfg dbconfig.Config) (*pgxpool.Pool, error) {
	if !dbCfg.Configured() {
		log.Warn().Msg("no hosted database configured, changes stay queued locally")
		return nil, nil
	}

	pool, err := remote.NewPostgresPool(ctx, remote.PoolConfig{
		URI:      dbCfg.DSN(),
		MinConns: int32(dbCfg.MinConns),
		MaxConns: int32(dbCfg.MaxConns),
		Lazy:     true,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("dsn", dbCfg.Redacted()).Msg("hosted database pool ready")
	return pool, nil
}

// setupSource picks how reachability of the hosted database is observed.
func setupSource(cfg *Config, dbCfg dbconfig.Config, pinger remote.Pinger, clock clockwork.Clock) connectivity.Source {
	if pinger == nil {
		return connectivity.NewManualSource(false)
	}
	switch cfg.Connectivity.Mode {
	case ModePQ:
		return connectivity.NewPQSource(dbCfg.DSN(), clock, cfg.Connectivity.PingInterval)
	case ModeProbe:
		return connectivity.NewProbeSource(pinger, clock, cfg.Connectivity.PingInterval, cfg.Connectivity.ProbeTimeout)
	default:
		return connectivity.NewManualSource(true)
	}
}
