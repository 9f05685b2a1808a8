package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/ledgersync/go/internal/engine"
	"github.com/mcdev12/ledgersync/go/internal/events"
	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/outbox"
)

// Connectivity modes.
const (
	ModePQ     = "pq"
	ModeProbe  = "probe"
	ModeManual = "manual"
)

type Config struct {
	Tables      []string      `yaml:"tables"`
	InitTimeout time.Duration `yaml:"init_timeout"`
	LogLevel    string        `yaml:"log_level"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Drain struct {
		Interval    time.Duration `yaml:"interval"`
		MaxRetries  int           `yaml:"max_retries"`
		ItemTimeout time.Duration `yaml:"item_timeout"`
	} `yaml:"drain"`

	Connectivity struct {
		Mode         string        `yaml:"mode"`
		PingInterval time.Duration `yaml:"ping_interval"`
		ProbeTimeout time.Duration `yaml:"probe_timeout"`
	} `yaml:"connectivity"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
}

func defaultConfig() *Config {
	def := engine.DefaultConfig()
	natsDef := events.DefaultNATSConfig()

	cfg := &Config{
		Tables:      models.DefaultTables(),
		InitTimeout: def.InitTimeout,
		LogLevel:    "info",
	}
	cfg.Database.Path = "ledgersync.db"
	cfg.Drain.Interval = def.Drain.Interval
	cfg.Drain.MaxRetries = def.Drain.MaxRetries
	cfg.Drain.ItemTimeout = def.Drain.ItemTimeout
	cfg.Connectivity.Mode = ModePQ
	cfg.Connectivity.PingInterval = 30 * time.Second
	cfg.Connectivity.ProbeTimeout = 5 * time.Second
	cfg.HTTP.Addr = ":8080"
	cfg.NATS.URL = natsDef.URL
	cfg.NATS.Subject = natsDef.Subject
	return cfg
}

// loadConfig layers defaults, the optional YAML file at path and the environment.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Database.Path = getEnv("LEDGERSYNC_DB_PATH", cfg.Database.Path)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Connectivity.Mode = getEnv("CONNECTIVITY_MODE", cfg.Connectivity.Mode)
	cfg.Drain.MaxRetries = getEnvAsInt("DRAIN_MAX_RETRIES", cfg.Drain.MaxRetries)
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTP.Addr = ":" + port
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.URL = url
		cfg.NATS.Enabled = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Connectivity.Mode {
	case ModePQ, ModeProbe, ModeManual:
	default:
		errs = append(errs, fmt.Errorf("connectivity.mode %q: must be one of pq, probe, manual", c.Connectivity.Mode))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Drain.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("drain.max_retries %d: must not be negative", c.Drain.MaxRetries))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q: %w", c.LogLevel, err))
	}
	return errors.Join(errs...)
}

func (c *Config) engineConfig() engine.Config {
	return engine.Config{
		Tables:      c.Tables,
		InitTimeout: c.InitTimeout,
		Drain: outbox.Config{
			Interval:    c.Drain.Interval,
			MaxRetries:  c.Drain.MaxRetries,
			ItemTimeout: c.Drain.ItemTimeout,
		},
	}
}

func (c *Config) natsConfig() events.NATSConfig {
	cfg := events.DefaultNATSConfig()
	cfg.URL = c.NATS.URL
	cfg.Subject = c.NATS.Subject
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
