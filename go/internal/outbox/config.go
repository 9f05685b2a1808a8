package outbox

import "time"

type Config struct {
	// Interval between periodic passes while online.
	Interval time.Duration
	// MaxRetries is the attempt count at which an entry is dropped.
	MaxRetries int
	// ItemTimeout bounds each remote call.
	ItemTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		MaxRetries:  3,
		ItemTimeout: 15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = def.ItemTimeout
	}
	return c
}
