// Package dbconfig reads connection settings for the hosted Postgres database the
// engine replays into.
package dbconfig

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Config holds Postgres connection settings. URL, when set, wins over the parts.
type Config struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MinConns int
	MaxConns int
}

// NewConfigFromEnv reads DATABASE_URL and the DB_* variables, with defaults.
func NewConfigFromEnv() Config {
	return Config{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "ledger"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		MinConns: getEnvAsInt("DB_MIN_CONNS", 0),
		MaxConns: getEnvAsInt("DB_MAX_CONNS", 4),
	}
}

// Configured reports whether a hosted database was named at all. Without one the
// engine runs local-only.
func (c Config) Configured() bool {
	return c.URL != "" || c.Host != ""
}

// DSN returns the Postgres connection URL.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Redacted is DSN with the password masked, for logs.
func (c Config) Redacted() string {
	u, err := url.Parse(c.DSN())
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
