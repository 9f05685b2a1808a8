package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type NATSConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "ledgersync.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSForwarder republishes bus events on <subject>.<type>.
type NATSForwarder struct {
	nc      *nats.Conn
	subject string
}

func NewNATSForwarder(cfg NATSConfig) (*NATSForwarder, error) {
	opts := []nats.Option{
		nats.Name("ledgersync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSForwarder{nc: nc, subject: cfg.Subject}, nil
}

func (f *NATSForwarder) Publish(ctx context.Context, ev Event) error {
	msg, err := buildMsg(f.subject, ev)
	if err != nil {
		return err
	}
	if err := f.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	log.Debug().Str("subject", msg.Subject).Str("event_id", ev.ID).Msg("forwarded event")
	return nil
}

// Connected reports the connection state for health checks.
func (f *NATSForwarder) Connected() bool {
	return f.nc != nil && f.nc.IsConnected()
}

func (f *NATSForwarder) Close() error {
	if f.nc != nil {
		return f.nc.Drain()
	}
	return nil
}

func buildMsg(subject string, ev Event) (*nats.Msg, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &nats.Msg{
		Subject: fmt.Sprintf("%s.%s", subject, ev.Type),
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(ev.Type)},
			"Event-ID":   []string{ev.ID},
		},
	}, nil
}
