// Package bus publishes match and tournament events to NATS so other
// services can follow results without polling the database.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Publisher sends a JSON-encoded value to a subject
type Publisher interface {
	Publish(ctx context.Context, subject string, v interface{}) error
	Close()
}

// NATSPublisher publishes over a NATS connection
type NATSPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials url and returns a publisher named after the service
func Connect(url, name string) (*NATSPublisher, error) {
	logger := log.With().Str("component", "bus").Logger()
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("Connected to NATS server")
	return &NATSPublisher{conn: conn, logger: logger}, nil
}

// Publish encodes v as JSON. Delivery is fire-and-forget; ctx is only
// checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing %s: %w", subject, err)
	}
	return nil
}

// Conn exposes the underlying connection for subscribers
func (p *NATSPublisher) Conn() *nats.Conn {
	return p.conn
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to flush NATS connection")
	}
	p.conn.Close()
}

// Nop discards everything. It is used when the bus is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, string, interface{}) error { return nil }
func (Nop) Close()                                             {}
