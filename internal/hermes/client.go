// Package hermes connects Resemble to the Hermes NATS message bus.
package hermes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// maxDeliver bounds redelivery of a nak'd post event.
const maxDeliver = 3

// Client is the service's single bus connection. Publishing goes over core
// NATS; subscriptions prefer a durable JetStream consumer.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// NewClient connects to url. Connection attempts keep retrying in the
// background, so a bus that is briefly down at startup is not fatal.
func NewClient(url string, logger *slog.Logger) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("resemble"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("hermes disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("hermes reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug("hermes connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	return &Client{conn: nc, js: js, logger: logger}, nil
}

// Publish sends data on subject over core NATS.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe attaches handler to subject through a durable JetStream
// consumer named durable. When no stream covers the subject it falls back
// to a plain core subscription, which loses events sent while the service
// is down.
func (c *Client) Subscribe(subject, durable string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.Subscribe(subject, handler,
		nats.Durable(durable),
		nats.DeliverAll(),
		nats.AckExplicit(),
		nats.MaxDeliver(maxDeliver),
	)
	if err == nil {
		return sub, nil
	}

	c.logger.Warn("JetStream subscribe failed, using core NATS", "subject", subject, "error", err)
	sub, err = c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub, nil
}

// Drain flushes pending messages and closes the connection.
func (c *Client) Drain() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Drain()
}

// Close closes the connection without draining.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected reports whether the bus is reachable right now.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
