// Package events publishes synthesis lifecycle events to NATS when the
// daemon is configured to participate in a wider automation setup. Publishing
// is strictly best-effort: the daemon never blocks or fails a request on the
// event stream.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiki-dev/hibikid/internal/config"
	"github.com/nats-io/nats.go"
)

// Publisher wraps a NATS connection. A nil Publisher is valid and publishes
// nothing, so callers never branch on whether events are enabled.
type Publisher struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect establishes the NATS connection. Returns (nil, nil) when events
// are disabled.
func Connect(cfg config.EventsConfig, log *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("hibikid"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))
	return &Publisher{conn: conn, log: log}, nil
}

// Publish marshals payload and publishes it on subject. Failures are logged
// and swallowed.
func (p *Publisher) Publish(subject string, payload any) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("failed to marshal event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn("failed to publish event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.log.Info("closing NATS connection")
	_ = p.conn.Drain()
	p.conn.Close()
}

// Healthy reports whether the connection is up. A nil Publisher is healthy.
func (p *Publisher) Healthy() bool {
	return p == nil || (p.conn != nil && p.conn.Status() == nats.CONNECTED)
}
