// Package events publishes broadcast snapshots to NATS so consumers outside
// the process (recorders, stats dashboards) can tap the session stream.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/dartcounter/dartcounter/internal/match"
)

// PublisherConfig holds the NATS connection settings.
type PublisherConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultPublisherConfig returns the default NATS publisher configuration.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "darts.session",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Publisher implements session.SnapshotPublisher over a NATS connection.
// Publishing is fire-and-forget; the command path never waits on delivery.
type Publisher struct {
	nc     *nats.Conn
	config PublisherConfig
}

// NewPublisher connects to NATS with automatic reconnects.
func NewPublisher(config PublisherConfig) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
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

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().Str("url", config.URL).Str("subject_prefix", config.SubjectPrefix).Msg("NATS publisher connected")
	return &Publisher{nc: nc, config: config}, nil
}

// Publish sends the snapshot to <prefix>.<sessionCode>.
func (p *Publisher) Publish(snap match.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	subject := p.config.SubjectPrefix + "." + snap.SessionCode
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection so queued publishes flush before shutdown.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}
