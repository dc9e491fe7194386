package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject prefix events are published under.
const DefaultSubject = "lognexus.events"

// NATSConfig configures a NATSPublisher.
type NATSConfig struct {
	URL     string
	Subject string
	// Name identifies the connection on the NATS server.
	Name string
}

type msgPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON to "<subject>.<event type>".
type NATSPublisher struct {
	nc      *nats.Conn
	pub     msgPublisher
	subject string
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	opts := []nats.Option{nats.MaxReconnects(-1)}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	p := newNATSPublisher(nc, cfg.Subject)
	p.nc = nc
	return p, nil
}

func newNATSPublisher(pub msgPublisher, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{pub: pub, subject: subject}
}

// Subject returns the subject an event of type t is published to.
func (p *NATSPublisher) Subject(t EventType) string {
	return p.subject + "." + string(t)
}

// Publish implements Broadcaster.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.pub.Publish(p.Subject(ev.Type), body); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

// Ping reports whether the connection to NATS is up.
func (p *NATSPublisher) Ping(_ context.Context) error {
	if p.nc == nil {
		return nil
	}
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats %s", p.nc.Status())
	}
	return nil
}
