// Package events publishes presence and call lifecycle events for other
// services to consume. Publishing is best effort and never blocks a handler
// on a broker that is down.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	TopicPresence = "presence"
	TopicCall     = "call"
)

type PresenceEvent struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
}

type CallEvent struct {
	RoomID   string    `json:"roomId"`
	CallerID string    `json:"callerId"`
	CalleeID string    `json:"calleeId"`
	Kind     string    `json:"kind"`
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close()                                     {}

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATS publishes events as JSON on "<prefix>.<topic>".
type NATS struct {
	nc     conn
	prefix string
	log    *slog.Logger
}

// ConnectNATS dials url and keeps reconnecting in the background for as
// long as the process runs.
func ConnectNATS(url, prefix string, log *slog.Logger) (*NATS, error) {
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("redskord"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return newNATS(nc, prefix, log), nil
}

func newNATS(nc conn, prefix string, log *slog.Logger) *NATS {
	return &NATS{nc: nc, prefix: prefix, log: log}
}

func (p *NATS) Subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

func (p *NATS) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	if err := p.nc.Publish(p.Subject(topic), data); err != nil {
		p.log.Warn("event publish failed", "subject", p.Subject(topic), "error", err)
		return err
	}
	return nil
}

// Close flushes pending events and closes the connection.
func (p *NATS) Close() {
	if err := p.nc.Drain(); err != nil {
		p.log.Warn("NATS drain failed", "error", err)
	}
}
