// Package broadcast fans alert and server events out to live subscribers.
package broadcast

import (
	"context"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// EventType names a broadcast event.
type EventType string

const (
	EventAlertTriggered      EventType = "alert.triggered"
	EventAlertAcknowledged   EventType = "alert.acknowledged"
	EventAlertResolved       EventType = "alert.resolved"
	EventAlertSuppressed     EventType = "alert.suppressed"
	EventServerStatusChanged EventType = "server.status_changed"
)

// Event is a single broadcast message.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// ServerStatusChange is the payload of EventServerStatusChanged.
type ServerStatusChange struct {
	ServerName     string              `json:"server_name"`
	PreviousStatus models.ServerStatus `json:"previous_status,omitempty"`
	Status         models.ServerStatus `json:"status"`
	LastHeartbeat  *time.Time          `json:"last_heartbeat,omitempty"`
}

// InstanceEvent returns the event for an instance status change.
func InstanceEvent(t EventType, inst *models.AlertInstance, at time.Time) Event {
	return Event{Type: t, Timestamp: at, Data: inst}
}

// TransitionEvent maps an instance status to its event type.
func TransitionEvent(to models.InstanceStatus) EventType {
	switch to {
	case models.InstanceAcknowledged:
		return EventAlertAcknowledged
	case models.InstanceResolved:
		return EventAlertResolved
	case models.InstanceSuppressed:
		return EventAlertSuppressed
	default:
		return EventAlertTriggered
	}
}

// Broadcaster publishes events. Publish must not block on slow consumers.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Broadcaster.
func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every broadcaster, returning the first error.
type Multi []Broadcaster

// Publish implements Broadcaster.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
