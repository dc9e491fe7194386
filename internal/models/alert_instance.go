package models

import "time"

// InstanceStatus is the lifecycle state of an AlertInstance.
type InstanceStatus string

const (
	InstanceNew          InstanceStatus = "New"
	InstanceAcknowledged InstanceStatus = "Acknowledged"
	InstanceResolved     InstanceStatus = "Resolved"
	InstanceSuppressed   InstanceStatus = "Suppressed"
)

// legalSources maps a target status to the statuses it may be entered from.
// Resolved and Suppressed are terminal.
var legalSources = map[InstanceStatus][]InstanceStatus{
	InstanceAcknowledged: {InstanceNew},
	InstanceResolved:     {InstanceNew, InstanceAcknowledged},
	InstanceSuppressed:   {InstanceNew, InstanceAcknowledged},
}

// SourcesFor returns the statuses from which to may be entered.
func SourcesFor(to InstanceStatus) []InstanceStatus {
	return legalSources[to]
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to InstanceStatus) bool {
	for _, s := range legalSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceResolved || s == InstanceSuppressed
}

// Valid reports whether s is a known status.
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceNew, InstanceAcknowledged, InstanceResolved, InstanceSuppressed:
		return true
	}
	return false
}

// NotificationRecord is the outcome of delivering one instance to one
// recipient on one channel.
type NotificationRecord struct {
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// AlertInstance is one firing of an Alert.
type AlertInstance struct {
	ID        string `json:"id"`
	AlertID   string `json:"alert_id"`
	AlertName string `json:"alert_name"`

	// TriggeredAt and Severity are fixed at trigger time.
	TriggeredAt time.Time      `json:"triggered_at"`
	Status      InstanceStatus `json:"status"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`

	JobID      string         `json:"job_id,omitempty"`
	ServerName string         `json:"server_name,omitempty"`
	Context    map[string]any `json:"context,omitempty"`

	AcknowledgedAt      *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy      string     `json:"acknowledged_by,omitempty"`
	AcknowledgementNote string     `json:"acknowledgement_note,omitempty"`

	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`

	SuppressedAt    *time.Time `json:"suppressed_at,omitempty"`
	SuppressedBy    string     `json:"suppressed_by,omitempty"`
	SuppressionNote string     `json:"suppression_note,omitempty"`

	Notifications []NotificationRecord `json:"notifications,omitempty"`
}

// Transition describes a conditional status change of an instance.
type Transition struct {
	To    InstanceStatus
	At    time.Time
	Actor string
	Note  string
}
