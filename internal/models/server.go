package models

import (
	"time"
)

// ServerStatus represents the health status of a monitored server.
type ServerStatus string

const (
	ServerStatusUnknown     ServerStatus = "Unknown"
	ServerStatusOnline      ServerStatus = "Online"
	ServerStatusOffline     ServerStatus = "Offline"
	ServerStatusMaintenance ServerStatus = "Maintenance"
	ServerStatusError       ServerStatus = "Error"
)

// Server is a monitored host, identified by its name.
type Server struct {
	Name                     string            `json:"server_name"`
	DisplayName              string            `json:"display_name,omitempty"`
	Status                   ServerStatus      `json:"status"`
	IsActive                 bool              `json:"is_active"`
	HeartbeatIntervalSeconds int               `json:"heartbeat_interval_seconds"`
	LastHeartbeat            *time.Time        `json:"last_heartbeat,omitempty"`
	AgentVersion             string            `json:"agent_version,omitempty"`
	AgentType                string            `json:"agent_type,omitempty"`
	IPAddress                string            `json:"ip_address,omitempty"`
	OSInfo                   string            `json:"os_info,omitempty"`
	Metadata                 map[string]string `json:"metadata,omitempty"`
	CreatedAt                time.Time         `json:"created_at"`
	UpdatedAt                time.Time         `json:"updated_at"`
}

// NewServer creates a new active Server with Unknown status.
func NewServer(name string) *Server {
	now := time.Now().UTC()
	return &Server{
		Name:                     name,
		Status:                   ServerStatusUnknown,
		IsActive:                 true,
		HeartbeatIntervalSeconds: 30,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}

// HeartbeatAge returns how long ago the last heartbeat arrived, and false if
// none was ever recorded.
func (s *Server) HeartbeatAge(now time.Time) (time.Duration, bool) {
	if s.LastHeartbeat == nil {
		return 0, false
	}
	return now.Sub(*s.LastHeartbeat), true
}

// ParseServerStatus converts a string to ServerStatus.
func ParseServerStatus(s string) ServerStatus {
	switch s {
	case "Online", "online":
		return ServerStatusOnline
	case "Offline", "offline":
		return ServerStatusOffline
	case "Maintenance", "maintenance":
		return ServerStatusMaintenance
	case "Error", "error":
		return ServerStatusError
	default:
		return ServerStatusUnknown
	}
}
