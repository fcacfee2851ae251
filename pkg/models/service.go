package models

import "time"

// ServiceType is how a running service was discovered on a host.
type ServiceType string

const (
	ServiceDocker  ServiceType = "docker"
	ServiceSystemd ServiceType = "systemd"
	ServicePort    ServiceType = "port"
)

// RunningService is a discovered workload on a server, keyed by
// (server, service_type, name). Rediscovery extends LastSeenAt.
type RunningService struct {
	ID           int64       `json:"id"`
	ServerID     string      `json:"server_id"`
	ServiceType  ServiceType `json:"service_type"`
	Name         string      `json:"name"`
	Port         *int        `json:"port,omitempty"`
	Status       string      `json:"status"`
	CPUPercent   *float64    `json:"cpu_percent,omitempty"`
	MemoryMB     *float64    `json:"memory_mb,omitempty"`
	DiscoveredAt time.Time   `json:"discovered_at"`
	LastSeenAt   time.Time   `json:"last_seen_at"`
}
