package models

import "time"

// Source identifies where a server record originates.
type Source string

const (
	SourceCloud     Source = "cloud"
	SourceDedicated Source = "dedicated"
)

// Server statuses. "unreachable" is set by the collector when a server has
// not been seen within the staleness window; it never deletes the record.
const (
	StatusRunning     = "running"
	StatusUnreachable = "unreachable"
)

// Server is one inventory record per physical or virtual machine.
// (Source, ExternalID) is unique: syncing the same external inventory twice
// updates mutable fields in place and never creates duplicates.
type Server struct {
	ID          string            `json:"id"`
	ExternalID  string            `json:"external_id"`
	Name        string            `json:"name"`
	Source      Source            `json:"source"`
	ServerType  string            `json:"server_type"`
	Status      string            `json:"status"`
	Datacenter  string            `json:"datacenter"`
	Address     string            `json:"address"`
	Cores       int               `json:"cores"`
	MemoryGB    float64           `json:"memory_gb"`
	DiskGB      int               `json:"disk_gb"`
	MonthlyCost float64           `json:"monthly_cost_eur"`
	Labels      map[string]string `json:"labels,omitempty"`
	ProjectName string            `json:"project_name,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	LastSeenAt  time.Time         `json:"last_seen_at"`
}

// IsRunning reports whether the server is in a state the recommender may
// act on. Stopped or unreachable servers are never recommendation targets.
func (s *Server) IsRunning() bool {
	return s.Status == StatusRunning
}
