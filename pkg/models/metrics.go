package models

import "time"

// MetricSnapshot is one utilization observation for a server. Snapshots are
// append-only and never mutated after insertion.
type MetricSnapshot struct {
	ID             int64     `json:"id"`
	ServerID       string    `json:"server_id"`
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	DiskPercent    float64   `json:"disk_percent"`
	NetworkInMbps  float64   `json:"network_in_mbps"`
	NetworkOutMbps float64   `json:"network_out_mbps"`
	LoadAvg1m      *float64  `json:"load_avg_1m,omitempty"`
}

// Tier is the ordered utilization classification derived from 30-day
// average CPU.
type Tier string

const (
	TierIdle     Tier = "idle"
	TierLow      Tier = "low"
	TierModerate Tier = "moderate"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// UsageAggregate holds the rolling 30-day utilization summary for one
// server. A server with no snapshots in the window has no aggregate at all,
// which is distinct from an all-zero aggregate.
type UsageAggregate struct {
	ServerID      string    `json:"server_id"`
	WindowStart   time.Time `json:"window_start"`
	SampleCount   int       `json:"sample_count"`
	AvgCPU        float64   `json:"avg_cpu_30d"`
	AvgMemory     float64   `json:"avg_memory_30d"`
	PeakCPU       float64   `json:"peak_cpu_30d"`
	PeakMemory    float64   `json:"peak_memory_30d"`
	Tier          Tier      `json:"utilization_tier"`
}
