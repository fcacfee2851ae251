package collector

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
	"github.com/opscart/infra-cost-optimizer/pkg/storage"
)

var (
	// ErrAgentUnauthorized is returned when the shared secret does not match.
	ErrAgentUnauthorized = errors.New("agent secret rejected")

	// ErrInvalidReport is returned for malformed report payloads. Nothing is
	// persisted for an invalid report.
	ErrInvalidReport = errors.New("invalid agent report")
)

// AgentReport is the payload pushed by on-host agents. Dedicated machines
// have no metrics API, so this is their only utilization source.
type AgentReport struct {
	Hostname       string         `json:"hostname"`
	Address        string         `json:"address"`
	CPUPercent     float64        `json:"cpu_percent"`
	MemoryPercent  float64        `json:"memory_percent"`
	DiskPercent    float64        `json:"disk_percent"`
	NetworkInMbps  float64        `json:"network_in_mbps"`
	NetworkOutMbps float64        `json:"network_out_mbps"`
	LoadAvg1m      *float64       `json:"load_avg_1m,omitempty"`
	Services       []AgentService `json:"services"`
}

// AgentService is one workload discovered by the agent.
type AgentService struct {
	Type       models.ServiceType `json:"type"`
	Name       string             `json:"name"`
	Port       *int               `json:"port,omitempty"`
	Status     string             `json:"status"`
	CPUPercent *float64           `json:"cpu_percent,omitempty"`
	MemoryMB   *float64           `json:"memory_mb,omitempty"`
}

// Validate checks the report before anything touches the store
func (r *AgentReport) Validate() error {
	if r.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidReport)
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"cpu_percent", r.CPUPercent},
		{"memory_percent", r.MemoryPercent},
		{"disk_percent", r.DiskPercent},
	} {
		if v.value < 0 || v.value > 100 {
			return fmt.Errorf("%w: %s %.1f out of range", ErrInvalidReport, v.name, v.value)
		}
	}
	if r.NetworkInMbps < 0 || r.NetworkOutMbps < 0 {
		return fmt.Errorf("%w: negative network rate", ErrInvalidReport)
	}
	for _, svc := range r.Services {
		if svc.Name == "" {
			return fmt.Errorf("%w: service with empty name", ErrInvalidReport)
		}
		switch svc.Type {
		case models.ServiceDocker, models.ServiceSystemd, models.ServicePort:
		default:
			return fmt.Errorf("%w: unknown service type %q", ErrInvalidReport, svc.Type)
		}
	}
	return nil
}

// IngestAgentReport authenticates, validates and persists one agent report.
// A report from an address not in inventory auto-registers the machine as a
// dedicated server so its data is never dropped. Snapshot and service set
// are written atomically.
func (c *Collector) IngestAgentReport(ctx context.Context, secret string, report *AgentReport) error {
	if subtle.ConstantTimeCompare([]byte(secret), []byte(c.agentSecret)) != 1 {
		if c.metrics != nil {
			c.metrics.AgentRejections.Inc()
		}
		return ErrAgentUnauthorized
	}

	if err := report.Validate(); err != nil {
		if c.metrics != nil {
			c.metrics.AgentRejections.Inc()
		}
		return err
	}

	now := c.now().UTC()

	server, err := c.store.GetServerByAddress(ctx, report.Address)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		name := report.Hostname
		if name == "" {
			name = report.Address
		}
		server = &models.Server{
			ExternalID: "agent-" + report.Address,
			Name:       name,
			Source:     models.SourceDedicated,
			Status:     models.StatusRunning,
			Address:    report.Address,
			LastSeenAt: now,
		}
		if err := c.store.UpsertServer(ctx, server); err != nil {
			return fmt.Errorf("failed to register agent server: %w", err)
		}
		c.logger.Info("auto-registered server from agent report",
			"address", report.Address, "name", name)
	case err != nil:
		return fmt.Errorf("failed to resolve agent server: %w", err)
	default:
		// A report proves the machine is alive.
		server.Status = models.StatusRunning
		server.LastSeenAt = now
		if err := c.store.UpsertServer(ctx, server); err != nil {
			return fmt.Errorf("failed to refresh agent server: %w", err)
		}
	}

	snapshot := &models.MetricSnapshot{
		ServerID:       server.ID,
		Timestamp:      now,
		CPUPercent:     report.CPUPercent,
		MemoryPercent:  report.MemoryPercent,
		DiskPercent:    report.DiskPercent,
		NetworkInMbps:  report.NetworkInMbps,
		NetworkOutMbps: report.NetworkOutMbps,
		LoadAvg1m:      report.LoadAvg1m,
	}

	services := make([]*models.RunningService, 0, len(report.Services))
	for _, svc := range report.Services {
		services = append(services, &models.RunningService{
			ServerID:    server.ID,
			ServiceType: svc.Type,
			Name:        svc.Name,
			Port:        svc.Port,
			Status:      svc.Status,
			CPUPercent:  svc.CPUPercent,
			MemoryMB:    svc.MemoryMB,
		})
	}

	if err := c.store.RecordAgentReport(ctx, snapshot, services); err != nil {
		return fmt.Errorf("failed to persist agent report: %w", err)
	}

	if c.metrics != nil {
		c.metrics.AgentReports.Inc()
	}
	return nil
}
