package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
)

// demoServer describes one seeded machine and its synthetic utilization.
type demoServer struct {
	name       string
	serverType string
	datacenter string
	address    string
	labels     map[string]string
	avgCPU     float64
	avgMemory  float64
}

var demoFleet = []demoServer{
	// Idle oversized machine: right-sizing candidate.
	{"legacy-batch-1", "cx41", "fsn1-dc14", "10.0.0.10",
		map[string]string{"project": "legacy"}, 2.5, 11},
	// Low-utilization staging group: consolidation candidates.
	{"staging-web-1", "cx11", "fsn1-dc14", "10.0.0.21",
		map[string]string{"env": "staging", "project": "shop"}, 9, 30},
	{"staging-web-2", "cx11", "fsn1-dc14", "10.0.0.22",
		map[string]string{"env": "staging", "project": "shop"}, 11, 28},
	{"staging-web-3", "cx11", "fsn1-dc14", "10.0.0.23",
		map[string]string{"env": "staging", "project": "shop"}, 8, 35},
	// Low-utilization production machine: downgrade candidate.
	{"api-worker-1", "cpx31", "nbg1-dc3", "10.0.0.30",
		map[string]string{"project": "shop"}, 12, 40},
	// Healthy machines the recommender must leave alone.
	{"prod-db-1", "ccx33", "fsn1-dc14", "10.0.0.40",
		map[string]string{"project": "shop"}, 55, 70},
	{"prod-web-1", "cx31", "fsn1-dc14", "10.0.0.41",
		map[string]string{"project": "shop"}, 62, 58},
}

// SeedDemo populates the store with a synthetic fleet, 30 days of hourly
// snapshots and a few discovered services, so the pipeline produces output
// without any credentials. A non-empty inventory is left untouched.
func (c *Collector) SeedDemo(ctx context.Context) error {
	existing, err := c.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("failed to check inventory before seeding: %w", err)
	}
	if len(existing) > 0 {
		c.logger.Info("inventory not empty, skipping demo seed", "servers", len(existing))
		return nil
	}

	now := c.now().UTC()

	for i, d := range demoFleet {
		server := &models.Server{
			ExternalID: fmt.Sprintf("demo-%d", i+1),
			Name:       d.name,
			Source:     models.SourceCloud,
			ServerType: d.serverType,
			Status:     models.StatusRunning,
			Datacenter: d.datacenter,
			Address:    d.address,
			Labels:     d.labels,
			ProjectName: func() string {
				if d.labels != nil {
					return d.labels["project"]
				}
				return ""
			}(),
			LastSeenAt: now,
		}
		if entry, ok := c.catalog.Lookup(d.serverType); ok {
			server.Cores = entry.Cores
			server.MemoryGB = entry.MemoryGB
			server.DiskGB = entry.DiskGB
			server.MonthlyCost = entry.MonthlyEUR
		}
		if err := c.store.UpsertServer(ctx, server); err != nil {
			return fmt.Errorf("failed to seed server %s: %w", d.name, err)
		}

		// Hourly snapshots over 30 days with mild variation.
		for h := 30 * 24; h >= 1; h-- {
			jitter := float64(h%7) - 3
			snap := &models.MetricSnapshot{
				ServerID:      server.ID,
				Timestamp:     now.Add(-time.Duration(h) * time.Hour),
				CPUPercent:    clampPercent(d.avgCPU + jitter/2),
				MemoryPercent: clampPercent(d.avgMemory + jitter),
				DiskPercent:   35,
			}
			if err := c.store.AppendSnapshot(ctx, snap); err != nil {
				return fmt.Errorf("failed to seed snapshots for %s: %w", d.name, err)
			}
		}

		// The freshest observation arrives like an agent report, with a
		// service set attached.
		latest := &models.MetricSnapshot{
			ServerID:      server.ID,
			Timestamp:     now,
			CPUPercent:    clampPercent(d.avgCPU),
			MemoryPercent: clampPercent(d.avgMemory),
			DiskPercent:   35,
		}
		if err := c.store.RecordAgentReport(ctx, latest, demoServices(server.ID, d.name)); err != nil {
			return fmt.Errorf("failed to seed services for %s: %w", d.name, err)
		}
	}

	c.logger.Info("seeded demo fleet", "servers", len(demoFleet))
	return nil
}

func demoServices(serverID, name string) []*models.RunningService {
	port := 80
	services := []*models.RunningService{
		{ServerID: serverID, ServiceType: models.ServiceSystemd, Name: "node_exporter", Status: "active"},
	}
	if strings.Contains(name, "web") {
		services = append(services, &models.RunningService{
			ServerID: serverID, ServiceType: models.ServiceDocker, Name: "nginx",
			Port: &port, Status: "running",
		})
	}
	if strings.Contains(name, "db") {
		services = append(services, &models.RunningService{
			ServerID: serverID, ServiceType: models.ServiceSystemd, Name: "postgresql", Status: "active",
		})
	}
	return services
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
