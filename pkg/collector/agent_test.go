package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
	"github.com/opscart/infra-cost-optimizer/pkg/storage"
)

func validReport() *AgentReport {
	port := 5432
	return &AgentReport{
		Hostname:      "db-1",
		Address:       "198.51.100.1",
		CPUPercent:    34.5,
		MemoryPercent: 61.2,
		DiskPercent:   44,
		Services: []AgentService{
			{Type: models.ServiceDocker, Name: "nginx", Status: "running"},
			{Type: models.ServicePort, Name: "postgres", Port: &port, Status: "listening"},
		},
	}
}

func TestIngestAgentReportBadSecret(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newTestCollector(store, nil)

	err := c.IngestAgentReport(context.Background(), "wrong", validReport())
	if !errors.Is(err, ErrAgentUnauthorized) {
		t.Fatalf("Expected ErrAgentUnauthorized, got %v", err)
	}

	servers, _ := store.ListServers(context.Background())
	if len(servers) != 0 {
		t.Error("Rejected report must not register servers")
	}
}

func TestIngestAgentReportInvalidPayload(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newTestCollector(store, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*AgentReport)
	}{
		{"missing address", func(r *AgentReport) { r.Address = "" }},
		{"cpu out of range", func(r *AgentReport) { r.CPUPercent = 140 }},
		{"negative memory", func(r *AgentReport) { r.MemoryPercent = -1 }},
		{"negative network", func(r *AgentReport) { r.NetworkInMbps = -3 }},
		{"unnamed service", func(r *AgentReport) { r.Services[0].Name = "" }},
		{"unknown service type", func(r *AgentReport) { r.Services[0].Type = "cron" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := validReport()
			tt.mutate(report)
			err := c.IngestAgentReport(ctx, "test-secret", report)
			if !errors.Is(err, ErrInvalidReport) {
				t.Errorf("Expected ErrInvalidReport, got %v", err)
			}
		})
	}

	servers, _ := store.ListServers(ctx)
	if len(servers) != 0 {
		t.Error("Invalid reports must not mutate the store")
	}
}

func TestIngestAgentReportAutoRegisters(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newTestCollector(store, nil)
	ctx := context.Background()

	if err := c.IngestAgentReport(ctx, "test-secret", validReport()); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	server, err := store.GetServerByAddress(ctx, "198.51.100.1")
	if err != nil {
		t.Fatalf("Expected auto-registered server: %v", err)
	}
	if server.Source != models.SourceDedicated {
		t.Errorf("Expected dedicated source, got %s", server.Source)
	}
	if server.ExternalID != "agent-198.51.100.1" {
		t.Errorf("Unexpected external ID: %s", server.ExternalID)
	}
	if server.Name != "db-1" {
		t.Errorf("Expected hostname as name, got %s", server.Name)
	}

	snap, err := store.LatestSnapshot(ctx, server.ID)
	if err != nil {
		t.Fatalf("Expected snapshot: %v", err)
	}
	if snap.CPUPercent != 34.5 {
		t.Errorf("Expected CPU 34.5, got %f", snap.CPUPercent)
	}

	services, _ := store.ListServices(ctx, server.ID)
	if len(services) != 2 {
		t.Errorf("Expected 2 services, got %d", len(services))
	}
}

func TestIngestAgentReportKnownServer(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newTestCollector(store, nil)
	ctx := context.Background()

	existing := &models.Server{
		ExternalID: "101",
		Name:       "db-1",
		Source:     models.SourceDedicated,
		Status:     models.StatusUnreachable,
		Address:    "198.51.100.1",
		LastSeenAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	if err := store.UpsertServer(ctx, existing); err != nil {
		t.Fatal(err)
	}

	if err := c.IngestAgentReport(ctx, "test-secret", validReport()); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	servers, _ := store.ListServers(ctx)
	if len(servers) != 1 {
		t.Fatalf("Report for known address must not create a second record, got %d", len(servers))
	}
	if servers[0].ID != existing.ID {
		t.Errorf("Expected existing server reused")
	}
	if servers[0].Status != models.StatusRunning {
		t.Errorf("Report must mark server running again, got %s", servers[0].Status)
	}

	snap, err := store.LatestSnapshot(ctx, existing.ID)
	if err != nil || snap.MemoryPercent != 61.2 {
		t.Errorf("Expected snapshot on existing server, got %+v, err %v", snap, err)
	}
}
