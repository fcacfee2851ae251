package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
)

func TestUpsertServerIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	server := &models.Server{
		ExternalID:  "42",
		Name:        "web-1",
		Source:      models.SourceCloud,
		ServerType:  "cx21",
		Status:      models.StatusRunning,
		MonthlyCost: 5.39,
	}
	if err := store.UpsertServer(ctx, server); err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}
	firstID := server.ID
	if firstID == "" {
		t.Fatal("Expected generated ID")
	}

	// Second sync of the same external record updates in place.
	again := &models.Server{
		ExternalID:  "42",
		Name:        "web-1-renamed",
		Source:      models.SourceCloud,
		ServerType:  "cx31",
		Status:      models.StatusRunning,
		MonthlyCost: 10.59,
	}
	if err := store.UpsertServer(ctx, again); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	if again.ID != firstID {
		t.Errorf("Expected stable ID %s, got %s", firstID, again.ID)
	}

	servers, err := store.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers failed: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("Expected 1 server after re-sync, got %d", len(servers))
	}
	if servers[0].Name != "web-1-renamed" || servers[0].ServerType != "cx31" {
		t.Errorf("Expected updated fields, got %+v", servers[0])
	}
}

func TestUpsertDistinguishesSources(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cloud := &models.Server{ExternalID: "7", Source: models.SourceCloud, Name: "a", Status: models.StatusRunning}
	dedicated := &models.Server{ExternalID: "7", Source: models.SourceDedicated, Name: "b", Status: models.StatusRunning}

	if err := store.UpsertServer(ctx, cloud); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertServer(ctx, dedicated); err != nil {
		t.Fatal(err)
	}

	servers, _ := store.ListServers(ctx)
	if len(servers) != 2 {
		t.Errorf("Same external ID from different sources must be 2 records, got %d", len(servers))
	}
}

func TestMarkServersUnreachable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	stale := &models.Server{ExternalID: "1", Source: models.SourceCloud, Name: "stale",
		Status: models.StatusRunning, LastSeenAt: now.Add(-25 * time.Hour)}
	fresh := &models.Server{ExternalID: "2", Source: models.SourceCloud, Name: "fresh",
		Status: models.StatusRunning, LastSeenAt: now.Add(-23 * time.Hour)}
	for _, srv := range []*models.Server{stale, fresh} {
		if err := store.UpsertServer(ctx, srv); err != nil {
			t.Fatal(err)
		}
	}

	count, err := store.MarkServersUnreachable(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("MarkServersUnreachable failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 server marked, got %d", count)
	}

	got, _ := store.GetServer(ctx, stale.ID)
	if got.Status != models.StatusUnreachable {
		t.Errorf("Expected stale server unreachable, got %s", got.Status)
	}
	got, _ = store.GetServer(ctx, fresh.ID)
	if got.Status != models.StatusRunning {
		t.Errorf("Expected fresh server untouched, got %s", got.Status)
	}
}

func TestAggregateMetricsEmptyWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	agg, err := store.AggregateMetrics(ctx, "no-such-server", time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("AggregateMetrics failed: %v", err)
	}
	if agg != nil {
		t.Errorf("Expected nil aggregate for empty window, got %+v", agg)
	}
}

func TestAggregateMetrics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	values := []float64{10, 20, 30}
	for i, cpu := range values {
		snap := &models.MetricSnapshot{
			ServerID:      "srv-1",
			Timestamp:     now.Add(time.Duration(-i) * time.Hour),
			CPUPercent:    cpu,
			MemoryPercent: cpu * 2,
		}
		if err := store.AppendSnapshot(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}
	// Outside the window, must be excluded.
	old := &models.MetricSnapshot{ServerID: "srv-1", Timestamp: now.Add(-31 * 24 * time.Hour), CPUPercent: 99}
	if err := store.AppendSnapshot(ctx, old); err != nil {
		t.Fatal(err)
	}

	agg, err := store.AggregateMetrics(ctx, "srv-1", now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("AggregateMetrics failed: %v", err)
	}
	if agg == nil {
		t.Fatal("Expected aggregate")
	}
	if agg.SampleCount != 3 {
		t.Errorf("Expected 3 samples, got %d", agg.SampleCount)
	}
	if agg.AvgCPU != 20 {
		t.Errorf("Expected avg CPU 20, got %f", agg.AvgCPU)
	}
	if agg.PeakCPU != 30 {
		t.Errorf("Expected peak CPU 30, got %f", agg.PeakCPU)
	}
	if agg.PeakMemory != 60 {
		t.Errorf("Expected peak memory 60, got %f", agg.PeakMemory)
	}
}

func TestRecordAgentReportReplacesServices(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	first := []*models.RunningService{
		{ServiceType: models.ServiceDocker, Name: "nginx", Status: "running"},
		{ServiceType: models.ServiceSystemd, Name: "postgresql", Status: "active"},
	}
	snap1 := &models.MetricSnapshot{ServerID: "srv-1", Timestamp: now.Add(-time.Hour), CPUPercent: 12}
	if err := store.RecordAgentReport(ctx, snap1, first); err != nil {
		t.Fatalf("First report failed: %v", err)
	}

	services, _ := store.ListServices(ctx, "srv-1")
	if len(services) != 2 {
		t.Fatalf("Expected 2 services, got %d", len(services))
	}
	nginxDiscovered := services[0].DiscoveredAt

	// Second report: nginx persists, postgresql gone, redis new.
	second := []*models.RunningService{
		{ServiceType: models.ServiceDocker, Name: "nginx", Status: "running"},
		{ServiceType: models.ServiceDocker, Name: "redis", Status: "running"},
	}
	snap2 := &models.MetricSnapshot{ServerID: "srv-1", Timestamp: now, CPUPercent: 15}
	if err := store.RecordAgentReport(ctx, snap2, second); err != nil {
		t.Fatalf("Second report failed: %v", err)
	}

	services, _ = store.ListServices(ctx, "srv-1")
	if len(services) != 2 {
		t.Fatalf("Expected replaced service set of 2, got %d", len(services))
	}
	byName := map[string]*models.RunningService{}
	for _, svc := range services {
		byName[svc.Name] = svc
	}
	if _, gone := byName["postgresql"]; gone {
		t.Error("Expected postgresql removed after absence from report")
	}
	if svc, ok := byName["nginx"]; !ok {
		t.Error("Expected nginx to survive")
	} else if !svc.DiscoveredAt.Equal(nginxDiscovered) {
		t.Error("Expected rediscovered service to keep original discovered_at")
	}
	if _, ok := byName["redis"]; !ok {
		t.Error("Expected redis to appear")
	}

	// Both snapshots kept.
	snaps, _ := store.SnapshotsSince(ctx, "srv-1", now.Add(-2*time.Hour))
	if len(snaps) != 2 {
		t.Errorf("Expected 2 snapshots, got %d", len(snaps))
	}
}

func TestReplacePendingKeepsTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	initial := []*models.Recommendation{
		{GroupName: "web", ServerIDs: []string{"a"}, MonthlySavings: 10, Confidence: models.ConfidenceHigh},
		{GroupName: "db", ServerIDs: []string{"b"}, MonthlySavings: 5, Confidence: models.ConfidenceMedium},
	}
	if err := store.ReplacePendingRecommendations(ctx, initial); err != nil {
		t.Fatal(err)
	}

	// Accept one; the next regeneration must not disturb it.
	if err := store.UpdateRecommendationStatus(ctx, initial[0].ID, models.StatusAccepted); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	next := []*models.Recommendation{
		{GroupName: "cache", ServerIDs: []string{"c"}, MonthlySavings: 7, Confidence: models.ConfidenceLow},
	}
	if err := store.ReplacePendingRecommendations(ctx, next); err != nil {
		t.Fatal(err)
	}

	all, _ := store.ListRecommendations(ctx, "")
	if len(all) != 2 {
		t.Fatalf("Expected accepted + new pending = 2, got %d", len(all))
	}

	accepted, _ := store.ListRecommendations(ctx, models.StatusAccepted)
	if len(accepted) != 1 || accepted[0].GroupName != "web" {
		t.Errorf("Expected accepted web recommendation to survive, got %+v", accepted)
	}

	pending, _ := store.ListRecommendations(ctx, models.StatusPending)
	if len(pending) != 1 || pending[0].GroupName != "cache" {
		t.Errorf("Expected only the new pending recommendation, got %+v", pending)
	}
}

func TestStatusTransitionGuards(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	recs := []*models.Recommendation{
		{GroupName: "web", ServerIDs: []string{"a"}, MonthlySavings: 10, Confidence: models.ConfidenceHigh},
	}
	if err := store.ReplacePendingRecommendations(ctx, recs); err != nil {
		t.Fatal(err)
	}
	id := recs[0].ID

	if err := store.UpdateRecommendationStatus(ctx, id, models.StatusDismissed); err != nil {
		t.Fatalf("Dismiss failed: %v", err)
	}

	// Terminal states cannot transition again.
	err := store.UpdateRecommendationStatus(ctx, id, models.StatusAccepted)
	if !errors.Is(err, ErrNotPending) {
		t.Errorf("Expected ErrNotPending on second transition, got %v", err)
	}

	err = store.UpdateRecommendationStatus(ctx, "missing", models.StatusAccepted)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown ID, got %v", err)
	}
}

func TestGetServerByAddress(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	server := &models.Server{ExternalID: "1", Source: models.SourceDedicated,
		Name: "db-1", Address: "198.51.100.1", Status: models.StatusRunning}
	if err := store.UpsertServer(ctx, server); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetServerByAddress(ctx, "198.51.100.1")
	if err != nil {
		t.Fatalf("GetServerByAddress failed: %v", err)
	}
	if got.ID != server.ID {
		t.Errorf("Expected server %s, got %s", server.ID, got.ID)
	}

	_, err = store.GetServerByAddress(ctx, "203.0.113.9")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
