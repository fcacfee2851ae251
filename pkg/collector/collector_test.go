package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
	"github.com/opscart/infra-cost-optimizer/pkg/source"
	"github.com/opscart/infra-cost-optimizer/pkg/storage"
	"github.com/opscart/infra-cost-optimizer/pkg/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCollector(store storage.Store, cloud *source.CloudClient) *Collector {
	return New(Options{
		Store:       store,
		Cloud:       cloud,
		Metrics:     telemetry.NewMetrics(prometheus.NewRegistry()),
		Logger:      testLogger(),
		AgentSecret: "test-secret",
		Concurrency: 3,
		Staleness:   24 * time.Hour,
	})
}

// cloudAPI serves a minimal fake of the cloud provider. failMetricsFor
// returns 500 for that server's metrics endpoint.
func cloudAPI(t *testing.T, serverCount int, failMetricsFor string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/servers":
			var entries []string
			for i := 1; i <= serverCount; i++ {
				entries = append(entries, fmt.Sprintf(`{
					"id": %d, "name": "web-%d", "status": "running",
					"server_type": {"name": "cx21", "cores": 2, "memory": 4, "disk": 40,
						"prices": [{"location": "fsn1", "price_monthly": {"gross": "5.39"}}]},
					"datacenter": {"name": "fsn1-dc14"},
					"public_net": {"ipv4": {"ip": "192.0.2.%d"}},
					"labels": {"project": "shop"}
				}`, i, i, i))
			}
			fmt.Fprintf(w, `{"servers": [%s], "meta": {"pagination": {"page": 1, "last_page": 1}}}`,
				strings.Join(entries, ","))

		case r.URL.Path == "/server_types":
			fmt.Fprint(w, `{"server_types": [], "meta": {"pagination": {"page": 1, "last_page": 1}}}`)

		case strings.HasSuffix(r.URL.Path, "/metrics"):
			if failMetricsFor != "" && strings.Contains(r.URL.Path, "/servers/"+failMetricsFor+"/") {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, `{"metrics": {"time_series": {"cpu": {"values": [[1700000000, "153.4"]]}}}}`)

		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestSyncCloudIdempotent(t *testing.T) {
	srv := cloudAPI(t, 2, "")
	defer srv.Close()

	store := storage.NewMemoryStore()
	cloud := source.NewCloudClient(srv.URL, "tok", 5*time.Second, 100, 50)
	c := newTestCollector(store, cloud)

	for i := 0; i < 2; i++ {
		report := &RunReport{}
		if err := c.SyncCloud(context.Background(), report); err != nil {
			t.Fatalf("Sync %d failed: %v", i+1, err)
		}
		if report.CloudSynced != 2 {
			t.Errorf("Expected 2 synced, got %d", report.CloudSynced)
		}
	}

	servers, _ := store.ListServers(context.Background())
	if len(servers) != 2 {
		t.Fatalf("Expected 2 servers after double sync, got %d", len(servers))
	}
	if servers[0].MonthlyCost != 5.39 {
		t.Errorf("Expected cost 5.39 from API prices, got %f", servers[0].MonthlyCost)
	}
	if servers[0].ProjectName != "shop" {
		t.Errorf("Expected project from labels, got %q", servers[0].ProjectName)
	}
}

func TestSyncCloudNormalizesCPU(t *testing.T) {
	srv := cloudAPI(t, 1, "")
	defer srv.Close()

	store := storage.NewMemoryStore()
	cloud := source.NewCloudClient(srv.URL, "tok", 5*time.Second, 100, 50)
	c := newTestCollector(store, cloud)

	if err := c.SyncCloud(context.Background(), &RunReport{}); err != nil {
		t.Fatal(err)
	}

	servers, _ := store.ListServers(context.Background())
	snap, err := store.LatestSnapshot(context.Background(), servers[0].ID)
	if err != nil {
		t.Fatalf("Expected snapshot: %v", err)
	}
	// 153.4 summed over 2 cores is 76.7 of capacity.
	if snap.CPUPercent != 76.7 {
		t.Errorf("Expected normalized CPU 76.7, got %f", snap.CPUPercent)
	}
}

func TestSyncCloudPartialMetricsFailure(t *testing.T) {
	srv := cloudAPI(t, 10, "3")
	defer srv.Close()

	store := storage.NewMemoryStore()
	cloud := source.NewCloudClient(srv.URL, "tok", 5*time.Second, 100, 50)
	c := newTestCollector(store, cloud)

	report := &RunReport{}
	if err := c.SyncCloud(context.Background(), report); err != nil {
		t.Fatalf("One failing server must not fail the run: %v", err)
	}

	if report.CloudSynced != 10 {
		t.Errorf("Expected all 10 servers synced, got %d", report.CloudSynced)
	}
	if report.MetricsCollected != 9 {
		t.Errorf("Expected 9 servers with metrics, got %d", report.MetricsCollected)
	}
	if report.MetricsFailed != 1 {
		t.Errorf("Expected 1 metrics failure, got %d", report.MetricsFailed)
	}
}

func TestNormalizeCPU(t *testing.T) {
	tests := []struct {
		value float64
		cores int
		want  float64
	}{
		{45, 2, 45},      // already a percentage
		{153.4, 2, 76.7}, // summed across cores
		{400, 2, 100},    // clamped after division
		{150, 0, 100},    // unknown cores, clamp only
		{-5, 2, 0},
	}
	for _, tt := range tests {
		if got := NormalizeCPU(tt.value, tt.cores); got != tt.want {
			t.Errorf("NormalizeCPU(%v, %d) = %v, want %v", tt.value, tt.cores, got, tt.want)
		}
	}
}

func TestSyncDedicated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"server": {"server_number": 101, "server_ip": "198.51.100.1",
				"server_name": "db-1", "product": "AX41-NVMe", "dc": "FSN1-DC18", "status": "ready"}}
		]`)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	c := New(Options{
		Store:     store,
		Dedicated: source.NewDedicatedClient(srv.URL, "u", "p", 5*time.Second),
		Metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
		Logger:    testLogger(),
	})

	report := &RunReport{}
	if err := c.SyncDedicated(context.Background(), report); err != nil {
		t.Fatalf("SyncDedicated failed: %v", err)
	}
	if report.DedicatedSynced != 1 {
		t.Fatalf("Expected 1 dedicated server, got %d", report.DedicatedSynced)
	}

	server, err := store.GetServerByExternalID(context.Background(), models.SourceDedicated, "101")
	if err != nil {
		t.Fatal(err)
	}
	if server.Address != "198.51.100.1" || server.ServerType != "AX41-NVMe" {
		t.Errorf("Unexpected server fields: %+v", server)
	}
}

func TestMarkStale(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	stale := &models.Server{ExternalID: "1", Source: models.SourceCloud, Name: "stale",
		Status: models.StatusRunning, LastSeenAt: now.Add(-25 * time.Hour)}
	fresh := &models.Server{ExternalID: "2", Source: models.SourceCloud, Name: "fresh",
		Status: models.StatusRunning, LastSeenAt: now.Add(-23 * time.Hour)}
	for _, s := range []*models.Server{stale, fresh} {
		if err := store.UpsertServer(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	c := newTestCollector(store, nil)
	count, err := c.MarkStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected 1 stale server, got %d", count)
	}
}

func TestSeedDemo(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newTestCollector(store, nil)

	if err := c.SeedDemo(context.Background()); err != nil {
		t.Fatalf("SeedDemo failed: %v", err)
	}

	servers, _ := store.ListServers(context.Background())
	if len(servers) != len(demoFleet) {
		t.Fatalf("Expected %d demo servers, got %d", len(demoFleet), len(servers))
	}
	for _, server := range servers {
		if server.MonthlyCost <= 0 {
			t.Errorf("Demo server %s has no cost", server.Name)
		}
		snap, err := store.LatestSnapshot(context.Background(), server.ID)
		if err != nil {
			t.Errorf("Demo server %s has no snapshots: %v", server.Name, err)
			continue
		}
		if snap.CPUPercent < 0 || snap.CPUPercent > 100 {
			t.Errorf("Demo snapshot out of range: %f", snap.CPUPercent)
		}
		services, _ := store.ListServices(context.Background(), server.ID)
		if len(services) == 0 {
			t.Errorf("Demo server %s has no services", server.Name)
		}
	}

	// Seeding a populated inventory must be a no-op.
	if err := c.SeedDemo(context.Background()); err != nil {
		t.Fatalf("Second seed failed: %v", err)
	}
	again, _ := store.ListServers(context.Background())
	if len(again) != len(servers) {
		t.Errorf("Expected seed to skip non-empty inventory: %d then %d", len(servers), len(again))
	}
}
