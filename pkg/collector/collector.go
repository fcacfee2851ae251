package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
	"github.com/opscart/infra-cost-optimizer/pkg/pricing"
	"github.com/opscart/infra-cost-optimizer/pkg/source"
	"github.com/opscart/infra-cost-optimizer/pkg/storage"
	"github.com/opscart/infra-cost-optimizer/pkg/telemetry"
)

// Collector syncs external inventories into the store and ingests agent
// reports. It is the only writer of server and snapshot records.
type Collector struct {
	store       storage.Store
	cloud       *source.CloudClient
	dedicated   *source.DedicatedClient
	catalog     *pricing.Catalog
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	agentSecret string
	concurrency int
	staleness   time.Duration
	now         func() time.Time
}

// Options configures a Collector. Cloud and Dedicated may be nil or
// unconfigured; the corresponding sync is skipped.
type Options struct {
	Store       storage.Store
	Cloud       *source.CloudClient
	Dedicated   *source.DedicatedClient
	Catalog     *pricing.Catalog
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
	AgentSecret string
	Concurrency int
	Staleness   time.Duration
}

// New creates a Collector
func New(opts Options) *Collector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Staleness <= 0 {
		opts.Staleness = 24 * time.Hour
	}
	if opts.Catalog == nil {
		opts.Catalog = pricing.DefaultCatalog()
	}
	return &Collector{
		store:       opts.Store,
		cloud:       opts.Cloud,
		dedicated:   opts.Dedicated,
		catalog:     opts.Catalog,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		agentSecret: opts.AgentSecret,
		concurrency: opts.Concurrency,
		staleness:   opts.Staleness,
		now:         time.Now,
	}
}

// RunReport summarizes one collection run.
type RunReport struct {
	CloudSynced       int
	DedicatedSynced   int
	MetricsCollected  int
	MetricsFailed     int
	MarkedUnreachable int
}

// SyncAll runs a full collection: both inventory sources, then the
// staleness sweep. A failure in one source does not abort the other; the
// first source error is returned after everything has run.
func (c *Collector) SyncAll(ctx context.Context) (*RunReport, error) {
	report := &RunReport{}
	var firstErr error

	if c.cloud != nil {
		if err := c.SyncCloud(ctx, report); err != nil {
			c.logger.Error("cloud sync failed", "error", err)
			firstErr = err
		}
	}

	if c.dedicated != nil && c.dedicated.Configured() {
		if err := c.SyncDedicated(ctx, report); err != nil {
			c.logger.Error("dedicated sync failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	marked, err := c.MarkStale(ctx)
	if err != nil {
		c.logger.Error("staleness sweep failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	report.MarkedUnreachable = marked

	return report, firstErr
}

// SyncCloud pulls the cloud inventory, upserts every server and fans out
// metric collection. A single server failing its metrics fetch is counted
// and logged but never fails the run.
func (c *Collector) SyncCloud(ctx context.Context, report *RunReport) error {
	servers, err := c.cloud.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("cloud inventory listing failed: %w", err)
	}

	// Type specs and prices fill in fields the listing omits. Losing them
	// degrades to catalog prices, not to a failed sync.
	typeSpecs := map[string]source.CloudServerType{}
	if types, err := c.cloud.ListServerTypes(ctx); err != nil {
		c.logger.Warn("server type listing failed, using catalog prices", "error", err)
	} else {
		for _, t := range types {
			typeSpecs[t.Name] = t
		}
	}

	synced := make([]*models.Server, 0, len(servers))
	for _, cs := range servers {
		server := c.cloudToServer(cs, typeSpecs)
		if err := c.store.UpsertServer(ctx, server); err != nil {
			return fmt.Errorf("failed to store cloud server %s: %w", cs.Name, err)
		}
		synced = append(synced, server)
	}
	report.CloudSynced = len(synced)
	if c.metrics != nil {
		c.metrics.ServersSynced.WithLabelValues(string(models.SourceCloud)).Set(float64(len(synced)))
	}

	// Metrics fan-out, bounded so a large fleet cannot stampede the API.
	var collected, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i := range synced {
		server := synced[i]
		cloudServer := servers[i]
		g.Go(func() error {
			if err := c.collectCloudMetrics(gctx, server, cloudServer); err != nil {
				atomic.AddInt64(&failed, 1)
				if c.metrics != nil {
					c.metrics.SyncFailures.WithLabelValues(string(models.SourceCloud)).Inc()
				}
				c.logger.Warn("metrics collection failed",
					"server", server.Name, "error", err)
				return nil
			}
			atomic.AddInt64(&collected, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	report.MetricsCollected += int(collected)
	report.MetricsFailed += int(failed)

	c.logger.Info("cloud sync complete",
		"servers", len(synced),
		"metrics_collected", collected,
		"metrics_failed", failed)

	return nil
}

func (c *Collector) cloudToServer(cs source.CloudServer, typeSpecs map[string]source.CloudServerType) *models.Server {
	st := cs.ServerType
	if spec, ok := typeSpecs[st.Name]; ok {
		if st.Cores == 0 {
			st.Cores = spec.Cores
		}
		if st.Memory == 0 {
			st.Memory = spec.Memory
		}
		if st.Disk == 0 {
			st.Disk = spec.Disk
		}
		if len(st.Prices) == 0 {
			st.Prices = spec.Prices
		}
	}

	cost := st.MonthlyGross()
	if cost == 0 {
		if entry, ok := c.catalog.Lookup(st.Name); ok {
			cost = entry.MonthlyEUR
		}
	}

	return &models.Server{
		ExternalID:  strconv.FormatInt(cs.ID, 10),
		Name:        cs.Name,
		Source:      models.SourceCloud,
		ServerType:  st.Name,
		Status:      cs.Status,
		Datacenter:  cs.Datacenter.Name,
		Address:     cs.PublicNet.IPv4.IP,
		Cores:       st.Cores,
		MemoryGB:    st.Memory,
		DiskGB:      st.Disk,
		MonthlyCost: cost,
		Labels:      cs.Labels,
		ProjectName: cs.Labels["project"],
		LastSeenAt:  c.now().UTC(),
	}
}

// collectCloudMetrics fetches recent CPU for one server and appends a
// snapshot. The provider sums CPU across cores, so values above 100 are
// divided by the core count and clamped.
func (c *Collector) collectCloudMetrics(ctx context.Context, server *models.Server, cs source.CloudServer) error {
	end := c.now().UTC()
	start := end.Add(-30 * time.Minute)

	resp, err := c.cloud.GetServerMetrics(ctx, cs.ID, "cpu", start, end)
	if err != nil {
		return err
	}

	series, ok := resp.Metrics.TimeSeries["cpu"]
	if !ok || len(series.Values) == 0 {
		return fmt.Errorf("no cpu series for server %s", server.Name)
	}

	latest := series.Values[len(series.Values)-1]
	cpu := NormalizeCPU(latest.Value, server.Cores)

	snapshot := &models.MetricSnapshot{
		ServerID:   server.ID,
		Timestamp:  time.Unix(int64(latest.Timestamp), 0).UTC(),
		CPUPercent: cpu,
	}
	if err := c.store.AppendSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// NormalizeCPU converts a per-core summed CPU reading to a 0-100 percent of
// total capacity. Readings already within range pass through unchanged.
func NormalizeCPU(value float64, cores int) float64 {
	if value > 100 && cores > 0 {
		value = value / float64(cores)
	}
	if value > 100 {
		value = 100
	}
	if value < 0 {
		value = 0
	}
	return value
}

// SyncDedicated pulls the dedicated-hardware inventory. This source carries
// no utilization data; metrics for these machines arrive via agent reports.
func (c *Collector) SyncDedicated(ctx context.Context, report *RunReport) error {
	servers, err := c.dedicated.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("dedicated inventory listing failed: %w", err)
	}

	for _, ds := range servers {
		server := c.dedicatedToServer(ds)
		if err := c.store.UpsertServer(ctx, server); err != nil {
			return fmt.Errorf("failed to store dedicated server %s: %w", ds.ServerName, err)
		}
	}
	report.DedicatedSynced = len(servers)
	if c.metrics != nil {
		c.metrics.ServersSynced.WithLabelValues(string(models.SourceDedicated)).Set(float64(len(servers)))
	}

	c.logger.Info("dedicated sync complete", "servers", len(servers))
	return nil
}

func (c *Collector) dedicatedToServer(ds source.DedicatedServer) *models.Server {
	server := &models.Server{
		ExternalID: strconv.Itoa(ds.ServerNumber),
		Name:       ds.ServerName,
		Source:     models.SourceDedicated,
		ServerType: ds.Product,
		Status:     models.StatusRunning,
		Datacenter: ds.DC,
		Address:    ds.ServerIP,
		LastSeenAt: c.now().UTC(),
	}
	if server.Name == "" {
		server.Name = ds.ServerIP
	}
	if entry, ok := c.catalog.Lookup(ds.Product); ok {
		server.Cores = entry.Cores
		server.MemoryGB = entry.MemoryGB
		server.DiskGB = entry.DiskGB
		server.MonthlyCost = entry.MonthlyEUR
	}
	return server
}

// MarkStale flips running servers not seen within the staleness window to
// unreachable. Records are never deleted.
func (c *Collector) MarkStale(ctx context.Context) (int, error) {
	cutoff := c.now().UTC().Add(-c.staleness)
	count, err := c.store.MarkServersUnreachable(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale servers: %w", err)
	}
	if count > 0 {
		c.logger.Info("marked stale servers unreachable", "count", count)
	}
	return count, nil
}
