package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
	"github.com/opscart/infra-cost-optimizer/pkg/storage"
)

// Window is the rolling period usage aggregates cover.
const Window = 30 * 24 * time.Hour

// Analyzer derives utilization summaries from stored metric snapshots.
// Aggregates are always recomputed from snapshots; nothing here writes.
type Analyzer struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAnalyzer creates an analyzer backed by the given store
func NewAnalyzer(store storage.Store, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// ClassifyTier maps average CPU to a utilization tier. Each boundary value
// belongs to the higher tier: exactly 5.0 is low, exactly 80.0 is critical.
func ClassifyTier(avgCPU float64) models.Tier {
	switch {
	case avgCPU >= 80:
		return models.TierCritical
	case avgCPU >= 50:
		return models.TierHigh
	case avgCPU >= 20:
		return models.TierModerate
	case avgCPU >= 5:
		return models.TierLow
	default:
		return models.TierIdle
	}
}

// Aggregate computes the 30-day usage summary for one server. A server with
// no snapshots in the window yields nil: absence of data is not idleness.
func (a *Analyzer) Aggregate(ctx context.Context, serverID string) (*models.UsageAggregate, error) {
	since := a.now().UTC().Add(-Window)
	agg, err := a.store.AggregateMetrics(ctx, serverID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate metrics for server %s: %w", serverID, err)
	}
	if agg == nil {
		return nil, nil
	}
	agg.Tier = ClassifyTier(agg.AvgCPU)
	return agg, nil
}

// AnalyzeAll computes aggregates for every server in inventory, keyed by
// server ID. Servers without snapshots are omitted from the result.
func (a *Analyzer) AnalyzeAll(ctx context.Context) (map[string]*models.UsageAggregate, error) {
	servers, err := a.store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	aggregates := make(map[string]*models.UsageAggregate, len(servers))
	for _, server := range servers {
		agg, err := a.Aggregate(ctx, server.ID)
		if err != nil {
			return nil, err
		}
		if agg == nil {
			a.logger.Debug("no snapshots in window", "server", server.Name, "server_id", server.ID)
			continue
		}
		aggregates[server.ID] = agg
	}

	a.logger.Info("analysis complete",
		"servers", len(servers),
		"with_aggregates", len(aggregates))

	return aggregates, nil
}
