package recommender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/opscart/infra-cost-optimizer/pkg/analyzer"
	"github.com/opscart/infra-cost-optimizer/pkg/models"
	"github.com/opscart/infra-cost-optimizer/pkg/pricing"
	"github.com/opscart/infra-cost-optimizer/pkg/storage"
	"github.com/opscart/infra-cost-optimizer/pkg/telemetry"
)

// Recommender turns usage aggregates into cost-saving recommendations.
// Every run regenerates the full pending set from current data; accepted
// and dismissed recommendations are never touched.
type Recommender struct {
	store    storage.Store
	analyzer *analyzer.Analyzer
	catalog  *pricing.Catalog
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// New creates a Recommender
func New(store storage.Store, a *analyzer.Analyzer, catalog *pricing.Catalog, metrics *telemetry.Metrics, logger *slog.Logger) *Recommender {
	if catalog == nil {
		catalog = pricing.DefaultCatalog()
	}
	return &Recommender{
		store:    store,
		analyzer: a,
		catalog:  catalog,
		metrics:  metrics,
		logger:   logger,
	}
}

// Evaluate runs the rules in priority order over the candidate set. A
// claimed server never appears in a second recommendation: consolidation
// would otherwise double-count savings a right-size already booked.
func Evaluate(candidates []*Candidate, catalog *pricing.Catalog) []*models.Recommendation {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Server.Name < candidates[j].Server.Name
	})

	claimed := map[string]bool{}
	var recs []*models.Recommendation
	recs = append(recs, rightSizeIdle(candidates, catalog, claimed)...)
	recs = append(recs, consolidateNonProd(candidates, catalog, claimed)...)
	recs = append(recs, downgradeLowPeak(candidates, catalog, claimed)...)
	return recs
}

// Run regenerates pending recommendations. Replacing the stored pending set
// is the last step, so a failure partway leaves the previous set intact.
func (r *Recommender) Run(ctx context.Context) ([]*models.Recommendation, error) {
	servers, err := r.store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	aggregates, err := r.analyzer.AnalyzeAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	var candidates []*Candidate
	for _, server := range servers {
		if !server.IsRunning() {
			continue
		}
		usage, ok := aggregates[server.ID]
		if !ok {
			continue
		}
		candidates = append(candidates, &Candidate{
			Server:     server,
			Usage:      usage,
			DiskUsedGB: r.diskUsed(ctx, server),
		})
	}

	recs := Evaluate(candidates, r.catalog)

	if err := r.store.ReplacePendingRecommendations(ctx, recs); err != nil {
		return nil, fmt.Errorf("failed to store recommendations: %w", err)
	}

	var totalSavings float64
	for _, rec := range recs {
		totalSavings += rec.MonthlySavings
	}
	if r.metrics != nil {
		r.metrics.PendingRecommendations.Set(float64(len(recs)))
		r.metrics.PendingSavingsEUR.Set(totalSavings)
	}
	r.logger.Info("recommendations regenerated",
		"candidates", len(candidates),
		"recommendations", len(recs),
		"monthly_savings_eur", fmt.Sprintf("%.2f", totalSavings))

	return recs, nil
}

func (r *Recommender) diskUsed(ctx context.Context, server *models.Server) float64 {
	snap, err := r.store.LatestSnapshot(ctx, server.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("failed to read latest snapshot", "server", server.Name, "error", err)
		}
		return 0
	}
	return snap.DiskPercent / 100 * float64(server.DiskGB)
}
