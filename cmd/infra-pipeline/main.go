package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/opscart/infra-cost-optimizer/pkg/analyzer"
	"github.com/opscart/infra-cost-optimizer/pkg/api"
	"github.com/opscart/infra-cost-optimizer/pkg/collector"
	"github.com/opscart/infra-cost-optimizer/pkg/config"
	"github.com/opscart/infra-cost-optimizer/pkg/models"
	"github.com/opscart/infra-cost-optimizer/pkg/pricing"
	"github.com/opscart/infra-cost-optimizer/pkg/recommender"
	"github.com/opscart/infra-cost-optimizer/pkg/reporter"
	"github.com/opscart/infra-cost-optimizer/pkg/scheduler"
	"github.com/opscart/infra-cost-optimizer/pkg/source"
	"github.com/opscart/infra-cost-optimizer/pkg/storage"
	"github.com/opscart/infra-cost-optimizer/pkg/telemetry"
)

var (
	cfg *config.Config

	outputFormat string
	statusFilter string
)

// app wires the pipeline components together.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       storage.Store
	catalog     *pricing.Catalog
	metrics     *telemetry.Metrics
	collector   *collector.Collector
	analyzer    *analyzer.Analyzer
	recommender *recommender.Recommender
}

func main() {
	cfg = config.NewConfig()

	rootCmd := &cobra.Command{
		Use:   "infra-pipeline",
		Short: "Infrastructure cost-saving pipeline",
		Long:  "Collects server inventory and utilization, aggregates 30-day usage and generates consolidation and right-sizing recommendations.",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline daemon with scheduler and HTTP API",
		RunE:  runDaemon,
	}

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection pass and exit",
		RunE:  runCollect,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute 30-day usage aggregates and print tiers",
		RunE:  runAnalyze,
	}

	recommendCmd := &cobra.Command{
		Use:   "recommend",
		Short: "Regenerate recommendations and print them",
		RunE:  runRecommend,
	}
	recommendCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, csv")

	recsCmd := &cobra.Command{
		Use:   "recommendations",
		Short: "Inspect and act on stored recommendations",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recommendations",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status: pending, accepted, dismissed")
	listCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, csv")

	acceptCmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept a pending recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(args[0], models.StatusAccepted)
		},
	}

	dismissCmd := &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Dismiss a pending recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transition(args[0], models.StatusDismissed)
		},
	}

	recsCmd.AddCommand(listCmd, acceptCmd, dismissCmd)
	rootCmd.AddCommand(runCmd, collectCmd, analyzeCmd, recommendCmd, recsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildApp assembles the pipeline. reg is the metrics registry; one-shot
// commands pass a private registry since nothing scrapes them.
func buildApp(reg prometheus.Registerer) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger()

	catalog, err := pricing.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if cfg.DatabaseURL != "" {
		store, err = storage.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage; state will not persist")
		store = storage.NewMemoryStore()
	}

	var cloud *source.CloudClient
	if cfg.CloudAPIToken != "" {
		cloud = source.NewCloudClient(cfg.CloudAPIURL, cfg.CloudAPIToken,
			cfg.SourceTimeout, cfg.SourceRateLimit, cfg.PageSize)
	}
	dedicated := source.NewDedicatedClient(cfg.DedicatedAPIURL,
		cfg.DedicatedAPIUser, cfg.DedicatedAPIPassword, cfg.SourceTimeout)

	metrics := telemetry.NewMetrics(reg)

	coll := collector.New(collector.Options{
		Store:       store,
		Cloud:       cloud,
		Dedicated:   dedicated,
		Catalog:     catalog,
		Metrics:     metrics,
		Logger:      logger,
		AgentSecret: cfg.AgentSecret,
		Concurrency: cfg.SyncConcurrency,
		Staleness:   cfg.StalenessWindow,
	})

	anl := analyzer.NewAnalyzer(store, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		catalog:     catalog,
		metrics:     metrics,
		collector:   coll,
		analyzer:    anl,
		recommender: recommender.New(store, anl, catalog, metrics, logger),
	}, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := buildApp(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.DemoMode {
		if err := a.collector.SeedDemo(ctx); err != nil {
			return err
		}
	}

	sched := scheduler.New(a.metrics, a.logger)
	sched.Add("collect", a.cfg.CollectInterval, func(ctx context.Context) error {
		_, err := a.collector.SyncAll(ctx)
		return err
	})
	sched.Add("analyze", a.cfg.AnalyzeInterval, func(ctx context.Context) error {
		_, err := a.analyzer.AnalyzeAll(ctx)
		return err
	})
	sched.Add("recommend", a.cfg.RecommendInterval, func(ctx context.Context) error {
		_, err := a.recommender.Run(ctx)
		return err
	})
	sched.Start(ctx)

	server := &http.Server{
		Addr:    a.cfg.ListenAddr,
		Handler: api.NewServer(a.store, a.collector, a.logger).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("api listening", "addr", a.cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		stop()
		sched.Wait()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api shutdown failed", "error", err)
	}

	sched.Wait()
	return nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	a, err := buildApp(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.store.Close()

	report, err := a.collector.SyncAll(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Cloud servers synced:      %d\n", report.CloudSynced)
	fmt.Printf("Dedicated servers synced:  %d\n", report.DedicatedSynced)
	fmt.Printf("Metric snapshots stored:   %d\n", report.MetricsCollected)
	fmt.Printf("Metric fetch failures:     %d\n", report.MetricsFailed)
	fmt.Printf("Marked unreachable:        %d\n", report.MarkedUnreachable)
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := buildApp(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.store.Close()

	ctx := context.Background()
	servers, err := a.store.ListServers(ctx)
	if err != nil {
		return err
	}
	aggregates, err := a.analyzer.AnalyzeAll(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-30s %-10s %-8s %-8s %-8s %s\n",
		"SERVER", "TIER", "AVG CPU", "PEAK", "AVG MEM", "SAMPLES")
	for _, server := range servers {
		agg, ok := aggregates[server.ID]
		if !ok {
			fmt.Printf("%-30s %-10s no data in window\n", server.Name, "-")
			continue
		}
		fmt.Printf("%-30s %-10s %-8.1f %-8.1f %-8.1f %d\n",
			server.Name, agg.Tier, agg.AvgCPU, agg.PeakCPU, agg.AvgMemory, agg.SampleCount)
	}
	return nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	format, err := reporter.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	a, err := buildApp(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.store.Close()

	recs, err := a.recommender.Run(context.Background())
	if err != nil {
		return err
	}
	return reporter.Build(recs).Write(os.Stdout, format)
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := reporter.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	status := models.RecommendationStatus(statusFilter)
	if status != "" && !status.Valid() {
		return fmt.Errorf("invalid status %q", statusFilter)
	}

	a, err := buildApp(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.store.Close()

	recs, err := a.store.ListRecommendations(context.Background(), status)
	if err != nil {
		return err
	}
	return reporter.Build(recs).Write(os.Stdout, format)
}

func transition(id string, status models.RecommendationStatus) error {
	a, err := buildApp(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.store.Close()

	if err := a.store.UpdateRecommendationStatus(context.Background(), id, status); err != nil {
		return err
	}
	fmt.Printf("Recommendation %s is now %s\n", id, status)
	return nil
}
