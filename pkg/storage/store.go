package storage

import (
	"context"
	"errors"
	"time"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNotPending is returned when a status transition is attempted on a
	// recommendation that has already left the pending state.
	ErrNotPending = errors.New("recommendation is not pending")
)

// Store defines the interface for persistent pipeline state. The pipeline
// exclusively owns writes to servers, snapshots and services; the API layer
// only reads, plus the two recommendation status transitions.
type Store interface {
	// Servers. UpsertServer matches on (source, external_id): an existing
	// row has its mutable fields updated in place, never duplicated.
	UpsertServer(ctx context.Context, server *models.Server) error
	GetServer(ctx context.Context, id string) (*models.Server, error)
	GetServerByExternalID(ctx context.Context, source models.Source, externalID string) (*models.Server, error)
	GetServerByAddress(ctx context.Context, address string) (*models.Server, error)
	ListServers(ctx context.Context) ([]*models.Server, error)
	MarkServersUnreachable(ctx context.Context, lastSeenBefore time.Time) (int, error)

	// Metric snapshots are append-only.
	AppendSnapshot(ctx context.Context, snapshot *models.MetricSnapshot) error
	SnapshotsSince(ctx context.Context, serverID string, since time.Time) ([]*models.MetricSnapshot, error)
	LatestSnapshot(ctx context.Context, serverID string) (*models.MetricSnapshot, error)
	AggregateMetrics(ctx context.Context, serverID string, since time.Time) (*models.UsageAggregate, error)

	// RecordAgentReport appends one snapshot and replaces the server's
	// discovered service set, atomically as a unit.
	RecordAgentReport(ctx context.Context, snapshot *models.MetricSnapshot, services []*models.RunningService) error
	ListServices(ctx context.Context, serverID string) ([]*models.RunningService, error)

	// Recommendations. ReplacePending deletes all pending rows and inserts
	// the new set in a single transaction; accepted and dismissed rows are
	// never touched. UpdateRecommendationStatus only transitions pending
	// rows and returns ErrNotPending otherwise.
	ReplacePendingRecommendations(ctx context.Context, recs []*models.Recommendation) error
	ListRecommendations(ctx context.Context, status models.RecommendationStatus) ([]*models.Recommendation, error)
	GetRecommendation(ctx context.Context, id string) (*models.Recommendation, error)
	UpdateRecommendationStatus(ctx context.Context, id string, status models.RecommendationStatus) error

	Ping(ctx context.Context) error
	Close() error
}
