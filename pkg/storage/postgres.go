package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
)

//go:embed migrations/*.sql
var postgresFS embed.FS

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database, configures the pool and runs
// migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema, err := postgresFS.ReadFile("migrations/001_postgres_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// UpsertServer inserts a server or updates the existing row matched on
// (source, external_id). The row's id and created_at never change; the
// caller's struct receives the stored values back.
func (s *PostgresStore) UpsertServer(ctx context.Context, server *models.Server) error {
	if server.ID == "" {
		server.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if server.CreatedAt.IsZero() {
		server.CreatedAt = now
	}
	if server.LastSeenAt.IsZero() {
		server.LastSeenAt = now
	}

	labels, err := json.Marshal(server.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}

	query := `
		INSERT INTO servers (
			id, external_id, name, source, server_type, status, datacenter,
			address, cores, memory_gb, disk_gb, monthly_cost_eur, labels,
			project_name, created_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (source, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			server_type = EXCLUDED.server_type,
			status = EXCLUDED.status,
			datacenter = EXCLUDED.datacenter,
			address = EXCLUDED.address,
			cores = EXCLUDED.cores,
			memory_gb = EXCLUDED.memory_gb,
			disk_gb = EXCLUDED.disk_gb,
			monthly_cost_eur = EXCLUDED.monthly_cost_eur,
			labels = EXCLUDED.labels,
			project_name = EXCLUDED.project_name,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING id, created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		server.ID, server.ExternalID, server.Name, server.Source,
		server.ServerType, server.Status, server.Datacenter, server.Address,
		server.Cores, server.MemoryGB, server.DiskGB, server.MonthlyCost,
		labels, server.ProjectName, server.CreatedAt, server.LastSeenAt,
	).Scan(&server.ID, &server.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert server %s/%s: %w", server.Source, server.ExternalID, err)
	}

	return nil
}

const serverColumns = `
	id, external_id, name, source, server_type, status, datacenter,
	address, cores, memory_gb, disk_gb, monthly_cost_eur, labels,
	project_name, created_at, last_seen_at
`

func scanServer(row interface{ Scan(...any) error }) (*models.Server, error) {
	var server models.Server
	var labels []byte

	err := row.Scan(
		&server.ID, &server.ExternalID, &server.Name, &server.Source,
		&server.ServerType, &server.Status, &server.Datacenter, &server.Address,
		&server.Cores, &server.MemoryGB, &server.DiskGB, &server.MonthlyCost,
		&labels, &server.ProjectName, &server.CreatedAt, &server.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}

	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &server.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels for server %s: %w", server.ID, err)
		}
	}

	return &server, nil
}

// GetServer retrieves a server by ID
func (s *PostgresStore) GetServer(ctx context.Context, id string) (*models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE id = $1`

	server, err := scanServer(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return server, nil
}

// GetServerByExternalID retrieves a server by its source identity
func (s *PostgresStore) GetServerByExternalID(ctx context.Context, source models.Source, externalID string) (*models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE source = $1 AND external_id = $2`

	server, err := scanServer(s.db.QueryRowContext(ctx, query, source, externalID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("server %s/%s: %w", source, externalID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return server, nil
}

// GetServerByAddress retrieves a server by its primary address. Used to
// attribute agent reports to inventory records.
func (s *PostgresStore) GetServerByAddress(ctx context.Context, address string) (*models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE address = $1 ORDER BY last_seen_at DESC LIMIT 1`

	server, err := scanServer(s.db.QueryRowContext(ctx, query, address))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("server at %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return server, nil
}

// ListServers retrieves all servers ordered by name
func (s *PostgresStore) ListServers(ctx context.Context) ([]*models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers ORDER BY name, external_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []*models.Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}

	return servers, rows.Err()
}

// MarkServersUnreachable flips running servers not seen since the cutoff to
// unreachable and returns how many were affected.
func (s *PostgresStore) MarkServersUnreachable(ctx context.Context, lastSeenBefore time.Time) (int, error) {
	query := `
		UPDATE servers SET status = $1
		WHERE status = $2 AND last_seen_at < $3
	`

	result, err := s.db.ExecContext(ctx, query, models.StatusUnreachable, models.StatusRunning, lastSeenBefore)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	return int(affected), err
}

// AppendSnapshot stores one utilization observation
func (s *PostgresStore) AppendSnapshot(ctx context.Context, snapshot *models.MetricSnapshot) error {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO metric_snapshots (
			server_id, timestamp, cpu_percent, memory_percent, disk_percent,
			network_in_mbps, network_out_mbps, load_avg_1m
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	return s.db.QueryRowContext(ctx, query,
		snapshot.ServerID, snapshot.Timestamp, snapshot.CPUPercent,
		snapshot.MemoryPercent, snapshot.DiskPercent,
		snapshot.NetworkInMbps, snapshot.NetworkOutMbps, snapshot.LoadAvg1m,
	).Scan(&snapshot.ID)
}

// SnapshotsSince retrieves snapshots for a server from the given time,
// oldest first.
func (s *PostgresStore) SnapshotsSince(ctx context.Context, serverID string, since time.Time) ([]*models.MetricSnapshot, error) {
	query := `
		SELECT id, server_id, timestamp, cpu_percent, memory_percent,
			disk_percent, network_in_mbps, network_out_mbps, load_avg_1m
		FROM metric_snapshots
		WHERE server_id = $1 AND timestamp >= $2
		ORDER BY timestamp
	`

	rows, err := s.db.QueryContext(ctx, query, serverID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*models.MetricSnapshot
	for rows.Next() {
		var snap models.MetricSnapshot
		err := rows.Scan(
			&snap.ID, &snap.ServerID, &snap.Timestamp, &snap.CPUPercent,
			&snap.MemoryPercent, &snap.DiskPercent,
			&snap.NetworkInMbps, &snap.NetworkOutMbps, &snap.LoadAvg1m,
		)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, &snap)
	}

	return snapshots, rows.Err()
}

// LatestSnapshot retrieves the most recent snapshot for a server
func (s *PostgresStore) LatestSnapshot(ctx context.Context, serverID string) (*models.MetricSnapshot, error) {
	query := `
		SELECT id, server_id, timestamp, cpu_percent, memory_percent,
			disk_percent, network_in_mbps, network_out_mbps, load_avg_1m
		FROM metric_snapshots
		WHERE server_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var snap models.MetricSnapshot
	err := s.db.QueryRowContext(ctx, query, serverID).Scan(
		&snap.ID, &snap.ServerID, &snap.Timestamp, &snap.CPUPercent,
		&snap.MemoryPercent, &snap.DiskPercent,
		&snap.NetworkInMbps, &snap.NetworkOutMbps, &snap.LoadAvg1m,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshots for server %s: %w", serverID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

// AggregateMetrics computes mean and peak utilization over snapshots from
// the given time. A server with no snapshots in the window yields nil, not
// a zero aggregate.
func (s *PostgresStore) AggregateMetrics(ctx context.Context, serverID string, since time.Time) (*models.UsageAggregate, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(AVG(cpu_percent), 0), COALESCE(AVG(memory_percent), 0),
			COALESCE(MAX(cpu_percent), 0), COALESCE(MAX(memory_percent), 0)
		FROM metric_snapshots
		WHERE server_id = $1 AND timestamp >= $2
	`

	agg := models.UsageAggregate{ServerID: serverID, WindowStart: since}
	err := s.db.QueryRowContext(ctx, query, serverID, since).Scan(
		&agg.SampleCount, &agg.AvgCPU, &agg.AvgMemory, &agg.PeakCPU, &agg.PeakMemory,
	)
	if err != nil {
		return nil, err
	}

	if agg.SampleCount == 0 {
		return nil, nil
	}
	return &agg, nil
}

// RecordAgentReport appends the snapshot and replaces the server's service
// set in one transaction. Services present before but absent from the report
// are removed; rediscovered services keep their original discovered_at.
func (s *PostgresStore) RecordAgentReport(ctx context.Context, snapshot *models.MetricSnapshot, services []*models.RunningService) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	}

	insertSnapshot := `
		INSERT INTO metric_snapshots (
			server_id, timestamp, cpu_percent, memory_percent, disk_percent,
			network_in_mbps, network_out_mbps, load_avg_1m
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, insertSnapshot,
		snapshot.ServerID, snapshot.Timestamp, snapshot.CPUPercent,
		snapshot.MemoryPercent, snapshot.DiskPercent,
		snapshot.NetworkInMbps, snapshot.NetworkOutMbps, snapshot.LoadAvg1m,
	).Scan(&snapshot.ID)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	names := make([]string, 0, len(services))
	types := make([]string, 0, len(services))
	for _, svc := range services {
		names = append(names, svc.Name)
		types = append(types, string(svc.ServiceType))
	}

	// Drop services missing from this report.
	deleteStale := `
		DELETE FROM running_services
		WHERE server_id = $1
		AND (service_type, name) NOT IN (
			SELECT t, n FROM unnest($2::text[], $3::text[]) AS u(t, n)
		)
	`
	if _, err := tx.ExecContext(ctx, deleteStale, snapshot.ServerID, pq.Array(types), pq.Array(names)); err != nil {
		return fmt.Errorf("failed to prune services: %w", err)
	}

	upsertService := `
		INSERT INTO running_services (
			server_id, service_type, name, port, status,
			cpu_percent, memory_mb, discovered_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (server_id, service_type, name) DO UPDATE SET
			port = EXCLUDED.port,
			status = EXCLUDED.status,
			cpu_percent = EXCLUDED.cpu_percent,
			memory_mb = EXCLUDED.memory_mb,
			last_seen_at = EXCLUDED.last_seen_at
	`
	for _, svc := range services {
		_, err := tx.ExecContext(ctx, upsertService,
			snapshot.ServerID, svc.ServiceType, svc.Name, svc.Port, svc.Status,
			svc.CPUPercent, svc.MemoryMB, snapshot.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert service %s/%s: %w", svc.ServiceType, svc.Name, err)
		}
	}

	return tx.Commit()
}

// ListServices retrieves the current service set for a server
func (s *PostgresStore) ListServices(ctx context.Context, serverID string) ([]*models.RunningService, error) {
	query := `
		SELECT id, server_id, service_type, name, port, status,
			cpu_percent, memory_mb, discovered_at, last_seen_at
		FROM running_services
		WHERE server_id = $1
		ORDER BY service_type, name
	`

	rows, err := s.db.QueryContext(ctx, query, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []*models.RunningService
	for rows.Next() {
		var svc models.RunningService
		err := rows.Scan(
			&svc.ID, &svc.ServerID, &svc.ServiceType, &svc.Name, &svc.Port,
			&svc.Status, &svc.CPUPercent, &svc.MemoryMB,
			&svc.DiscoveredAt, &svc.LastSeenAt,
		)
		if err != nil {
			return nil, err
		}
		services = append(services, &svc)
	}

	return services, rows.Err()
}

// ReplacePendingRecommendations deletes all pending recommendations and
// inserts the new set atomically. Accepted and dismissed rows survive.
func (s *PostgresStore) ReplacePendingRecommendations(ctx context.Context, recs []*models.Recommendation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recommendations WHERE status = $1`, models.StatusPending); err != nil {
		return fmt.Errorf("failed to clear pending recommendations: %w", err)
	}

	insert := `
		INSERT INTO recommendations (
			id, group_name, server_ids, target_server_type,
			current_total_cost_eur, projected_cost_eur, monthly_savings_eur,
			rationale, confidence, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		if rec.Status == "" {
			rec.Status = models.StatusPending
		}

		_, err := tx.ExecContext(ctx, insert,
			rec.ID, rec.GroupName, pq.Array(rec.ServerIDs), rec.TargetServerType,
			rec.CurrentCost, rec.ProjectedCost, rec.MonthlySavings,
			rec.Rationale, rec.Confidence, rec.Status, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert recommendation %s: %w", rec.GroupName, err)
		}
	}

	return tx.Commit()
}

const recommendationColumns = `
	id, group_name, server_ids, target_server_type,
	current_total_cost_eur, projected_cost_eur, monthly_savings_eur,
	rationale, confidence, status, created_at
`

func scanRecommendation(row interface{ Scan(...any) error }) (*models.Recommendation, error) {
	var rec models.Recommendation
	err := row.Scan(
		&rec.ID, &rec.GroupName, pq.Array(&rec.ServerIDs), &rec.TargetServerType,
		&rec.CurrentCost, &rec.ProjectedCost, &rec.MonthlySavings,
		&rec.Rationale, &rec.Confidence, &rec.Status, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecommendations retrieves recommendations, optionally filtered by
// status, highest savings first.
func (s *PostgresStore) ListRecommendations(ctx context.Context, status models.RecommendationStatus) ([]*models.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY monthly_savings_eur DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// GetRecommendation retrieves a recommendation by ID
func (s *PostgresStore) GetRecommendation(ctx context.Context, id string) (*models.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE id = $1`

	rec, err := scanRecommendation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recommendation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateRecommendationStatus transitions a pending recommendation to
// accepted or dismissed. Rows that already left pending are not modified.
func (s *PostgresStore) UpdateRecommendationStatus(ctx context.Context, id string, status models.RecommendationStatus) error {
	query := `
		UPDATE recommendations SET status = $1
		WHERE id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, status, id, models.StatusPending)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a missing row from a terminal one.
		if _, err := s.GetRecommendation(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("recommendation %s: %w", id, ErrNotPending)
	}

	return nil
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
