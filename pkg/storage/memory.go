package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
)

// MemoryStore is an in-memory Store used for tests and demo mode. It mirrors
// the PostgresStore semantics, including upsert identity and the pending-only
// status transition.
type MemoryStore struct {
	mu        sync.RWMutex
	servers   map[string]*models.Server
	snapshots map[string][]*models.MetricSnapshot
	services  map[string][]*models.RunningService
	recs      map[string]*models.Recommendation

	nextSnapshotID int64
	nextServiceID  int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		servers:   make(map[string]*models.Server),
		snapshots: make(map[string][]*models.MetricSnapshot),
		services:  make(map[string][]*models.RunningService),
		recs:      make(map[string]*models.Recommendation),
	}
}

func copyServer(s *models.Server) *models.Server {
	out := *s
	if s.Labels != nil {
		out.Labels = make(map[string]string, len(s.Labels))
		for k, v := range s.Labels {
			out.Labels[k] = v
		}
	}
	return &out
}

func copyRecommendation(r *models.Recommendation) *models.Recommendation {
	out := *r
	out.ServerIDs = append([]string(nil), r.ServerIDs...)
	return &out
}

// UpsertServer inserts or updates a server matched on (source, external_id)
func (s *MemoryStore) UpsertServer(ctx context.Context, server *models.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if server.LastSeenAt.IsZero() {
		server.LastSeenAt = now
	}

	for _, existing := range s.servers {
		if existing.Source == server.Source && existing.ExternalID == server.ExternalID {
			server.ID = existing.ID
			server.CreatedAt = existing.CreatedAt
			s.servers[existing.ID] = copyServer(server)
			return nil
		}
	}

	if server.ID == "" {
		server.ID = uuid.New().String()
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = now
	}
	s.servers[server.ID] = copyServer(server)
	return nil
}

// GetServer retrieves a server by ID
func (s *MemoryStore) GetServer(ctx context.Context, id string) (*models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	server, ok := s.servers[id]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return copyServer(server), nil
}

// GetServerByExternalID retrieves a server by its source identity
func (s *MemoryStore) GetServerByExternalID(ctx context.Context, source models.Source, externalID string) (*models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, server := range s.servers {
		if server.Source == source && server.ExternalID == externalID {
			return copyServer(server), nil
		}
	}
	return nil, fmt.Errorf("server %s/%s: %w", source, externalID, ErrNotFound)
}

// GetServerByAddress retrieves the most recently seen server at an address
func (s *MemoryStore) GetServerByAddress(ctx context.Context, address string) (*models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match *models.Server
	for _, server := range s.servers {
		if server.Address != address {
			continue
		}
		if match == nil || server.LastSeenAt.After(match.LastSeenAt) {
			match = server
		}
	}
	if match == nil {
		return nil, fmt.Errorf("server at %s: %w", address, ErrNotFound)
	}
	return copyServer(match), nil
}

// ListServers retrieves all servers ordered by name
func (s *MemoryStore) ListServers(ctx context.Context) ([]*models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]*models.Server, 0, len(s.servers))
	for _, server := range s.servers {
		servers = append(servers, copyServer(server))
	}
	sort.Slice(servers, func(i, j int) bool {
		if servers[i].Name != servers[j].Name {
			return servers[i].Name < servers[j].Name
		}
		return servers[i].ExternalID < servers[j].ExternalID
	})
	return servers, nil
}

// MarkServersUnreachable flips stale running servers to unreachable
func (s *MemoryStore) MarkServersUnreachable(ctx context.Context, lastSeenBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, server := range s.servers {
		if server.Status == models.StatusRunning && server.LastSeenAt.Before(lastSeenBefore) {
			server.Status = models.StatusUnreachable
			count++
		}
	}
	return count, nil
}

// AppendSnapshot stores one utilization observation
func (s *MemoryStore) AppendSnapshot(ctx context.Context, snapshot *models.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendSnapshotLocked(snapshot)
	return nil
}

func (s *MemoryStore) appendSnapshotLocked(snapshot *models.MetricSnapshot) {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	}
	s.nextSnapshotID++
	snapshot.ID = s.nextSnapshotID

	snap := *snapshot
	s.snapshots[snap.ServerID] = append(s.snapshots[snap.ServerID], &snap)
}

// SnapshotsSince retrieves snapshots from the given time, oldest first
func (s *MemoryStore) SnapshotsSince(ctx context.Context, serverID string, since time.Time) ([]*models.MetricSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.MetricSnapshot
	for _, snap := range s.snapshots[serverID] {
		if !snap.Timestamp.Before(since) {
			copied := *snap
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// LatestSnapshot retrieves the most recent snapshot for a server
func (s *MemoryStore) LatestSnapshot(ctx context.Context, serverID string) (*models.MetricSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.MetricSnapshot
	for _, snap := range s.snapshots[serverID] {
		if latest == nil || snap.Timestamp.After(latest.Timestamp) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no snapshots for server %s: %w", serverID, ErrNotFound)
	}
	copied := *latest
	return &copied, nil
}

// AggregateMetrics computes mean and peak utilization over the window.
// No snapshots yields nil.
func (s *MemoryStore) AggregateMetrics(ctx context.Context, serverID string, since time.Time) (*models.UsageAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := models.UsageAggregate{ServerID: serverID, WindowStart: since}
	for _, snap := range s.snapshots[serverID] {
		if snap.Timestamp.Before(since) {
			continue
		}
		agg.SampleCount++
		agg.AvgCPU += snap.CPUPercent
		agg.AvgMemory += snap.MemoryPercent
		if snap.CPUPercent > agg.PeakCPU {
			agg.PeakCPU = snap.CPUPercent
		}
		if snap.MemoryPercent > agg.PeakMemory {
			agg.PeakMemory = snap.MemoryPercent
		}
	}

	if agg.SampleCount == 0 {
		return nil, nil
	}
	agg.AvgCPU /= float64(agg.SampleCount)
	agg.AvgMemory /= float64(agg.SampleCount)
	return &agg, nil
}

// RecordAgentReport appends the snapshot and replaces the service set
func (s *MemoryStore) RecordAgentReport(ctx context.Context, snapshot *models.MetricSnapshot, services []*models.RunningService) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendSnapshotLocked(snapshot)

	existing := make(map[string]*models.RunningService)
	for _, svc := range s.services[snapshot.ServerID] {
		existing[string(svc.ServiceType)+"\x00"+svc.Name] = svc
	}

	replaced := make([]*models.RunningService, 0, len(services))
	for _, svc := range services {
		copied := *svc
		copied.ServerID = snapshot.ServerID
		copied.LastSeenAt = snapshot.Timestamp
		if prev, ok := existing[string(svc.ServiceType)+"\x00"+svc.Name]; ok {
			copied.ID = prev.ID
			copied.DiscoveredAt = prev.DiscoveredAt
		} else {
			s.nextServiceID++
			copied.ID = s.nextServiceID
			copied.DiscoveredAt = snapshot.Timestamp
		}
		replaced = append(replaced, &copied)
	}
	s.services[snapshot.ServerID] = replaced
	return nil
}

// ListServices retrieves the current service set for a server
func (s *MemoryStore) ListServices(ctx context.Context, serverID string) ([]*models.RunningService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]*models.RunningService, 0, len(s.services[serverID]))
	for _, svc := range s.services[serverID] {
		copied := *svc
		services = append(services, &copied)
	}
	sort.Slice(services, func(i, j int) bool {
		if services[i].ServiceType != services[j].ServiceType {
			return services[i].ServiceType < services[j].ServiceType
		}
		return services[i].Name < services[j].Name
	})
	return services, nil
}

// ReplacePendingRecommendations clears pending rows and inserts the new set
func (s *MemoryStore) ReplacePendingRecommendations(ctx context.Context, recs []*models.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.recs {
		if rec.Status == models.StatusPending {
			delete(s.recs, id)
		}
	}

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
		s.recs[rec.ID] = copyRecommendation(rec)
	}
	return nil
}

// ListRecommendations retrieves recommendations filtered by status,
// highest savings first.
func (s *MemoryStore) ListRecommendations(ctx context.Context, status models.RecommendationStatus) ([]*models.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*models.Recommendation
	for _, rec := range s.recs {
		if status != "" && rec.Status != status {
			continue
		}
		recs = append(recs, copyRecommendation(rec))
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].MonthlySavings != recs[j].MonthlySavings {
			return recs[i].MonthlySavings > recs[j].MonthlySavings
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

// GetRecommendation retrieves a recommendation by ID
func (s *MemoryStore) GetRecommendation(ctx context.Context, id string) (*models.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[id]
	if !ok {
		return nil, fmt.Errorf("recommendation %s: %w", id, ErrNotFound)
	}
	return copyRecommendation(rec), nil
}

// UpdateRecommendationStatus transitions a pending recommendation
func (s *MemoryStore) UpdateRecommendationStatus(ctx context.Context, id string, status models.RecommendationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return fmt.Errorf("recommendation %s: %w", id, ErrNotFound)
	}
	if rec.Status != models.StatusPending {
		return fmt.Errorf("recommendation %s: %w", id, ErrNotPending)
	}
	rec.Status = status
	return nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
