package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/opscart/infra-cost-optimizer/pkg/collector"
	"github.com/opscart/infra-cost-optimizer/pkg/models"
	"github.com/opscart/infra-cost-optimizer/pkg/storage"
)

// agentSecretHeader carries the shared secret on agent reports.
const agentSecretHeader = "X-Agent-Secret"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "degraded",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	payload := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if servers, err := s.store.ListServers(r.Context()); err == nil {
		payload["server_count"] = len(servers)
		var lastSeen time.Time
		for _, server := range servers {
			if server.LastSeenAt.After(lastSeen) {
				lastSeen = server.LastSeenAt
			}
		}
		if !lastSeen.IsZero() {
			payload["last_collection"] = lastSeen.UTC().Format(time.RFC3339)
		}
	}
	respondWithJSON(w, http.StatusOK, payload)
}

func (s *Server) handleAgentReport(w http.ResponseWriter, r *http.Request) {
	var report collector.AgentReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	defer r.Body.Close()

	err := s.collector.IngestAgentReport(r.Context(), r.Header.Get(agentSecretHeader), &report)
	switch {
	case errors.Is(err, collector.ErrAgentUnauthorized):
		respondWithError(w, http.StatusUnauthorized, "invalid agent secret")
	case errors.Is(err, collector.ErrInvalidReport):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		respondWithError(w, http.StatusInternalServerError, err.Error())
	default:
		respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListServers(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"servers": servers,
		"count":   len(servers),
	})
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	server, err := s.store.GetServer(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "server not found")
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, server)
}

func (s *Server) handleServerMetrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := s.store.GetServer(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "server not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 24*30 {
			respondWithError(w, http.StatusBadRequest, "hours must be between 1 and 720")
			return
		}
		hours = parsed
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	snapshots, err := s.store.SnapshotsSince(r.Context(), id, since)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"server_id": id,
		"hours":     hours,
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

func (s *Server) handleServerServices(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := s.store.GetServer(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "server not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	services, err := s.store.ListServices(r.Context(), id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"server_id": id,
		"services":  services,
		"count":     len(services),
	})
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	status := models.RecommendationStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondWithError(w, http.StatusBadRequest, "status must be pending, accepted or dismissed")
		return
	}

	recs, err := s.store.ListRecommendations(r.Context(), status)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var totalSavings float64
	for _, rec := range recs {
		totalSavings += rec.MonthlySavings
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"recommendations":     recs,
		"count":               len(recs),
		"monthly_savings_eur": totalSavings,
	})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, models.StatusAccepted)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, models.StatusDismissed)
}

// transition applies a status change. A non-pending recommendation is a
// conflict, reported as such rather than silently succeeding.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, status models.RecommendationStatus) {
	id := mux.Vars(r)["id"]

	err := s.store.UpdateRecommendationStatus(r.Context(), id, status)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "recommendation not found")
	case errors.Is(err, storage.ErrNotPending):
		respondWithError(w, http.StatusConflict, "recommendation is no longer pending")
	case err != nil:
		respondWithError(w, http.StatusInternalServerError, err.Error())
	default:
		rec, err := s.store.GetRecommendation(r.Context(), id)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondWithJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleCostOverview(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListServers(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pending, err := s.store.ListRecommendations(r.Context(), models.StatusPending)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	overview := buildCostOverview(servers, pending)
	respondWithJSON(w, http.StatusOK, overview)
}

func buildCostOverview(servers []*models.Server, pending []*models.Recommendation) *models.CostOverview {
	overview := &models.CostOverview{ServerCount: len(servers)}

	byDC := map[string]*models.CostBreakdown{}
	byProject := map[string]*models.CostBreakdown{}

	for _, server := range servers {
		overview.TotalMonthlyEUR += server.MonthlyCost
		switch server.Source {
		case models.SourceCloud:
			overview.CloudCostEUR += server.MonthlyCost
		case models.SourceDedicated:
			overview.DedicatedCostEUR += server.MonthlyCost
		}

		dc := server.Datacenter
		if dc == "" {
			dc = "unknown"
		}
		if byDC[dc] == nil {
			byDC[dc] = &models.CostBreakdown{Category: dc}
		}
		byDC[dc].CostEUR += server.MonthlyCost
		byDC[dc].Count++

		project := server.ProjectName
		if project == "" {
			project = "unassigned"
		}
		if byProject[project] == nil {
			byProject[project] = &models.CostBreakdown{Category: project}
		}
		byProject[project].CostEUR += server.MonthlyCost
		byProject[project].Count++
	}

	for _, rec := range pending {
		overview.PotentialSavingsEUR += rec.MonthlySavings
	}

	overview.ByDatacenter = sortBreakdowns(byDC)
	overview.ByProject = sortBreakdowns(byProject)
	return overview
}

func sortBreakdowns(m map[string]*models.CostBreakdown) []models.CostBreakdown {
	out := make([]models.CostBreakdown, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CostEUR != out[j].CostEUR {
			return out[i].CostEUR > out[j].CostEUR
		}
		return out[i].Category < out[j].Category
	})
	return out
}
