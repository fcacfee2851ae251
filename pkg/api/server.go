package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opscart/infra-cost-optimizer/pkg/collector"
	"github.com/opscart/infra-cost-optimizer/pkg/storage"
)

// Server is the HTTP surface of the pipeline: read access to inventory,
// usage and recommendations, the two recommendation status transitions, and
// the agent report endpoint. Everything else is written by the pipeline
// itself.
type Server struct {
	store     storage.Store
	collector *collector.Collector
	logger    *slog.Logger
}

// NewServer creates the API server
func NewServer(store storage.Store, c *collector.Collector, logger *slog.Logger) *Server {
	return &Server{
		store:     store,
		collector: c,
		logger:    logger,
	}
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(s.logger))

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/agent/report", s.handleAgentReport).Methods("POST")

	api.HandleFunc("/servers", s.handleListServers).Methods("GET")
	api.HandleFunc("/servers/{id}", s.handleGetServer).Methods("GET")
	api.HandleFunc("/servers/{id}/metrics", s.handleServerMetrics).Methods("GET")
	api.HandleFunc("/servers/{id}/services", s.handleServerServices).Methods("GET")

	api.HandleFunc("/recommendations", s.handleListRecommendations).Methods("GET")
	api.HandleFunc("/recommendations/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/recommendations/{id}/dismiss", s.handleDismiss).Methods("POST")

	api.HandleFunc("/costs/overview", s.handleCostOverview).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// ListenAndServe serves the API on addr
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("api listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}
