package models

import "time"

// Confidence expresses how safe a recommendation is to act on.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// RecommendationStatus is a three-state machine. A recommendation starts
// pending; only an external actor moves it to accepted or dismissed, and
// both are terminal. The recommender never touches non-pending rows.
type RecommendationStatus string

const (
	StatusPending   RecommendationStatus = "pending"
	StatusAccepted  RecommendationStatus = "accepted"
	StatusDismissed RecommendationStatus = "dismissed"
)

// Valid reports whether s is a known status value.
func (s RecommendationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDismissed:
		return true
	}
	return false
}

// Recommendation is one suggested consolidation or right-sizing action.
// MonthlySavings is CurrentCost - ProjectedCost and is always > 0 for
// persisted rows.
type Recommendation struct {
	ID               string               `json:"id"`
	GroupName        string               `json:"group_name"`
	ServerIDs        []string             `json:"server_ids"`
	TargetServerType string               `json:"target_server_type"`
	CurrentCost      float64              `json:"current_total_cost_eur"`
	ProjectedCost    float64              `json:"projected_cost_eur"`
	MonthlySavings   float64              `json:"monthly_savings_eur"`
	Rationale        string               `json:"rationale"`
	Confidence       Confidence           `json:"confidence"`
	Status           RecommendationStatus `json:"status"`
	CreatedAt        time.Time            `json:"created_at"`
}
