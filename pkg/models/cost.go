package models

// CostBreakdown is one slice of the fleet's monthly spend.
type CostBreakdown struct {
	Category string  `json:"category"`
	CostEUR  float64 `json:"cost_eur"`
	Count    int     `json:"count"`
}

// CostOverview summarizes current monthly spend and pending savings,
// served to the API layer.
type CostOverview struct {
	TotalMonthlyEUR     float64         `json:"total_monthly_eur"`
	CloudCostEUR        float64         `json:"cloud_cost_eur"`
	DedicatedCostEUR    float64         `json:"dedicated_cost_eur"`
	PotentialSavingsEUR float64         `json:"potential_savings_eur"`
	ServerCount         int             `json:"server_count"`
	ByDatacenter        []CostBreakdown `json:"by_datacenter"`
	ByProject           []CostBreakdown `json:"by_project"`
}
