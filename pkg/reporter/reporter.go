package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
)

// Format represents the output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format flag value
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown format %q (text, json or csv)", s)
}

// Report bundles recommendations with their summary totals.
type Report struct {
	GeneratedAt     time.Time                `json:"generated_at"`
	Recommendations []*models.Recommendation `json:"recommendations"`
	TotalSavings    float64                  `json:"total_monthly_savings_eur"`
	ServersCovered  int                      `json:"servers_covered"`
}

// Build creates a report from a recommendation list
func Build(recs []*models.Recommendation) *Report {
	report := &Report{
		GeneratedAt:     time.Now().UTC(),
		Recommendations: recs,
	}
	for _, rec := range recs {
		report.TotalSavings += rec.MonthlySavings
		report.ServersCovered += len(rec.ServerIDs)
	}
	return report
}

// Write renders the report in the given format
func (r *Report) Write(w io.Writer, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatCSV:
		return r.writeCSV(w)
	default:
		return r.writeText(w)
	}
}

func (r *Report) writeText(w io.Writer) error {
	if len(r.Recommendations) == 0 {
		_, err := fmt.Fprintln(w, "No recommendations.")
		return err
	}

	for i, rec := range r.Recommendations {
		fmt.Fprintf(w, "%d. %s [%s, %s]\n", i+1, rec.GroupName, rec.Status, rec.Confidence)
		fmt.Fprintf(w, "   Servers:  %d\n", len(rec.ServerIDs))
		if rec.TargetServerType != "" {
			fmt.Fprintf(w, "   Target:   %s\n", rec.TargetServerType)
		}
		fmt.Fprintf(w, "   Cost:     %.2f EUR/mo -> %.2f EUR/mo (save %.2f)\n",
			rec.CurrentCost, rec.ProjectedCost, rec.MonthlySavings)
		fmt.Fprintf(w, "   Why:      %s\n\n", rec.Rationale)
	}

	_, err := fmt.Fprintf(w, "Total: %d recommendations covering %d servers, %.2f EUR/mo potential savings\n",
		len(r.Recommendations), r.ServersCovered, r.TotalSavings)
	return err
}
