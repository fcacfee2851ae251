package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// writeCSV renders the report as CSV with a trailing summary block
func (r *Report) writeCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{
		"Group",
		"Servers",
		"Target Type",
		"Current (EUR/mo)",
		"Projected (EUR/mo)",
		"Savings (EUR/mo)",
		"Confidence",
		"Status",
		"Rationale",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range r.Recommendations {
		row := []string{
			rec.GroupName,
			strings.Join(rec.ServerIDs, " "),
			rec.TargetServerType,
			fmt.Sprintf("%.2f", rec.CurrentCost),
			fmt.Sprintf("%.2f", rec.ProjectedCost),
			fmt.Sprintf("%.2f", rec.MonthlySavings),
			string(rec.Confidence),
			string(rec.Status),
			rec.Rationale,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Write([]string{})
	cw.Write([]string{"SUMMARY"})
	cw.Write([]string{"Recommendations", fmt.Sprintf("%d", len(r.Recommendations))})
	cw.Write([]string{"Servers Covered", fmt.Sprintf("%d", r.ServersCovered)})
	cw.Write([]string{"Total Monthly Savings", fmt.Sprintf("%.2f EUR", r.TotalSavings)})

	return nil
}
