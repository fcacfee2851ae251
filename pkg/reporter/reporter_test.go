package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
)

func sampleRecs() []*models.Recommendation {
	return []*models.Recommendation{
		{
			GroupName: "staging-web", ServerIDs: []string{"a", "b", "c"},
			TargetServerType: "cx31", CurrentCost: 15, ProjectedCost: 12, MonthlySavings: 3,
			Rationale: "3 underused non-production replicas", Confidence: models.ConfidenceMedium,
			Status: models.StatusPending,
		},
		{
			GroupName: "legacy-batch-1", ServerIDs: []string{"d"},
			TargetServerType: "cx21", CurrentCost: 20, ProjectedCost: 10, MonthlySavings: 10,
			Rationale: "Idle for 30 days", Confidence: models.ConfidenceHigh,
			Status: models.StatusPending,
		},
	}
}

func TestBuildTotals(t *testing.T) {
	report := Build(sampleRecs())
	if report.TotalSavings != 13 {
		t.Errorf("Expected total savings 13, got %f", report.TotalSavings)
	}
	if report.ServersCovered != 4 {
		t.Errorf("Expected 4 servers covered, got %d", report.ServersCovered)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := Build(sampleRecs()).Write(&buf, FormatText); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"staging-web", "legacy-batch-1", "save 10.00", "13.00 EUR/mo"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestWriteTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Build(nil).Write(&buf, FormatText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No recommendations") {
		t.Errorf("Unexpected empty output: %s", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Build(sampleRecs()).Write(&buf, FormatJSON); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var decoded Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if len(decoded.Recommendations) != 2 || decoded.TotalSavings != 13 {
		t.Errorf("Unexpected decoded report: %+v", decoded)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Build(sampleRecs()).Write(&buf, FormatCSV); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	reader := csv.NewReader(&buf)
	reader.FieldsPerRecord = -1 // summary rows are shorter
	rows, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Output is not valid CSV: %v", err)
	}
	// Header, 2 rows, blank, summary label and 3 summary rows.
	if len(rows) < 7 {
		t.Fatalf("Expected at least 7 CSV rows, got %d", len(rows))
	}
	if rows[1][0] != "staging-web" {
		t.Errorf("Unexpected first row: %v", rows[1])
	}
}

func TestParseFormat(t *testing.T) {
	if _, err := ParseFormat("yaml"); err == nil {
		t.Error("Expected error for unknown format")
	}
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("Expected case-insensitive json, got %v %v", f, err)
	}
}
