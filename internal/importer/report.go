package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/google/uuid"
)

// Report aggregates one submission's row outcomes into per-record-type
// counts plus the downloadable per-row detail.
type Report struct {
	SubmissionID uuid.UUID                    `json:"submissionId"`
	FileName     string                       `json:"fileName"`
	Status       domain.Status                `json:"status"`
	DryRun       bool                         `json:"dryRun"`
	Errors       []string                     `json:"errors,omitempty"`
	Counts       map[string]domain.TypeCounts `json:"counts"`
	Outcomes     []domain.RowOutcome          `json:"outcomes"`
}

// BuildReport assembles the report for a submission from its ledger rows.
func BuildReport(sub domain.Submission, outcomes []domain.RowOutcome) Report {
	counts := make(map[string]domain.TypeCounts, len(sub.Counts))
	for recordType, c := range sub.Counts {
		counts[recordType] = c
	}
	return Report{
		SubmissionID: sub.ID,
		FileName:     sub.FileName,
		Status:       sub.Status,
		DryRun:       sub.DryRun,
		Errors:       sub.Errors,
		Counts:       counts,
		Outcomes:     outcomes,
	}
}

// WriteCSV renders the detail report: one line per row with row number,
// record type, outcome, resulting id, and error text.
func (r Report) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"row_number", "record_type", "outcome", "record_id", "errors"}); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	for _, outcome := range r.Outcomes {
		recordID := ""
		if outcome.RecordID != nil {
			recordID = outcome.RecordID.String()
		}
		line := []string{
			fmt.Sprintf("%d", outcome.RowNumber),
			outcome.RecordType,
			string(outcome.Outcome),
			recordID,
			strings.Join(outcome.Errors, "; "),
		}
		if err := writer.Write(line); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
