package importer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/google/uuid"
)

func TestReportWriteCSV(t *testing.T) {
	sub := domain.NewSubmission("people.csv", domain.ModeCreate, false)
	sub.Status = domain.StatusPartiallyCommitted

	createdID := uuid.New()
	outcomes := []domain.RowOutcome{
		{
			SubmissionID: sub.ID,
			RowNumber:    1,
			RecordType:   "Person",
			RecordID:     &createdID,
			Outcome:      domain.OutcomeCreated,
		},
		{
			SubmissionID: sub.ID,
			RowNumber:    2,
			RecordType:   "Person",
			Outcome:      domain.OutcomeErrored,
			Errors:       []string{"Person.name: required field is missing", "Person.age: unable to coerce"},
		},
	}
	for _, outcome := range outcomes {
		sub.AddOutcomeToCounts(outcome)
	}

	report := BuildReport(sub, outcomes)
	if report.Counts["Person"].Created != 1 || report.Counts["Person"].Errored != 1 {
		t.Fatalf("unexpected counts: %+v", report.Counts)
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf); err != nil {
		t.Fatalf("write csv returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "row_number,record_type,outcome,record_id,errors" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], createdID.String()) {
		t.Fatalf("created row missing record id: %q", lines[1])
	}
	if !strings.Contains(lines[2], "required field is missing; ") {
		t.Fatalf("errors not joined: %q", lines[2])
	}
}
