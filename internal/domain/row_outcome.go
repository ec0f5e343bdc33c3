package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies the result of processing one submission row.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeErrored Outcome = "errored"
)

// RowOutcome is the per-row result of one submission. Exactly one exists per
// (submission, row number); it is written once and never mutated. Rows
// auto-created to satisfy an external-id or natural-value reference carry
// synthetic negative row numbers so they never collide with sheet rows.
type RowOutcome struct {
	SubmissionID uuid.UUID  `json:"submission_id"`
	RowNumber    int        `json:"row_number"`
	RecordType   string     `json:"record_type"`
	RecordID     *uuid.UUID `json:"record_id,omitempty"`
	Outcome      Outcome    `json:"outcome"`
	Errors       []string   `json:"errors,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Synthetic reports whether the outcome belongs to an auto-created stub
// referent rather than a sheet row.
func (o RowOutcome) Synthetic() bool {
	return o.RowNumber < 0
}
