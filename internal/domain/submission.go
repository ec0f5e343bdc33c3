package domain

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects how rows address existing records.
type Mode string

const (
	// ModeCreate creates records that do not exist yet and updates the ones
	// addressed by an already-registered external id or primary key.
	ModeCreate Mode = "create"
	// ModeUpdate only updates existing records; unresolved references and
	// unaddressed rows fail instead of creating anything.
	ModeUpdate Mode = "update"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusCreated            Status = "created"
	StatusPlanning           Status = "planning"
	StatusPlanningFailed     Status = "planning_failed"
	StatusValidating         Status = "validating"
	StatusValidationFailed   Status = "validation_failed"
	StatusCommitting         Status = "committing"
	StatusCommitted          Status = "committed"
	StatusPartiallyCommitted Status = "partially_committed"
	StatusCancelled          Status = "cancelled"
	StatusReversed           Status = "reversed"
)

var statusTransitions = map[Status][]Status{
	StatusCreated:    {StatusPlanning},
	StatusPlanning:   {StatusPlanningFailed, StatusValidating},
	StatusValidating: {StatusValidationFailed, StatusCommitting, StatusCancelled},
	StatusCommitting: {StatusCommitted, StatusPartiallyCommitted, StatusCancelled},
	// Reversal applies to any submission that may have written rows.
	StatusCommitted:          {StatusReversed},
	StatusPartiallyCommitted: {StatusReversed},
	StatusCancelled:          {StatusReversed},
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends submission processing. Dry runs
// terminate at StatusValidating, so it is terminal only for them; callers
// that need that distinction check Submission.DryRun.
func (s Status) Terminal() bool {
	switch s {
	case StatusPlanningFailed, StatusValidationFailed, StatusCommitted,
		StatusPartiallyCommitted, StatusCancelled, StatusReversed:
		return true
	}
	return false
}

// TypeCounts aggregates per-record-type row outcomes of one submission.
type TypeCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Errored int `json:"errored"`
}

// Submission is the durable record of one bulk-import request.
type Submission struct {
	ID          uuid.UUID             `json:"id"`
	FileName    string                `json:"file_name"`
	Mode        Mode                  `json:"mode"`
	DryRun      bool                  `json:"dry_run"`
	Status      Status                `json:"status"`
	Errors      []string              `json:"errors,omitempty"`
	Counts      map[string]TypeCounts `json:"counts"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// NewSubmission creates a submission in the initial state.
func NewSubmission(fileName string, mode Mode, dryRun bool) Submission {
	return Submission{
		ID:        uuid.New(),
		FileName:  fileName,
		Mode:      mode,
		DryRun:    dryRun,
		Status:    StatusCreated,
		Counts:    map[string]TypeCounts{},
		CreatedAt: time.Now(),
	}
}

// CountFor returns the aggregate counts for one record type.
func (s Submission) CountFor(recordType string) TypeCounts {
	return s.Counts[recordType]
}

// AddOutcomeToCounts folds one row outcome into the aggregate counters.
func (s *Submission) AddOutcomeToCounts(outcome RowOutcome) {
	if s.Counts == nil {
		s.Counts = map[string]TypeCounts{}
	}
	counts := s.Counts[outcome.RecordType]
	switch outcome.Outcome {
	case OutcomeCreated:
		counts.Created++
	case OutcomeUpdated:
		counts.Updated++
	case OutcomeErrored:
		counts.Errored++
	}
	s.Counts[outcome.RecordType] = counts
}
