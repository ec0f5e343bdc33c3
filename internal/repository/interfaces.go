package repository

import (
	"context"
	"errors"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a looked-up record, submission, or mapping
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrKeyConflict is returned when an external key is already registered to a
// different record of the same type.
var ErrKeyConflict = errors.New("external key already registered to a different record")

// RecordRepository is the per-record-type persistence layer the import
// engine consumes: create, partial update, lookup, and delete.
type RecordRepository interface {
	Create(ctx context.Context, record domain.Record) (domain.Record, error)
	// Update merges the given fields over the stored ones; fields absent
	// from the argument keep their stored values.
	Update(ctx context.Context, recordType string, id uuid.UUID, fields map[string]any) (domain.Record, error)
	GetByID(ctx context.Context, recordType string, id uuid.UUID) (domain.Record, error)
	// FindByField returns the oldest record of the type whose named field
	// equals value.
	FindByField(ctx context.Context, recordType, field, value string) (domain.Record, error)
	Delete(ctx context.Context, recordType string, id uuid.UUID) error
	CountByType(ctx context.Context, recordType string) (int64, error)
}

// SubmissionRepository is the batch ledger: submissions plus one row
// outcome per processed row.
type SubmissionRepository interface {
	Create(ctx context.Context, sub domain.Submission) (domain.Submission, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Submission, error)
	Update(ctx context.Context, sub domain.Submission) (domain.Submission, error)
	List(ctx context.Context, limit, offset int) ([]domain.Submission, error)
	AddOutcome(ctx context.Context, outcome domain.RowOutcome) error
	// ListOutcomes returns the submission's outcomes in insertion order,
	// which is the order rows were processed in.
	ListOutcomes(ctx context.Context, submissionID uuid.UUID) ([]domain.RowOutcome, error)
}

// ExternalIDRepository stores external-identifier mappings. Register must
// fail on a (record type, key) collision rather than overwrite.
type ExternalIDRepository interface {
	Lookup(ctx context.Context, recordType, key string) (uuid.UUID, bool, error)
	Register(ctx context.Context, mapping domain.ExternalIDMapping) error
	DeleteBySubmission(ctx context.Context, submissionID uuid.UUID) error
}

// NaturalKeyService resolves a record by its declared natural-key field
// value, optionally creating it when absent.
type NaturalKeyService interface {
	Resolve(ctx context.Context, recordType, value string) (uuid.UUID, error)
	ResolveOrCreate(ctx context.Context, recordType, value string) (id uuid.UUID, created bool, err error)
}
