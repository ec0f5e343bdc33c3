package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type submissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository wires the batch ledger backed by pgxpool.
func NewSubmissionRepository(pool *pgxpool.Pool) SubmissionRepository {
	return &submissionRepository{pool: pool}
}

func (r *submissionRepository) Create(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	countsJSON, err := json.Marshal(sub.Counts)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("failed to marshal counts: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO submissions (id, file_name, mode, dry_run, status, errors, counts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID,
		sub.FileName,
		string(sub.Mode),
		sub.DryRun,
		string(sub.Status),
		sub.Errors,
		countsJSON,
		sub.CreatedAt,
	)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("failed to create submission: %w", err)
	}
	return sub, nil
}

func (r *submissionRepository) Get(ctx context.Context, id uuid.UUID) (domain.Submission, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, file_name, mode, dry_run, status, errors, counts, created_at, started_at, completed_at
		 FROM submissions
		 WHERE id = $1`,
		id,
	)

	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

func (r *submissionRepository) Update(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	countsJSON, err := json.Marshal(sub.Counts)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("failed to marshal counts: %w", err)
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE submissions
		 SET status = $2, errors = $3, counts = $4, started_at = $5, completed_at = $6
		 WHERE id = $1`,
		sub.ID,
		string(sub.Status),
		sub.Errors,
		countsJSON,
		sub.StartedAt,
		sub.CompletedAt,
	)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("failed to update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Submission{}, fmt.Errorf("submission %s: %w", sub.ID, ErrNotFound)
	}
	return sub, nil
}

func (r *submissionRepository) List(ctx context.Context, limit, offset int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, file_name, mode, dry_run, status, errors, counts, created_at, started_at, completed_at
		 FROM submissions
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submissions: %w", err)
	}
	return subs, nil
}

func (r *submissionRepository) AddOutcome(ctx context.Context, outcome domain.RowOutcome) error {
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO row_outcomes (submission_id, row_number, record_type, record_id, outcome, errors)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		outcome.SubmissionID,
		outcome.RowNumber,
		outcome.RecordType,
		outcome.RecordID,
		string(outcome.Outcome),
		outcome.Errors,
	)
	if err != nil {
		return fmt.Errorf("failed to add row outcome: %w", err)
	}
	return nil
}

func (r *submissionRepository) ListOutcomes(ctx context.Context, submissionID uuid.UUID) ([]domain.RowOutcome, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT submission_id, row_number, record_type, record_id, outcome, errors, created_at
		 FROM row_outcomes
		 WHERE submission_id = $1
		 ORDER BY id`,
		submissionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list row outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []domain.RowOutcome{}
	for rows.Next() {
		var (
			outcome    domain.RowOutcome
			recordID   *uuid.UUID
			outcomeStr string
			createdAt  pgtype.Timestamptz
		)
		if err := rows.Scan(
			&outcome.SubmissionID,
			&outcome.RowNumber,
			&outcome.RecordType,
			&recordID,
			&outcomeStr,
			&outcome.Errors,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row outcome: %w", err)
		}
		outcome.RecordID = recordID
		outcome.Outcome = domain.Outcome(outcomeStr)
		if createdAt.Valid {
			outcome.CreatedAt = createdAt.Time
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate row outcomes: %w", err)
	}
	return outcomes, nil
}

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var (
		sub         domain.Submission
		mode        string
		status      string
		countsJSON  []byte
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
	)
	if err := row.Scan(
		&sub.ID,
		&sub.FileName,
		&mode,
		&sub.DryRun,
		&status,
		&sub.Errors,
		&countsJSON,
		&createdAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return domain.Submission{}, err
	}

	sub.Mode = domain.Mode(mode)
	sub.Status = domain.Status(status)
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &sub.Counts); err != nil {
			return domain.Submission{}, fmt.Errorf("failed to unmarshal counts: %w", err)
		}
	}
	if createdAt.Valid {
		sub.CreatedAt = createdAt.Time
	}
	if startedAt.Valid {
		t := startedAt.Time
		sub.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		sub.CompletedAt = &t
	}
	return sub, nil
}
