package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

type externalIDRepository struct {
	pool *pgxpool.Pool
}

// NewExternalIDRepository wires the external-id mapping store backed by
// pgxpool. The (record_type, external_key) primary key enforces mapping
// uniqueness at the store level as a backstop to the keystore's locking.
func NewExternalIDRepository(pool *pgxpool.Pool) ExternalIDRepository {
	return &externalIDRepository{pool: pool}
}

func (r *externalIDRepository) Lookup(ctx context.Context, recordType, key string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(
		ctx,
		`SELECT record_id FROM external_ids WHERE record_type = $1 AND external_key = $2`,
		recordType,
		key,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to look up external id: %w", err)
	}
	return id, true, nil
}

func (r *externalIDRepository) Register(ctx context.Context, mapping domain.ExternalIDMapping) error {
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO external_ids (record_type, external_key, record_id, submission_id)
		 VALUES ($1, $2, $3, $4)`,
		mapping.RecordType,
		mapping.Key,
		mapping.RecordID,
		mapping.SubmissionID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s %q", ErrKeyConflict, mapping.RecordType, mapping.Key)
		}
		return fmt.Errorf("failed to register external id: %w", err)
	}
	return nil
}

func (r *externalIDRepository) DeleteBySubmission(ctx context.Context, submissionID uuid.UUID) error {
	_, err := r.pool.Exec(
		ctx,
		`DELETE FROM external_ids WHERE submission_id = $1`,
		submissionID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete external ids: %w", err)
	}
	return nil
}
