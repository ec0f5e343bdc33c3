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

type recordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository wires the record store backed by pgxpool. Field maps
// are stored as JSONB; partial updates merge over the stored document.
func NewRecordRepository(pool *pgxpool.Pool) RecordRepository {
	return &recordRepository{pool: pool}
}

func (r *recordRepository) Create(ctx context.Context, record domain.Record) (domain.Record, error) {
	fieldsJSON, err := record.FieldsAsJSON()
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to marshal fields: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO records (id, record_type, fields)
		 VALUES ($1, $2, $3)
		 RETURNING id, record_type, fields, created_at, updated_at`,
		record.ID,
		record.Type,
		fieldsJSON,
	)

	created, err := scanRecord(row)
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to create record: %w", err)
	}
	return created, nil
}

func (r *recordRepository) Update(ctx context.Context, recordType string, id uuid.UUID, fields map[string]any) (domain.Record, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to marshal fields: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`UPDATE records
		 SET fields = fields || $3::jsonb, updated_at = now()
		 WHERE record_type = $1 AND id = $2
		 RETURNING id, record_type, fields, created_at, updated_at`,
		recordType,
		id,
		fieldsJSON,
	)

	updated, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("%s %s: %w", recordType, id, ErrNotFound)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to update record: %w", err)
	}
	return updated, nil
}

func (r *recordRepository) GetByID(ctx context.Context, recordType string, id uuid.UUID) (domain.Record, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, record_type, fields, created_at, updated_at
		 FROM records
		 WHERE record_type = $1 AND id = $2`,
		recordType,
		id,
	)

	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("%s %s: %w", recordType, id, ErrNotFound)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

func (r *recordRepository) FindByField(ctx context.Context, recordType, field, value string) (domain.Record, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, record_type, fields, created_at, updated_at
		 FROM records
		 WHERE record_type = $1 AND fields->>$2 = $3
		 ORDER BY created_at
		 LIMIT 1`,
		recordType,
		field,
		value,
	)

	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("%s with %s=%q: %w", recordType, field, value, ErrNotFound)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to find record by field: %w", err)
	}
	return record, nil
}

func (r *recordRepository) Delete(ctx context.Context, recordType string, id uuid.UUID) error {
	tag, err := r.pool.Exec(
		ctx,
		`DELETE FROM records WHERE record_type = $1 AND id = $2`,
		recordType,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", recordType, id, ErrNotFound)
	}
	return nil
}

func (r *recordRepository) CountByType(ctx context.Context, recordType string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT count(*) FROM records WHERE record_type = $1`,
		recordType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		record     domain.Record
		fieldsJSON []byte
		createdAt  pgtype.Timestamptz
		updatedAt  pgtype.Timestamptz
	)
	if err := row.Scan(&record.ID, &record.Type, &fieldsJSON, &createdAt, &updatedAt); err != nil {
		return domain.Record{}, err
	}

	fields, err := domain.FieldsFromJSON(fieldsJSON)
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	record.Fields = fields
	if createdAt.Valid {
		record.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		record.UpdatedAt = updatedAt.Time
	}
	return record, nil
}
