package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/google/uuid"
)

type naturalKeyService struct {
	records  RecordRepository
	registry *domain.Registry
}

// NewNaturalKeyService builds the natural-key lookup/create service over the
// record repository, using the registry to find each type's declared
// natural-key field.
func NewNaturalKeyService(records RecordRepository, registry *domain.Registry) NaturalKeyService {
	return &naturalKeyService{records: records, registry: registry}
}

func (s *naturalKeyService) Resolve(ctx context.Context, recordType, value string) (uuid.UUID, error) {
	field, err := s.naturalField(recordType)
	if err != nil {
		return uuid.Nil, err
	}

	record, err := s.records.FindByField(ctx, recordType, field.Name, value)
	if err != nil {
		return uuid.Nil, err
	}
	return record.ID, nil
}

func (s *naturalKeyService) ResolveOrCreate(ctx context.Context, recordType, value string) (uuid.UUID, bool, error) {
	id, err := s.Resolve(ctx, recordType, value)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return uuid.Nil, false, err
	}

	field, err := s.naturalField(recordType)
	if err != nil {
		return uuid.Nil, false, err
	}

	created, err := s.records.Create(ctx, domain.NewRecord(recordType, map[string]any{field.Name: value}))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to create %s by natural key: %w", recordType, err)
	}
	return created.ID, true, nil
}

func (s *naturalKeyService) naturalField(recordType string) (domain.Field, error) {
	def, ok := s.registry.Type(recordType)
	if !ok {
		return domain.Field{}, fmt.Errorf("unregistered record type %q", recordType)
	}
	field, ok := def.NaturalKeyField()
	if !ok {
		return domain.Field{}, fmt.Errorf("record type %q declares no natural key", recordType)
	}
	return field, nil
}
