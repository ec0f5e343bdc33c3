package importer

import (
	"context"
	"errors"
	"sync"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
	"github.com/davidstormer/fdp-app-sub000/internal/keystore"
	"github.com/davidstormer/fdp-app-sub000/internal/repository"

	"github.com/google/uuid"
)

// recordStore abstracts persistence for one submission run so that commit
// and dry-run share the same resolution and validation path. The live store
// writes through to the repositories; the dry store overlays all writes in
// memory and leaves the persistent store untouched.
type recordStore interface {
	GetByID(ctx context.Context, recordType string, id uuid.UUID) (domain.Record, bool, error)
	LookupExternal(ctx context.Context, recordType, key string) (uuid.UUID, bool, error)
	RegisterExternal(ctx context.Context, recordType, key string, id uuid.UUID) error
	ResolveNatural(ctx context.Context, recordType, value string) (uuid.UUID, bool, error)
	CreateNatural(ctx context.Context, recordType, value string) (uuid.UUID, error)
	Create(ctx context.Context, record domain.Record) (domain.Record, error)
	Update(ctx context.Context, recordType string, id uuid.UUID, fields map[string]any) error
	Delete(ctx context.Context, recordType string, id uuid.UUID) error
	LockKey(recordType, key string) func()
}

type liveStore struct {
	records      repository.RecordRepository
	keys         *keystore.Store
	natural      repository.NaturalKeyService
	submissionID uuid.UUID
}

func newLiveStore(records repository.RecordRepository, keys *keystore.Store, natural repository.NaturalKeyService, submissionID uuid.UUID) *liveStore {
	return &liveStore{records: records, keys: keys, natural: natural, submissionID: submissionID}
}

func (s *liveStore) GetByID(ctx context.Context, recordType string, id uuid.UUID) (domain.Record, bool, error) {
	record, err := s.records.GetByID(ctx, recordType, id)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	return record, true, nil
}

func (s *liveStore) LookupExternal(ctx context.Context, recordType, key string) (uuid.UUID, bool, error) {
	return s.keys.Lookup(ctx, recordType, key)
}

func (s *liveStore) RegisterExternal(ctx context.Context, recordType, key string, id uuid.UUID) error {
	return s.keys.Register(ctx, domain.ExternalIDMapping{
		RecordType:   recordType,
		Key:          key,
		RecordID:     id,
		SubmissionID: s.submissionID,
	})
}

func (s *liveStore) ResolveNatural(ctx context.Context, recordType, value string) (uuid.UUID, bool, error) {
	id, err := s.natural.Resolve(ctx, recordType, value)
	if errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

func (s *liveStore) CreateNatural(ctx context.Context, recordType, value string) (uuid.UUID, error) {
	id, _, err := s.natural.ResolveOrCreate(ctx, recordType, value)
	return id, err
}

func (s *liveStore) Create(ctx context.Context, record domain.Record) (domain.Record, error) {
	return s.records.Create(ctx, record)
}

func (s *liveStore) Update(ctx context.Context, recordType string, id uuid.UUID, fields map[string]any) error {
	_, err := s.records.Update(ctx, recordType, id, fields)
	return err
}

func (s *liveStore) Delete(ctx context.Context, recordType string, id uuid.UUID) error {
	return s.records.Delete(ctx, recordType, id)
}

func (s *liveStore) LockKey(recordType, key string) func() {
	return s.keys.Lock(recordType, key)
}

// dryStore gives dry runs full resolution and validation against the real
// store's committed state while keeping every write submission-scoped and
// in memory: no record, mapping, or natural-key creation survives the run.
type dryStore struct {
	registry *domain.Registry
	records  repository.RecordRepository
	keys     *keystore.Store
	natural  repository.NaturalKeyService

	mu             sync.Mutex
	created        map[uuid.UUID]domain.Record
	externalOver   map[string]uuid.UUID
	naturalOver    map[string]uuid.UUID
	naturalCreated map[string]bool
}

func newDryStore(registry *domain.Registry, records repository.RecordRepository, keys *keystore.Store, natural repository.NaturalKeyService) *dryStore {
	return &dryStore{
		registry:       registry,
		records:        records,
		keys:           keys,
		natural:        natural,
		created:        make(map[uuid.UUID]domain.Record),
		externalOver:   make(map[string]uuid.UUID),
		naturalOver:    make(map[string]uuid.UUID),
		naturalCreated: make(map[string]bool),
	}
}

func overlayKey(recordType, value string) string {
	return recordType + "\x00" + value
}

func (s *dryStore) GetByID(ctx context.Context, recordType string, id uuid.UUID) (domain.Record, bool, error) {
	s.mu.Lock()
	record, ok := s.created[id]
	s.mu.Unlock()
	if ok && record.Type == recordType {
		return record, true, nil
	}

	record, err := s.records.GetByID(ctx, recordType, id)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	return record, true, nil
}

func (s *dryStore) LookupExternal(ctx context.Context, recordType, key string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	id, ok := s.externalOver[overlayKey(recordType, key)]
	s.mu.Unlock()
	if ok {
		return id, true, nil
	}
	return s.keys.Lookup(ctx, recordType, key)
}

func (s *dryStore) RegisterExternal(ctx context.Context, recordType, key string, id uuid.UUID) error {
	existing, found, err := s.LookupExternal(ctx, recordType, key)
	if err != nil {
		return err
	}
	if found && existing != id {
		return errors.New("external key already registered to a different record")
	}
	s.mu.Lock()
	s.externalOver[overlayKey(recordType, key)] = id
	s.mu.Unlock()
	return nil
}

func (s *dryStore) ResolveNatural(ctx context.Context, recordType, value string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	id, ok := s.naturalOver[overlayKey(recordType, value)]
	s.mu.Unlock()
	if ok {
		return id, true, nil
	}

	// Records this run created in the overlay must be found by natural key
	// the same way committed records would be.
	if def, ok := s.registry.Type(recordType); ok {
		if field, ok := def.NaturalKeyField(); ok {
			s.mu.Lock()
			for _, record := range s.created {
				if record.Type == recordType && record.Fields[field.Name] == value {
					s.mu.Unlock()
					return record.ID, true, nil
				}
			}
			s.mu.Unlock()
		}
	}

	id, err := s.natural.Resolve(ctx, recordType, value)
	if errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

func (s *dryStore) CreateNatural(ctx context.Context, recordType, value string) (uuid.UUID, error) {
	id := uuid.New()
	s.mu.Lock()
	s.naturalOver[overlayKey(recordType, value)] = id
	s.naturalCreated[overlayKey(recordType, value)] = true
	s.created[id] = domain.Record{ID: id, Type: recordType, Fields: map[string]any{}}
	s.mu.Unlock()
	return id, nil
}

func (s *dryStore) Create(ctx context.Context, record domain.Record) (domain.Record, error) {
	s.mu.Lock()
	s.created[record.ID] = record
	s.mu.Unlock()
	return record, nil
}

func (s *dryStore) Update(ctx context.Context, recordType string, id uuid.UUID, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.created[id]; ok {
		s.created[id] = record.WithFields(fields)
	}
	// Updates to already-persisted records are discarded; the would-be
	// outcome is still reported.
	return nil
}

// Delete only ever targets a record this run created; dry runs never touch
// persisted records.
func (s *dryStore) Delete(ctx context.Context, recordType string, id uuid.UUID) error {
	s.mu.Lock()
	delete(s.created, id)
	s.mu.Unlock()
	return nil
}

func (s *dryStore) LockKey(recordType, key string) func() {
	return s.keys.Lock(recordType, key)
}
