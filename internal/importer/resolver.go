package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// implicitTokenPrefix marks a cell as an intra-submission reference to
// another data row by its 1-based row number, e.g. "@3".
const implicitTokenPrefix = "@"

// rowResult records what became of one processed row; the resolver consults
// a snapshot containing only rows of already-completed passes, so a token
// can never observe a same-pass (and therefore possibly concurrent) row.
type rowResult struct {
	RecordType string
	ID         uuid.UUID
	Failed     bool
}

// stubCreation notes a record auto-created to satisfy an external-id or
// natural-value reference; each one gets its own synthetic row outcome.
type stubCreation struct {
	RecordType string
	RecordID   uuid.UUID
	Key        string
}

// referenceResolver resolves the foreign-key cells of a single row. One
// instance exists per row; the results snapshot and store are shared.
type referenceResolver struct {
	store       recordStore
	results     map[int]rowResult
	allowCreate bool
	stubs       []stubCreation
}

func newReferenceResolver(store recordStore, results map[int]rowResult, allowCreate bool) *referenceResolver {
	return &referenceResolver{store: store, results: results, allowCreate: allowCreate}
}

// Resolve turns one reference cell into a concrete record id.
func (r *referenceResolver) Resolve(ctx context.Context, spec ColumnSpec, raw string) (uuid.UUID, error) {
	if strings.HasPrefix(raw, implicitTokenPrefix) {
		return r.resolveImplicit(spec, raw)
	}

	switch spec.Kind {
	case KindPKRef:
		return r.resolvePK(ctx, spec, raw)
	case KindExternalIDRef:
		return r.resolveExternal(ctx, spec, raw)
	case KindNaturalRef:
		return r.resolveNatural(ctx, spec, raw)
	default:
		return uuid.Nil, fmt.Errorf("column %q is not a reference column", spec.Header)
	}
}

func (r *referenceResolver) resolveImplicit(spec ColumnSpec, raw string) (uuid.UUID, error) {
	number, err := strconv.Atoi(strings.TrimPrefix(raw, implicitTokenPrefix))
	if err != nil || number <= 0 {
		return uuid.Nil, fmt.Errorf("invalid implicit reference token %q", raw)
	}

	result, ok := r.results[number]
	if !ok {
		// Either the row does not exist or its pass has not completed;
		// same-type forward references land here by construction.
		return uuid.Nil, fmt.Errorf("implicit reference %q does not resolve to an already-processed row", raw)
	}
	if result.Failed {
		return uuid.Nil, fmt.Errorf("implicit reference %q points at a failed row", raw)
	}
	if result.RecordType != spec.Target {
		return uuid.Nil, fmt.Errorf("implicit reference %q resolves to a %s, expected %s", raw, result.RecordType, spec.Target)
	}
	return result.ID, nil
}

func (r *referenceResolver) resolvePK(ctx context.Context, spec ColumnSpec, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q", spec.Target, raw)
	}

	_, found, err := r.store.GetByID(ctx, spec.Target, id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up %s %s: %w", spec.Target, id, err)
	}
	if !found {
		return uuid.Nil, fmt.Errorf("referenced %s %s not found", spec.Target, id)
	}
	return id, nil
}

func (r *referenceResolver) resolveExternal(ctx context.Context, spec ColumnSpec, key string) (uuid.UUID, error) {
	unlock := r.store.LockKey(spec.Target, key)
	defer unlock()

	id, found, err := r.store.LookupExternal(ctx, spec.Target, key)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up external id %q: %w", key, err)
	}
	if found {
		return id, nil
	}
	if !r.allowCreate {
		return uuid.Nil, fmt.Errorf("no %s registered for external id %q", spec.Target, key)
	}

	stub, err := r.store.Create(ctx, newStubRecord(spec.Target))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create %s for external id %q: %w", spec.Target, key, err)
	}
	if err := r.store.RegisterExternal(ctx, spec.Target, key, stub.ID); err != nil {
		// A writer outside this process may have won the key despite the
		// in-process lock; the stub has no mapping and no outcome, so it
		// must not survive.
		if cleanupErr := r.store.Delete(ctx, spec.Target, stub.ID); cleanupErr != nil {
			return uuid.Nil, fmt.Errorf("failed to register external id %q: %w (stub %s %s not removed: %v)", key, err, spec.Target, stub.ID, cleanupErr)
		}
		return uuid.Nil, fmt.Errorf("failed to register external id %q: %w", key, err)
	}

	r.stubs = append(r.stubs, stubCreation{RecordType: spec.Target, RecordID: stub.ID, Key: key})
	return stub.ID, nil
}

func (r *referenceResolver) resolveNatural(ctx context.Context, spec ColumnSpec, value string) (uuid.UUID, error) {
	id, found, err := r.store.ResolveNatural(ctx, spec.Target, value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve %s by natural key %q: %w", spec.Target, value, err)
	}
	if found {
		return id, nil
	}
	if !r.allowCreate {
		return uuid.Nil, fmt.Errorf("no %s found for natural key %q", spec.Target, value)
	}

	id, err = r.store.CreateNatural(ctx, spec.Target, value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create %s for natural key %q: %w", spec.Target, value, err)
	}

	r.stubs = append(r.stubs, stubCreation{RecordType: spec.Target, RecordID: id, Key: value})
	return id, nil
}

// Stubs returns the referents this row's resolution auto-created.
func (r *referenceResolver) Stubs() []stubCreation {
	return r.stubs
}
