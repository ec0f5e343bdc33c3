package importer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
	"github.com/davidstormer/fdp-app-sub000/pkg/validator"

	"github.com/google/uuid"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
}

// rowProcessor builds, validates, and persists one record per row. Every
// error it encounters is row-scoped: it becomes part of the row's outcome
// and never halts sibling rows or other passes.
type rowProcessor struct {
	registry  *domain.Registry
	store     recordStore
	validator *validator.FieldValidator
	mode      domain.Mode
}

func newRowProcessor(registry *domain.Registry, store recordStore, mode domain.Mode) *rowProcessor {
	return &rowProcessor{
		registry:  registry,
		store:     store,
		validator: validator.New(),
		mode:      mode,
	}
}

func newStubRecord(recordType string) domain.Record {
	return domain.NewRecord(recordType, map[string]any{})
}

// Process handles one row of a pass. preError carries a template problem
// the planner already found for this row; it fails the row outright.
func (p *rowProcessor) Process(ctx context.Context, pass Pass, row Row, resolver *referenceResolver, preError string) domain.RowOutcome {
	outcome := domain.RowOutcome{
		RowNumber:  row.Number,
		RecordType: pass.RecordType,
	}

	if preError != "" {
		return erroredOutcome(outcome, preError)
	}

	def, ok := p.registry.Type(pass.RecordType)
	if !ok {
		return erroredOutcome(outcome, fmt.Sprintf("unregistered record type %q", pass.RecordType))
	}

	fields := make(map[string]any)
	var errs []string
	var ownID *uuid.UUID
	ownExternal := ""

	for _, col := range pass.Columns {
		raw := cellAt(row, col.Index)
		if raw == "" {
			continue
		}

		switch col.Kind {
		case KindOwnID:
			id, err := uuid.Parse(raw)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: invalid id %q", col.Header, raw))
				continue
			}
			ownID = &id
		case KindOwnExternalID:
			ownExternal = raw
		case KindValue:
			value, err := coerceValue(col.Field.Type, raw)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", col.Header, err))
				continue
			}
			fields[col.Field.Name] = value
		default:
			id, err := resolver.Resolve(ctx, col, raw)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", col.Header, err))
				continue
			}
			fields[col.Field.Name] = id.String()
		}
	}

	// No row commits until every foreign-key cell has resolved.
	if len(errs) > 0 {
		return erroredOutcome(outcome, errs...)
	}

	target, err := p.findTarget(ctx, pass.RecordType, ownID, ownExternal)
	if err != nil {
		return erroredOutcome(outcome, err.Error())
	}

	result := p.validator.Validate(fields, def, target != nil)
	if !result.Valid {
		for _, verr := range result.Errors {
			errs = append(errs, verr.String())
		}
		return erroredOutcome(outcome, errs...)
	}

	if target != nil {
		if err := p.store.Update(ctx, pass.RecordType, target.ID, fields); err != nil {
			return erroredOutcome(outcome, fmt.Sprintf("failed to update record: %v", err))
		}
		id := target.ID
		outcome.RecordID = &id
		outcome.Outcome = domain.OutcomeUpdated
		return outcome
	}

	created, op, err := p.createRecord(ctx, pass.RecordType, fields, ownExternal)
	if err != nil {
		return erroredOutcome(outcome, err.Error())
	}
	id := created.ID
	outcome.RecordID = &id
	outcome.Outcome = op
	return outcome
}

// findTarget decides whether the row updates an existing record. A supplied
// primary key must exist; a supplied external id addresses its registered
// record when present. Returns nil when the row creates a new record.
func (p *rowProcessor) findTarget(ctx context.Context, recordType string, ownID *uuid.UUID, ownExternal string) (*domain.Record, error) {
	if ownID != nil {
		record, found, err := p.store.GetByID(ctx, recordType, *ownID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s %s: %w", recordType, ownID, err)
		}
		if !found {
			return nil, fmt.Errorf("%s %s not found", recordType, ownID)
		}
		return &record, nil
	}

	if ownExternal != "" {
		id, found, err := p.store.LookupExternal(ctx, recordType, ownExternal)
		if err != nil {
			return nil, fmt.Errorf("failed to look up external id %q: %w", ownExternal, err)
		}
		if found {
			record, exists, err := p.store.GetByID(ctx, recordType, id)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s %s: %w", recordType, id, err)
			}
			if !exists {
				return nil, fmt.Errorf("external id %q maps to missing %s %s", ownExternal, recordType, id)
			}
			return &record, nil
		}
		if p.mode == domain.ModeUpdate {
			return nil, fmt.Errorf("no %s registered for external id %q", recordType, ownExternal)
		}
		return nil, nil
	}

	if p.mode == domain.ModeUpdate {
		return nil, fmt.Errorf("update mode requires a %s.id or %s.external_id value", recordType, recordType)
	}
	return nil, nil
}

// createRecord persists a new record, registering its external id under the
// per-key lock so two concurrent rows cannot both win the same new key.
func (p *rowProcessor) createRecord(ctx context.Context, recordType string, fields map[string]any, ownExternal string) (domain.Record, domain.Outcome, error) {
	if ownExternal != "" {
		unlock := p.store.LockKey(recordType, ownExternal)
		defer unlock()

		// Another row may have registered the key while this row resolved.
		id, found, err := p.store.LookupExternal(ctx, recordType, ownExternal)
		if err != nil {
			return domain.Record{}, "", fmt.Errorf("failed to look up external id %q: %w", ownExternal, err)
		}
		if found {
			if err := p.store.Update(ctx, recordType, id, fields); err != nil {
				return domain.Record{}, "", fmt.Errorf("failed to update record: %w", err)
			}
			return domain.Record{ID: id, Type: recordType, Fields: fields}, domain.OutcomeUpdated, nil
		}
	}

	created, err := p.store.Create(ctx, domain.NewRecord(recordType, fields))
	if err != nil {
		return domain.Record{}, "", fmt.Errorf("failed to create record: %w", err)
	}

	if ownExternal != "" {
		if err := p.store.RegisterExternal(ctx, recordType, ownExternal, created.ID); err != nil {
			// The key was lost to a writer outside this process; remove the
			// record so no unmapped orphan outlives the errored row.
			if cleanupErr := p.store.Delete(ctx, recordType, created.ID); cleanupErr != nil {
				return domain.Record{}, "", fmt.Errorf("failed to register external id %q: %w (record %s %s not removed: %v)", ownExternal, err, recordType, created.ID, cleanupErr)
			}
			return domain.Record{}, "", fmt.Errorf("failed to register external id %q: %w", ownExternal, err)
		}
	}

	return created, domain.OutcomeCreated, nil
}

func erroredOutcome(outcome domain.RowOutcome, errs ...string) domain.RowOutcome {
	outcome.Outcome = domain.OutcomeErrored
	outcome.Errors = errs
	return outcome
}

func cellAt(row Row, index int) string {
	if index >= len(row.Cells) {
		return ""
	}
	return strings.TrimSpace(row.Cells[index])
}

func coerceValue(valueType domain.ValueType, raw string) (any, error) {
	switch valueType {
	case domain.ValueTypeString:
		return raw, nil
	case domain.ValueTypeInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", raw)
	case domain.ValueTypeFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to float", raw)
	case domain.ValueTypeBoolean:
		switch strings.ToLower(raw) {
		case "1", "yes", "y":
			return true, nil
		case "0", "no", "n":
			return false, nil
		}
		boolVal, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to boolean", raw)
		}
		return boolVal, nil
	case domain.ValueTypeTimestamp:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("unable to coerce %q to timestamp", raw)
	default:
		return raw, nil
	}
}
