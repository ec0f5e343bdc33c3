package importer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
)

// ErrPlanning marks submission-level failures: a malformed template or an
// unsatisfiable dependency graph. Nothing is written once planning fails.
var ErrPlanning = errors.New("submission planning failed")

func planErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPlanning, fmt.Sprintf(format, args...))
}

// ColumnKind classifies how a column's cells are interpreted.
type ColumnKind string

const (
	// KindValue is a direct field value.
	KindValue ColumnKind = "value"
	// KindOwnID addresses the row's own record by primary key (updates).
	KindOwnID ColumnKind = "own_id"
	// KindOwnExternalID carries the row's own external identifier.
	KindOwnExternalID ColumnKind = "own_external_id"
	// KindPKRef references another record by its primary key.
	KindPKRef ColumnKind = "pk_ref"
	// KindExternalIDRef references another record by external identifier.
	KindExternalIDRef ColumnKind = "external_id_ref"
	// KindNaturalRef references another record by its natural-key value.
	KindNaturalRef ColumnKind = "natural_ref"
)

// Reference reports whether cells of this kind resolve to another record.
func (k ColumnKind) Reference() bool {
	switch k {
	case KindPKRef, KindExternalIDRef, KindNaturalRef:
		return true
	}
	return false
}

// ColumnSpec is one decoded header: which record type and field the column
// feeds, and how its cells resolve.
type ColumnSpec struct {
	Index      int          `json:"index"`
	Header     string       `json:"header"`
	RecordType string       `json:"recordType"`
	Field      domain.Field `json:"field,omitempty"`
	Kind       ColumnKind   `json:"kind"`
	// Target is the referenced record type for reference kinds.
	Target string `json:"target,omitempty"`
}

const (
	suffixPK         = "pk"
	suffixExternalID = "externalid"
	suffixNatural    = "natural"

	ownIDField         = "id"
	ownExternalIDField = "external_id"
)

// MapColumns decodes the dotted header scheme (`Type.field`,
// `Type.field.pk`, `Type.field.externalid`, `Type.field.natural`,
// `Type.id`, `Type.external_id`) against the registry. Any unrecognized
// header aborts the whole submission: it signals a malformed template, not
// a recoverable per-row condition.
func MapColumns(registry *domain.Registry, headers []string) ([]ColumnSpec, error) {
	specs := make([]ColumnSpec, 0, len(headers))
	seen := make(map[string]bool, len(headers))

	for idx, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" {
			return nil, planErrorf("column %d has an empty header", idx+1)
		}
		if seen[header] {
			return nil, planErrorf("duplicate header %q", header)
		}
		seen[header] = true

		spec, err := decodeHeader(registry, header)
		if err != nil {
			return nil, err
		}
		spec.Index = idx
		specs = append(specs, spec)
	}

	return specs, nil
}

func decodeHeader(registry *domain.Registry, header string) (ColumnSpec, error) {
	parts := strings.Split(header, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return ColumnSpec{}, planErrorf("unrecognized header %q: expected Type.field or Type.field.suffix", header)
	}

	typeName := parts[0]
	fieldName := parts[1]

	def, ok := registry.Type(typeName)
	if !ok {
		return ColumnSpec{}, planErrorf("unrecognized header %q: unknown record type %q", header, typeName)
	}

	spec := ColumnSpec{Header: header, RecordType: typeName}

	if len(parts) == 2 {
		switch fieldName {
		case ownIDField:
			spec.Kind = KindOwnID
			return spec, nil
		case ownExternalIDField:
			spec.Kind = KindOwnExternalID
			return spec, nil
		}

		field, ok := def.Field(fieldName)
		if !ok {
			return ColumnSpec{}, planErrorf("unrecognized header %q: %s has no field %q", header, typeName, fieldName)
		}
		if field.Relation != "" {
			return ColumnSpec{}, planErrorf("header %q: reference field requires a .pk, .externalid or .natural suffix", header)
		}
		spec.Kind = KindValue
		spec.Field = field
		return spec, nil
	}

	field, ok := def.Field(fieldName)
	if !ok {
		return ColumnSpec{}, planErrorf("unrecognized header %q: %s has no field %q", header, typeName, fieldName)
	}
	if field.Relation == "" {
		return ColumnSpec{}, planErrorf("header %q: field %q is not a reference field", header, fieldName)
	}

	spec.Field = field
	spec.Target = field.Relation

	switch parts[2] {
	case suffixPK:
		spec.Kind = KindPKRef
	case suffixExternalID:
		spec.Kind = KindExternalIDRef
	case suffixNatural:
		target, _ := registry.Type(field.Relation)
		if _, ok := target.NaturalKeyField(); !ok {
			return ColumnSpec{}, planErrorf("header %q: record type %q declares no natural key", header, field.Relation)
		}
		spec.Kind = KindNaturalRef
	default:
		return ColumnSpec{}, planErrorf("unrecognized header %q: unknown suffix %q", header, parts[2])
	}

	return spec, nil
}
