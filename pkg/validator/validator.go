// Package validator checks candidate record field maps against the declared
// field definitions of a record type.
package validator

import (
	"fmt"
	"time"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
)

// FieldValidator validates record fields against registry definitions.
type FieldValidator struct{}

// New creates a field validator.
func New() *FieldValidator {
	return &FieldValidator{}
}

// Error describes one field-level validation failure.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e Error) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Result is the outcome of validating one candidate record.
type Result struct {
	Valid  bool    `json:"valid"`
	Errors []Error `json:"errors"`
}

// Validate checks the field map against the type definition. In partial
// mode (updates) missing required fields are tolerated, since absent
// columns keep their stored values; present values are always type-checked.
func (v *FieldValidator) Validate(fields map[string]any, def domain.TypeDef, partial bool) Result {
	result := Result{Valid: true}

	known := make(map[string]domain.Field, len(def.Fields))
	for _, field := range def.Fields {
		known[field.Name] = field

		value, exists := fields[field.Name]
		if !exists || value == nil {
			if field.Required && !partial {
				result.Valid = false
				result.Errors = append(result.Errors, Error{
					Field:   field.Name,
					Message: "required field is missing",
				})
			}
			continue
		}

		if field.Relation != "" {
			// Reference fields hold resolved record ids supplied by the
			// resolver; nothing further to check here.
			continue
		}

		if err := checkType(value, field.Type); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, Error{Field: field.Name, Message: err.Error()})
		}
	}

	for name := range fields {
		if _, ok := known[name]; !ok {
			result.Valid = false
			result.Errors = append(result.Errors, Error{
				Field:   name,
				Message: "field is not declared for this record type",
			})
		}
	}

	return result
}

func checkType(value any, expected domain.ValueType) error {
	switch expected {
	case domain.ValueTypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("must be a string, got %T", value)
		}
	case domain.ValueTypeInteger:
		switch value.(type) {
		case int, int32, int64:
		default:
			return fmt.Errorf("must be an integer, got %T", value)
		}
	case domain.ValueTypeFloat:
		switch value.(type) {
		case float32, float64, int, int64:
		default:
			return fmt.Errorf("must be a float, got %T", value)
		}
	case domain.ValueTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("must be a boolean, got %T", value)
		}
	case domain.ValueTypeTimestamp:
		switch v := value.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return fmt.Errorf("must be an RFC3339 timestamp: %v", err)
			}
		default:
			return fmt.Errorf("must be a timestamp, got %T", value)
		}
	default:
		return fmt.Errorf("unknown value type %q", expected)
	}
	return nil
}
