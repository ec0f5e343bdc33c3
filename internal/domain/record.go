package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record represents one instance of a registered record type. Field values
// are stored as a flat map keyed by the registry field names; reference
// fields hold the referenced record's id as a string.
type Record struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewRecord creates a new record with a fresh id.
func NewRecord(recordType string, fields map[string]any) Record {
	now := time.Now()
	return Record{
		ID:        uuid.New(),
		Type:      recordType,
		Fields:    copyFields(fields),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithFields returns a copy of the record with the given fields merged over
// the existing ones. Fields absent from the argument keep their stored
// values; this is the partial-update semantics of the import engine.
func (r Record) WithFields(fields map[string]any) Record {
	merged := copyFields(r.Fields)
	for k, v := range fields {
		merged[k] = v
	}
	return Record{
		ID:        r.ID,
		Type:      r.Type,
		Fields:    merged,
		CreatedAt: r.CreatedAt,
		UpdatedAt: time.Now(),
	}
}

// FieldsAsJSON returns the field map as JSON for database storage.
func (r Record) FieldsAsJSON() (json.RawMessage, error) {
	if r.Fields == nil {
		return json.Marshal(map[string]any{})
	}
	return json.Marshal(r.Fields)
}

// FieldsFromJSON decodes a stored JSON field map.
func FieldsFromJSON(raw json.RawMessage) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func copyFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
