package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExternalIDMapping associates a caller-chosen key with a record id, scoped
// per record type. Created on the first successful use of a key; consulted
// by every later use, including in unrelated submissions, which is what
// makes re-import by external id idempotent. A mapping is unique per
// (record type, key); conflicting re-registration is an error, never an
// overwrite.
type ExternalIDMapping struct {
	RecordType   string    `json:"record_type"`
	Key          string    `json:"key"`
	RecordID     uuid.UUID `json:"record_id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	CreatedAt    time.Time `json:"created_at"`
}
