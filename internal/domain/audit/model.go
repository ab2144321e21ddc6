package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action kinds recorded for patient mutations.
const (
	ActionCreatePatient = "CREATE_PATIENT"
	ActionUpdatePatient = "UPDATE_PATIENT"
)

// Change is one field transition inside a diff.
type Change struct {
	From *string `json:"from"`
	To   *string `json:"to"`
}

// Diff maps a column name to its transition.
type Diff map[string]Change

// Entry is a single append-only audit record. Created once per mutation,
// immutable thereafter; the service never reads it back.
type Entry struct {
	ID        int64     `db:"id" json:"id"`
	Actor     string    `db:"actor" json:"actor"`
	Action    string    `db:"action" json:"action"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	IP        string    `db:"ip" json:"ip"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	Diff      Diff      `db:"diff" json:"diff"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Meta is the request context attached to every audit entry.
type Meta struct {
	Actor     string
	IP        string
	UserAgent string
}
