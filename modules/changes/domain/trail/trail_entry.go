package trail

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionSubmit    Action = "submit"
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
	ActionImplement Action = "implement"
)

// Entry is one recorded stage action in the append-only approval history of a
// ledger entry. Stages are contiguous from 1 and never edited or removed.
type Entry struct {
	ID            uuid.UUID `json:"id"`
	LedgerEntryID uuid.UUID `json:"ledger_entry_id"`
	Stage         int       `json:"stage"`
	Action        Action    `json:"action"`
	ActionByID    uuid.UUID `json:"action_by_id"`
	ActionAt      time.Time `json:"action_at"`
	Comment       *string   `json:"comment,omitempty"`
}
