package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
	"github.com/fleetyard/shipcm/modules/changes/domain/trail"
)

// TransitionRecorded is published on the event bus after every successful
// workflow transition. The audit handler persists it; failures there never
// roll the transition back.
type TransitionRecorded struct {
	RequestNumber string        `json:"request_number"`
	Kind          ledger.Kind   `json:"kind"`
	Action        trail.Action  `json:"action"`
	FromStatus    ledger.Status `json:"from_status"`
	ToStatus      ledger.Status `json:"to_status"`
	ActorID       uuid.UUID     `json:"actor_id"`
	Comment       *string       `json:"comment,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}
