package persistence

import (
	"context"

	"github.com/fleetyard/shipcm/modules/changes/domain/events"
	"github.com/fleetyard/shipcm/pkg/composables"
)

// AuditRepository persists transition records for compliance. Append-only; no
// update or delete path exists.
type AuditRepository struct{}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Insert(ctx context.Context, record events.TransitionRecorded) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
	INSERT INTO change_audit_log (
		request_number, kind, action, from_status, to_status, actor_id, comment, occurred_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		record.RequestNumber, string(record.Kind), string(record.Action),
		string(record.FromStatus), string(record.ToStatus), pgUUID(record.ActorID),
		record.Comment, record.OccurredAt,
	)
	return err
}
