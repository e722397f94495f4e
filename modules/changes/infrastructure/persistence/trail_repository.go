package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fleetyard/shipcm/modules/changes/domain/trail"
	"github.com/fleetyard/shipcm/pkg/composables"
)

type TrailRepository struct{}

func NewTrailRepository() trail.Repository {
	return &TrailRepository{}
}

func (r *TrailRepository) Append(ctx context.Context, entry *trail.Entry) (*trail.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	// The stage subquery runs in the same transaction as the insert; callers
	// hold the ledger row lock, so stages stay contiguous under concurrency.
	row := tx.QueryRow(ctx, `
	INSERT INTO change_trail (ledger_entry_id, stage, action, action_by_id, action_at, comment)
	SELECT $1, COALESCE(MAX(stage), 0) + 1, $2, $3, $4, $5
	FROM change_trail
	WHERE ledger_entry_id = $1
	RETURNING id, ledger_entry_id, stage, action, action_by_id, action_at, comment
	`,
		pgUUID(entry.LedgerEntryID), string(entry.Action), pgUUID(entry.ActionByID),
		entry.ActionAt, entry.Comment,
	)

	return scanTrailEntry(row)
}

func (r *TrailRepository) History(ctx context.Context, ledgerEntryID uuid.UUID) ([]*trail.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
	SELECT id, ledger_entry_id, stage, action, action_by_id, action_at, comment
	FROM change_trail
	WHERE ledger_entry_id = $1
	ORDER BY stage ASC
	`, pgUUID(ledgerEntryID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*trail.Entry, 0)
	for rows.Next() {
		entry, err := scanTrailEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrailEntry(row rowScanner) (*trail.Entry, error) {
	var (
		id            pgtype.UUID
		ledgerEntryID pgtype.UUID
		actionByID    pgtype.UUID
		actionAt      pgtype.Timestamptz
		entry         trail.Entry
	)
	err := row.Scan(&id, &ledgerEntryID, &entry.Stage, &entry.Action, &actionByID, &actionAt, &entry.Comment)
	if err != nil {
		return nil, err
	}
	entry.ID = asUUID(id)
	entry.LedgerEntryID = asUUID(ledgerEntryID)
	entry.ActionByID = asUUID(actionByID)
	entry.ActionAt = asTime(actionAt)
	return &entry, nil
}
