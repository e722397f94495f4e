package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
	"github.com/fleetyard/shipcm/pkg/composables"
)

const ledgerColumns = `
	id, request_number, kind, ship_id, requested_by_id, requested_at,
	purpose, description, status, created_at, updated_at`

type LedgerRepository struct{}

func NewLedgerRepository() ledger.Repository {
	return &LedgerRepository{}
}

func scanLedgerEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		id            pgtype.UUID
		shipID        pgtype.UUID
		requestedByID pgtype.UUID
		requestedAt   pgtype.Timestamptz
		createdAt     pgtype.Timestamptz
		updatedAt     pgtype.Timestamptz
		entry         ledger.Entry
	)
	err := row.Scan(
		&id, &entry.RequestNumber, &entry.Kind, &shipID, &requestedByID, &requestedAt,
		&entry.Purpose, &entry.Description, &entry.Status, &createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entry.ID = asUUID(id)
	entry.ShipID = asUUIDPtr(shipID)
	entry.RequestedByID = asUUID(requestedByID)
	entry.RequestedAt = asTime(requestedAt)
	entry.CreatedAt = asTime(createdAt)
	entry.UpdatedAt = asTime(updatedAt)
	return &entry, nil
}

func (r *LedgerRepository) CreateOrGet(ctx context.Context, entry *ledger.Entry) (*ledger.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	// ON CONFLICT DO NOTHING keeps an existing entry untouched; the follow-up
	// select returns whichever row won.
	_, err = tx.Exec(ctx, `
	INSERT INTO change_ledger (
		request_number, kind, ship_id, requested_by_id, requested_at,
		purpose, description, status
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (request_number) DO NOTHING
	`,
		entry.RequestNumber, string(entry.Kind), pgUUIDPtr(entry.ShipID), pgUUID(entry.RequestedByID),
		entry.RequestedAt, entry.Purpose, entry.Description, string(ledger.StatusDraft),
	)
	if err != nil {
		return nil, err
	}

	return r.GetByRequestNumber(ctx, entry.RequestNumber)
}

func (r *LedgerRepository) GetByRequestNumber(ctx context.Context, requestNumber string) (*ledger.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanLedgerEntry(tx.QueryRow(ctx, `
	SELECT `+ledgerColumns+`
	FROM change_ledger
	WHERE request_number = $1
	`, requestNumber))
}

func (r *LedgerRepository) LockByRequestNumber(ctx context.Context, requestNumber string) (*ledger.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanLedgerEntry(tx.QueryRow(ctx, `
	SELECT `+ledgerColumns+`
	FROM change_ledger
	WHERE request_number = $1
	FOR UPDATE
	`, requestNumber))
}

func (r *LedgerRepository) UpdateStatus(ctx context.Context, requestNumber string, status ledger.Status) (*ledger.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanLedgerEntry(tx.QueryRow(ctx, `
	UPDATE change_ledger
	SET status = $2, updated_at = now()
	WHERE request_number = $1
	RETURNING `+ledgerColumns+`
	`, requestNumber, string(status)))
}

func (r *LedgerRepository) ListByStatus(ctx context.Context, status ledger.Status, limit int) ([]*ledger.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
	SELECT `+ledgerColumns+`
	FROM change_ledger
	WHERE status = $1
	ORDER BY updated_at DESC, id DESC
	LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*ledger.Entry, 0)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
