package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fleetyard/shipcm/modules/changes/domain/forms"
	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
	"github.com/fleetyard/shipcm/pkg/composables"
)

const formColumns = `
	id, request_number, kind, requester_id, ship_id, purpose, description,
	details_schema_version, details, under_review, approved, created_at, updated_at`

type FormRepository struct{}

func NewFormRepository() forms.Repository {
	return &FormRepository{}
}

func scanForm(row rowScanner) (*forms.Form, error) {
	var (
		id            pgtype.UUID
		requesterID   pgtype.UUID
		shipID        pgtype.UUID
		schemaVersion int32
		details       []byte
		createdAt     pgtype.Timestamptz
		updatedAt     pgtype.Timestamptz
		form          forms.Form
	)
	err := row.Scan(
		&id, &form.RequestNumber, &form.Kind, &requesterID, &shipID, &form.Purpose,
		&form.Description, &schemaVersion, &details, &form.UnderReview, &form.Approved,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, forms.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	form.ID = asUUID(id)
	form.RequesterID = asUUID(requesterID)
	form.ShipID = asUUIDPtr(shipID)
	form.CreatedAt = asTime(createdAt)
	form.UpdatedAt = asTime(updatedAt)
	form.Details, err = forms.UnmarshalDetails(form.Kind, details)
	if err != nil {
		return nil, err
	}
	return &form, nil
}

func (r *FormRepository) Insert(ctx context.Context, form *forms.Form) (*forms.Form, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	details, err := forms.MarshalDetails(form.Details)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
	INSERT INTO change_forms (
		request_number, kind, requester_id, ship_id, purpose, description,
		details_schema_version, details, under_review, approved
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false)
	RETURNING `+formColumns+`
	`,
		form.RequestNumber, string(form.Kind), pgUUID(form.RequesterID), pgUUIDPtr(form.ShipID),
		form.Purpose, form.Description, int32(forms.DetailsSchemaVersion), details,
	)
	inserted, err := scanForm(row)
	if isUniqueViolation(err) {
		return nil, forms.ErrDuplicateRequestNumber
	}
	return inserted, err
}

func (r *FormRepository) Update(ctx context.Context, form *forms.Form) (*forms.Form, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	details, err := forms.MarshalDetails(form.Details)
	if err != nil {
		return nil, err
	}

	updated, err := scanForm(tx.QueryRow(ctx, `
	UPDATE change_forms
	SET ship_id = $2, purpose = $3, description = $4, details = $5, updated_at = now()
	WHERE id = $1
	RETURNING `+formColumns+`
	`, pgUUID(form.ID), pgUUIDPtr(form.ShipID), form.Purpose, form.Description, details))
	if errors.Is(err, forms.ErrNotFound) {
		return nil, forms.ErrNotFound
	}
	return updated, err
}

func (r *FormRepository) GetByID(ctx context.Context, id uuid.UUID) (*forms.Form, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanForm(tx.QueryRow(ctx, `
	SELECT `+formColumns+`
	FROM change_forms
	WHERE id = $1
	`, pgUUID(id)))
}

func (r *FormRepository) GetByRequestNumber(ctx context.Context, requestNumber string) (*forms.Form, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanForm(tx.QueryRow(ctx, `
	SELECT `+formColumns+`
	FROM change_forms
	WHERE request_number = $1
	`, requestNumber))
}

func (r *FormRepository) LockByRequestNumber(ctx context.Context, requestNumber string) (*forms.Form, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanForm(tx.QueryRow(ctx, `
	SELECT `+formColumns+`
	FROM change_forms
	WHERE request_number = $1
	FOR UPDATE
	`, requestNumber))
}

func (r *FormRepository) SetFlags(ctx context.Context, id uuid.UUID, underReview, approved bool) (*forms.Form, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanForm(tx.QueryRow(ctx, `
	UPDATE change_forms
	SET under_review = $2, approved = $3, updated_at = now()
	WHERE id = $1
	RETURNING `+formColumns+`
	`, pgUUID(id), underReview, approved))
}

// ListDiverged joins forms to the ledger and keeps rows whose flags disagree
// with the ledger status. A form's flags map onto ledger statuses as:
// approved ⇔ {approved, completed}, under_review ⇔ {submitted, under_review},
// draft ⇔ {draft, rejected}.
func (r *FormRepository) ListDiverged(ctx context.Context) ([]forms.Divergence, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
	SELECT
		f.id, f.request_number, f.kind, f.requester_id, f.ship_id, f.purpose,
		f.description, f.details_schema_version, f.details, f.under_review,
		f.approved, f.created_at, f.updated_at,
		l.status
	FROM change_forms f
	LEFT JOIN change_ledger l ON l.request_number = f.request_number
	WHERE l.request_number IS NULL
	   OR (f.approved AND l.status NOT IN ('approved', 'completed'))
	   OR (f.under_review AND l.status NOT IN ('submitted', 'under_review'))
	   OR (NOT f.approved AND NOT f.under_review AND l.status NOT IN ('draft', 'rejected'))
	ORDER BY f.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]forms.Divergence, 0)
	for rows.Next() {
		var (
			id            pgtype.UUID
			requesterID   pgtype.UUID
			shipID        pgtype.UUID
			schemaVersion int32
			details       []byte
			createdAt     pgtype.Timestamptz
			updatedAt     pgtype.Timestamptz
			status        *string
			form          forms.Form
		)
		err := rows.Scan(
			&id, &form.RequestNumber, &form.Kind, &requesterID, &shipID, &form.Purpose,
			&form.Description, &schemaVersion, &details, &form.UnderReview, &form.Approved,
			&createdAt, &updatedAt, &status,
		)
		if err != nil {
			return nil, err
		}
		form.ID = asUUID(id)
		form.RequesterID = asUUID(requesterID)
		form.ShipID = asUUIDPtr(shipID)
		form.CreatedAt = asTime(createdAt)
		form.UpdatedAt = asTime(updatedAt)
		form.Details, err = forms.UnmarshalDetails(form.Kind, details)
		if err != nil {
			return nil, err
		}

		d := forms.Divergence{Form: &form}
		if status != nil {
			s := ledger.Status(*status)
			d.LedgerStatus = &s
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
