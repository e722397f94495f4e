package forms

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
)

var (
	ErrNotFound               = errors.New("change form not found")
	ErrDuplicateRequestNumber = errors.New("request number already taken")
)

// Divergence is one form whose lifecycle flags disagree with its ledger entry,
// or whose ledger entry is missing entirely.
type Divergence struct {
	Form         *Form
	LedgerStatus *ledger.Status // nil when no ledger entry exists
}

type Repository interface {
	// Insert persists a new form. A request-number collision (against either
	// the forms table or the ledger) surfaces as ErrDuplicateRequestNumber.
	Insert(ctx context.Context, form *Form) (*Form, error)

	// Update rewrites the editable fields. Draft-only enforcement belongs to
	// the service layer.
	Update(ctx context.Context, form *Form) (*Form, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Form, error)
	GetByRequestNumber(ctx context.Context, requestNumber string) (*Form, error)

	// LockByRequestNumber fetches the form holding a row lock for the rest of
	// the transaction.
	LockByRequestNumber(ctx context.Context, requestNumber string) (*Form, error)

	// SetFlags writes the lifecycle flag pair.
	SetFlags(ctx context.Context, id uuid.UUID, underReview, approved bool) (*Form, error)

	// ListDiverged scans for forms whose flags disagree with their ledger
	// entry's status, including forms with no ledger entry at all.
	ListDiverged(ctx context.Context) ([]Divergence, error)
}
