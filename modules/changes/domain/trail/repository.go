package trail

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Append inserts the entry with stage = max(existing stages) + 1. The stage
	// must be computed in the caller's transaction while the ledger row is
	// locked, so concurrent appends for one entry cannot collide.
	Append(ctx context.Context, entry *Entry) (*Entry, error)

	// History returns all entries for a ledger entry ordered by stage ascending.
	History(ctx context.Context, ledgerEntryID uuid.UUID) ([]*Entry, error)
}
