package ledger

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("ledger entry not found")

type Repository interface {
	// CreateOrGet inserts the entry in draft status or, when an entry with the
	// same request number already exists, returns it unchanged.
	CreateOrGet(ctx context.Context, entry *Entry) (*Entry, error)

	// GetByRequestNumber is a case-sensitive exact-match lookup. Returns
	// ErrNotFound when no entry matches.
	GetByRequestNumber(ctx context.Context, requestNumber string) (*Entry, error)

	// LockByRequestNumber fetches the entry holding a row lock for the rest of
	// the transaction. Concurrent transitions on one request number serialize here.
	LockByRequestNumber(ctx context.Context, requestNumber string) (*Entry, error)

	// UpdateStatus writes the status and bumps updated_at. Transition legality
	// is the caller's responsibility.
	UpdateStatus(ctx context.Context, requestNumber string, status Status) (*Entry, error)

	// ListByStatus feeds approval queues, newest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Entry, error)
}
