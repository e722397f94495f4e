package services_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetyard/shipcm/modules/changes/domain/events"
	"github.com/fleetyard/shipcm/modules/changes/domain/forms"
	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
	"github.com/fleetyard/shipcm/modules/changes/domain/trail"
)

// In-memory repositories for exercising the workflow without a database. The
// services run their closures directly when the context carries no pool, so
// these fakes only need a mutex, not real row locks.

type memFormsRepo struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*forms.Form
	ledger *memLedgerRepo
}

func newMemFormsRepo(ledgerRepo *memLedgerRepo) *memFormsRepo {
	return &memFormsRepo{byID: map[uuid.UUID]*forms.Form{}, ledger: ledgerRepo}
}

func cloneForm(f *forms.Form) *forms.Form {
	c := *f
	return &c
}

func (r *memFormsRepo) Insert(_ context.Context, form *forms.Form) (*forms.Form, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.RequestNumber == form.RequestNumber {
			return nil, forms.ErrDuplicateRequestNumber
		}
	}
	stored := cloneForm(form)
	stored.ID = uuid.New()
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	r.byID[stored.ID] = stored
	return cloneForm(stored), nil
}

func (r *memFormsRepo) Update(_ context.Context, form *forms.Form) (*forms.Form, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[form.ID]
	if !ok {
		return nil, forms.ErrNotFound
	}
	stored.ShipID = form.ShipID
	stored.Purpose = form.Purpose
	stored.Description = form.Description
	stored.Details = form.Details
	stored.UpdatedAt = time.Now().UTC()
	return cloneForm(stored), nil
}

func (r *memFormsRepo) GetByID(_ context.Context, id uuid.UUID) (*forms.Form, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[id]
	if !ok {
		return nil, forms.ErrNotFound
	}
	return cloneForm(stored), nil
}

func (r *memFormsRepo) GetByRequestNumber(_ context.Context, requestNumber string) (*forms.Form, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(requestNumber)
}

func (r *memFormsRepo) LockByRequestNumber(_ context.Context, requestNumber string) (*forms.Form, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(requestNumber)
}

func (r *memFormsRepo) findLocked(requestNumber string) (*forms.Form, error) {
	for _, stored := range r.byID {
		if stored.RequestNumber == requestNumber {
			return cloneForm(stored), nil
		}
	}
	return nil, forms.ErrNotFound
}

func (r *memFormsRepo) SetFlags(_ context.Context, id uuid.UUID, underReview, approved bool) (*forms.Form, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[id]
	if !ok {
		return nil, forms.ErrNotFound
	}
	stored.UnderReview = underReview
	stored.Approved = approved
	stored.UpdatedAt = time.Now().UTC()
	return cloneForm(stored), nil
}

func flagsMatch(form *forms.Form, status ledger.Status) bool {
	switch {
	case form.Approved:
		return status == ledger.StatusApproved || status == ledger.StatusCompleted
	case form.UnderReview:
		return status.Pending()
	default:
		return status == ledger.StatusDraft || status == ledger.StatusRejected
	}
}

func (r *memFormsRepo) ListDiverged(_ context.Context) ([]forms.Divergence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []forms.Divergence
	for _, stored := range r.byID {
		entry := r.ledger.find(stored.RequestNumber)
		if entry == nil {
			out = append(out, forms.Divergence{Form: cloneForm(stored)})
			continue
		}
		if !flagsMatch(stored, entry.Status) {
			status := entry.Status
			out = append(out, forms.Divergence{Form: cloneForm(stored), LedgerStatus: &status})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Form.RequestNumber < out[j].Form.RequestNumber
	})
	return out, nil
}

type memLedgerRepo struct {
	mu       sync.Mutex
	byNumber map[string]*ledger.Entry
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{byNumber: map[string]*ledger.Entry{}}
}

func cloneEntry(e *ledger.Entry) *ledger.Entry {
	c := *e
	return &c
}

func (r *memLedgerRepo) find(requestNumber string) *ledger.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.byNumber[requestNumber]; ok {
		return cloneEntry(stored)
	}
	return nil
}

func (r *memLedgerRepo) CreateOrGet(_ context.Context, entry *ledger.Entry) (*ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.byNumber[entry.RequestNumber]; ok {
		return cloneEntry(stored), nil
	}
	stored := cloneEntry(entry)
	stored.ID = uuid.New()
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	r.byNumber[stored.RequestNumber] = stored
	return cloneEntry(stored), nil
}

func (r *memLedgerRepo) GetByRequestNumber(_ context.Context, requestNumber string) (*ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byNumber[requestNumber]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return cloneEntry(stored), nil
}

func (r *memLedgerRepo) LockByRequestNumber(ctx context.Context, requestNumber string) (*ledger.Entry, error) {
	return r.GetByRequestNumber(ctx, requestNumber)
}

func (r *memLedgerRepo) UpdateStatus(_ context.Context, requestNumber string, status ledger.Status) (*ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byNumber[requestNumber]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	stored.Status = status
	stored.UpdatedAt = time.Now().UTC()
	return cloneEntry(stored), nil
}

func (r *memLedgerRepo) ListByStatus(_ context.Context, status ledger.Status, limit int) ([]*ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ledger.Entry
	for _, stored := range r.byNumber {
		if stored.Status == status {
			out = append(out, cloneEntry(stored))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// delete removes an entry behind the workflow's back so tests can provoke
// divergences.
func (r *memLedgerRepo) delete(requestNumber string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byNumber, requestNumber)
}

func (r *memLedgerRepo) forceStatus(requestNumber string, status ledger.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.byNumber[requestNumber]; ok {
		stored.Status = status
	}
}

type memTrailRepo struct {
	mu      sync.Mutex
	byEntry map[uuid.UUID][]*trail.Entry
}

func newMemTrailRepo() *memTrailRepo {
	return &memTrailRepo{byEntry: map[uuid.UUID][]*trail.Entry{}}
}

func (r *memTrailRepo) Append(_ context.Context, entry *trail.Entry) (*trail.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *entry
	stored.ID = uuid.New()
	stored.Stage = len(r.byEntry[entry.LedgerEntryID]) + 1
	r.byEntry[entry.LedgerEntryID] = append(r.byEntry[entry.LedgerEntryID], &stored)
	out := stored
	return &out, nil
}

func (r *memTrailRepo) History(_ context.Context, ledgerEntryID uuid.UUID) ([]*trail.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.byEntry[ledgerEntryID]
	out := make([]*trail.Entry, len(history))
	for i, e := range history {
		c := *e
		out[i] = &c
	}
	return out, nil
}

// brokenLedgerRepo fails every call until failures runs out, then delegates.
type brokenLedgerRepo struct {
	ledger.Repository
	mu       sync.Mutex
	failures int
	err      error
}

func (r *brokenLedgerRepo) fail() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return r.err
	}
	return nil
}

func (r *brokenLedgerRepo) LockByRequestNumber(ctx context.Context, requestNumber string) (*ledger.Entry, error) {
	if err := r.fail(); err != nil {
		return nil, err
	}
	return r.Repository.LockByRequestNumber(ctx, requestNumber)
}

type recordingAudit struct {
	mu      sync.Mutex
	records []events.TransitionRecorded
}

func (a *recordingAudit) RecordTransition(_ context.Context, record events.TransitionRecorded) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	return nil
}

func (a *recordingAudit) all() []events.TransitionRecorded {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]events.TransitionRecorded, len(a.records))
	copy(out, a.records)
	return out
}
