package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/fleetyard/shipcm/modules/changes/domain/forms"
	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
	"github.com/fleetyard/shipcm/modules/changes/domain/trail"
)

// Repair reasons reported by reconciliation.
const (
	RepairMissingLedger  = "missing_ledger"
	RepairStatusMismatch = "status_mismatch"
)

type Repair struct {
	RequestNumber string         `json:"request_number"`
	Reason        string         `json:"reason"`
	FromStatus    *ledger.Status `json:"from_status,omitempty"`
	ToStatus      ledger.Status  `json:"to_status"`
}

// ReconcileService finds forms whose lifecycle flags disagree with their
// ledger entry and repairs the ledger side. The form carries the richer
// record, so it wins; repairs bypass the transition table on purpose.
type ReconcileService struct {
	forms  forms.Repository
	ledger ledger.Repository
	trail  trail.Repository
}

func NewReconcileService(formsRepo forms.Repository, ledgerRepo ledger.Repository, trailRepo trail.Repository) *ReconcileService {
	return &ReconcileService{forms: formsRepo, ledger: ledgerRepo, trail: trailRepo}
}

// Reconcile scans for divergences and repairs them. Administrator only.
func (s *ReconcileService) Reconcile(ctx context.Context, actor Actor) ([]Repair, error) {
	if !actor.Resolved() {
		return nil, permissionDeniedError("-", "reconcile", "identity not resolved")
	}
	if !actor.Admin() {
		return nil, permissionDeniedError("-", "reconcile", "administrator role required")
	}

	diverged, err := s.forms.ListDiverged(ctx)
	if err != nil {
		return nil, err
	}

	repairs := make([]Repair, 0, len(diverged))
	for _, d := range diverged {
		repair, err := s.repairOne(ctx, d)
		if err != nil {
			return repairs, err
		}
		if repair != nil {
			repairs = append(repairs, *repair)
			recordRepair(repair.Reason)
			logWithFields(ctx, logrus.InfoLevel, "changes.reconcile.repaired", logrus.Fields{
				"request_number": repair.RequestNumber,
				"reason":         repair.Reason,
				"to_status":      string(repair.ToStatus),
			})
		}
	}
	return repairs, nil
}

func (s *ReconcileService) repairOne(ctx context.Context, d forms.Divergence) (*Repair, error) {
	return inTxResult(ctx, func(txCtx context.Context) (*Repair, error) {
		form := d.Form

		if d.LedgerStatus == nil {
			entry, err := s.ledger.CreateOrGet(txCtx, entryFromForm(form))
			if err != nil {
				return nil, err
			}
			desired, err := s.desiredStatus(txCtx, form, entry)
			if err != nil {
				return nil, err
			}
			if entry.Status != desired {
				if _, err := s.ledger.UpdateStatus(txCtx, form.RequestNumber, desired); err != nil {
					return nil, err
				}
			}
			return &Repair{
				RequestNumber: form.RequestNumber,
				Reason:        RepairMissingLedger,
				ToStatus:      desired,
			}, nil
		}

		entry, err := s.ledger.LockByRequestNumber(txCtx, form.RequestNumber)
		if errors.Is(err, ledger.ErrNotFound) {
			// entry vanished between the scan and the lock; the next pass
			// picks the form up again
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		desired, err := s.desiredStatus(txCtx, form, entry)
		if err != nil {
			return nil, err
		}
		if entry.Status == desired {
			return nil, nil
		}
		if _, err := s.ledger.UpdateStatus(txCtx, form.RequestNumber, desired); err != nil {
			return nil, err
		}
		from := entry.Status
		return &Repair{
			RequestNumber: form.RequestNumber,
			Reason:        RepairStatusMismatch,
			FromStatus:    &from,
			ToStatus:      desired,
		}, nil
	})
}

// desiredStatus derives the ledger status the form's flags imply. Both flags
// false is ambiguous between draft and rejected; the trail decides.
func (s *ReconcileService) desiredStatus(ctx context.Context, form *forms.Form, entry *ledger.Entry) (ledger.Status, error) {
	switch {
	case form.Approved:
		if entry.Status == ledger.StatusCompleted {
			return ledger.StatusCompleted, nil
		}
		return ledger.StatusApproved, nil
	case form.UnderReview:
		if entry.Status == ledger.StatusUnderReview {
			return ledger.StatusUnderReview, nil
		}
		return ledger.StatusSubmitted, nil
	default:
		history, err := s.trail.History(ctx, entry.ID)
		if err != nil {
			return "", err
		}
		if len(history) > 0 && history[len(history)-1].Action == trail.ActionReject {
			return ledger.StatusRejected, nil
		}
		return ledger.StatusDraft, nil
	}
}
