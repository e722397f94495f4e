package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fleetyard/shipcm/modules/changes/domain/events"
	"github.com/fleetyard/shipcm/modules/changes/domain/forms"
	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
	"github.com/fleetyard/shipcm/modules/changes/domain/trail"
	"github.com/fleetyard/shipcm/pkg/composables"
	"github.com/fleetyard/shipcm/pkg/serrors"
)

// WorkflowService coordinates every lifecycle-changing operation on a change
// request. A request is two records joined only by its request number: the
// specialized form the user edits and the kind-agnostic ledger entry the
// approval queues read. The form is the system of record for preconditions;
// the ledger follows it, and this service is what keeps the two moving
// together.
type WorkflowService struct {
	forms  forms.Repository
	ledger ledger.Repository
	trail  trail.Repository
	audit  AuditRecorder
}

func NewWorkflowService(
	formsRepo forms.Repository,
	ledgerRepo ledger.Repository,
	trailRepo trail.Repository,
	audit AuditRecorder,
) *WorkflowService {
	return &WorkflowService{
		forms:  formsRepo,
		ledger: ledgerRepo,
		trail:  trailRepo,
		audit:  audit,
	}
}

// inTxResult wraps fn in a database transaction when the context carries a
// pool or an open transaction. Without either (unit tests over in-memory
// repositories) fn runs directly and the repositories serialize themselves.
func inTxResult[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	if _, err := composables.UseTx(ctx); err != nil {
		return fn(ctx)
	}
	return composables.InTxResult(ctx, fn)
}

type TransitionResult struct {
	Form   *forms.Form
	Ledger *ledger.Entry
	Trail  *trail.Entry
}

type CreateFormParams struct {
	Kind        ledger.Kind
	ShipID      *uuid.UUID
	Purpose     string
	Description string
	Details     forms.Details
}

// CreateForm saves a new specialized form in draft and creates its matching
// ledger entry. Any authenticated user may create.
func (s *WorkflowService) CreateForm(ctx context.Context, actor Actor, params CreateFormParams) (*forms.Form, error) {
	if !actor.Resolved() {
		return nil, permissionDeniedError("-", "create", "identity not resolved")
	}
	params.Purpose = strings.TrimSpace(params.Purpose)
	params.Description = strings.TrimSpace(params.Description)
	if !params.Kind.Valid() {
		return nil, validationError(fmt.Sprintf("unknown form kind %q", params.Kind))
	}
	if params.Purpose == "" {
		return nil, serrors.NewFieldRequiredError("purpose", "Changes.Forms.Fields.purpose")
	}
	if params.Details == nil {
		return nil, serrors.NewFieldRequiredError("details", "Changes.Forms.Fields.details")
	}
	if params.Details.FormKind() != params.Kind {
		return nil, validationError("details do not match the form kind")
	}

	now := time.Now().UTC()
	for attempt := 0; attempt < forms.MaxNumberAttempts; attempt++ {
		number := forms.NewRequestNumber(params.Kind, now, attempt)
		created, err := inTxResult(ctx, func(txCtx context.Context) (*forms.Form, error) {
			form, err := s.forms.Insert(txCtx, &forms.Form{
				RequestNumber: number,
				Kind:          params.Kind,
				RequesterID:   actor.ID,
				ShipID:        params.ShipID,
				Purpose:       params.Purpose,
				Description:   params.Description,
				Details:       params.Details,
			})
			if err != nil {
				return nil, err
			}
			if _, err := s.ledger.CreateOrGet(txCtx, entryFromForm(form)); err != nil {
				return nil, err
			}
			return form, nil
		})
		if errors.Is(err, forms.ErrDuplicateRequestNumber) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return created, nil
	}
	return nil, newServiceError(
		http.StatusConflict,
		CodeNumberExhausted,
		fmt.Sprintf("could not allocate a unique %s request number after %d attempts", params.Kind, forms.MaxNumberAttempts),
		nil,
	)
}

type UpdateFormParams struct {
	FormID      uuid.UUID
	ShipID      *uuid.UUID
	Purpose     string
	Description string
	Details     forms.Details
}

// UpdateForm edits a form that is still in draft. Once submitted a form is
// frozen; only its lifecycle flags change after that.
func (s *WorkflowService) UpdateForm(ctx context.Context, actor Actor, params UpdateFormParams) (*forms.Form, error) {
	if !actor.Resolved() {
		return nil, permissionDeniedError("-", "update", "identity not resolved")
	}
	params.Purpose = strings.TrimSpace(params.Purpose)
	params.Description = strings.TrimSpace(params.Description)
	if params.Purpose == "" {
		return nil, serrors.NewFieldRequiredError("purpose", "Changes.Forms.Fields.purpose")
	}

	return inTxResult(ctx, func(txCtx context.Context) (*forms.Form, error) {
		form, err := s.forms.GetByID(txCtx, params.FormID)
		if errors.Is(err, forms.ErrNotFound) {
			return nil, notFoundError(params.FormID.String(), "update")
		}
		if err != nil {
			return nil, err
		}
		if form.RequesterID != actor.ID {
			return nil, permissionDeniedError(form.RequestNumber, "update", "only the requester may edit a form")
		}
		if !form.Draft() {
			return nil, newServiceError(
				http.StatusConflict,
				CodeInvalidState,
				fmt.Sprintf("request %s: form is no longer editable", form.RequestNumber),
				nil,
			)
		}
		if params.Details != nil {
			if params.Details.FormKind() != form.Kind {
				return nil, validationError("details do not match the form kind")
			}
			form.Details = params.Details
		}
		form.ShipID = params.ShipID
		form.Purpose = params.Purpose
		form.Description = params.Description
		return s.forms.Update(txCtx, form)
	})
}

// Submit moves a draft form into the approval queue. Only the original
// requester may submit.
func (s *WorkflowService) Submit(ctx context.Context, actor Actor, requestNumber string) (*TransitionResult, error) {
	res, err := s.transition(ctx, actor, requestNumber, transitionSpec{
		action:      trail.ActionSubmit,
		target:      ledger.StatusSubmitted,
		underReview: true,
		approved:    false,
		check: func(form *forms.Form, actor Actor) error {
			if !form.Draft() {
				return invalidTransitionError(form.RequestNumber, "submit", "form is not in draft")
			}
			if form.RequesterID != actor.ID {
				return permissionDeniedError(form.RequestNumber, "submit", "only the requester may submit")
			}
			return nil
		},
	})
	recordTransition("submit", err)
	return res, err
}

// OpenReview moves a submitted ledger entry to under review when an
// administrator opens it. The form's single pending flag cannot tell the two
// states apart, so only the ledger changes.
func (s *WorkflowService) OpenReview(ctx context.Context, actor Actor, requestNumber string) (*ledger.Entry, error) {
	if !actor.Resolved() {
		return nil, permissionDeniedError(requestNumber, "open review", "identity not resolved")
	}
	if !actor.Admin() {
		return nil, permissionDeniedError(requestNumber, "open review", "administrator role required")
	}

	return inTxResult(ctx, func(txCtx context.Context) (*ledger.Entry, error) {
		entry, err := s.ledger.LockByRequestNumber(txCtx, requestNumber)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, notFoundError(requestNumber, "open review")
		}
		if err != nil {
			return nil, err
		}
		if entry.Status != ledger.StatusSubmitted {
			return nil, invalidTransitionError(requestNumber, "open review",
				fmt.Sprintf("ledger status is %s, expected %s", entry.Status, ledger.StatusSubmitted))
		}
		return s.ledger.UpdateStatus(txCtx, requestNumber, ledger.StatusUnderReview)
	})
}

// Approve grants a pending request. Administrator only, and never the
// original requester.
func (s *WorkflowService) Approve(ctx context.Context, actor Actor, requestNumber string) (*TransitionResult, error) {
	res, err := s.transition(ctx, actor, requestNumber, transitionSpec{
		action:      trail.ActionApprove,
		target:      ledger.StatusApproved,
		underReview: false,
		approved:    true,
		check:       decisionPreconditions("approve"),
	})
	recordTransition("approve", err)
	return res, err
}

// Reject declines a pending request. A rejection reason is mandatory.
func (s *WorkflowService) Reject(ctx context.Context, actor Actor, requestNumber, comment string) (*TransitionResult, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		err := validationError(fmt.Sprintf("request %s: a rejection comment is required", requestNumber))
		recordTransition("reject", err)
		return nil, err
	}
	res, err := s.transition(ctx, actor, requestNumber, transitionSpec{
		action:      trail.ActionReject,
		target:      ledger.StatusRejected,
		underReview: false,
		approved:    false,
		comment:     &comment,
		check:       decisionPreconditions("reject"),
	})
	recordTransition("reject", err)
	return res, err
}

// decisionPreconditions are shared by Approve and Reject.
func decisionPreconditions(action string) func(*forms.Form, Actor) error {
	return func(form *forms.Form, actor Actor) error {
		if !actor.Admin() {
			return permissionDeniedError(form.RequestNumber, action, "administrator role required")
		}
		if actor.ID == form.RequesterID {
			return permissionDeniedError(form.RequestNumber, action, "requester may not decide their own request")
		}
		if !form.UnderReview {
			return invalidTransitionError(form.RequestNumber, action, "form is not pending review")
		}
		return nil
	}
}

// Implement marks an approved request as carried out. The form keeps its
// approved flags; completion exists only on the ledger.
func (s *WorkflowService) Implement(ctx context.Context, actor Actor, requestNumber string) (*TransitionResult, error) {
	res, err := s.implement(ctx, actor, requestNumber)
	recordTransition("implement", err)
	return res, err
}

func (s *WorkflowService) implement(ctx context.Context, actor Actor, requestNumber string) (*TransitionResult, error) {
	if !actor.Resolved() {
		return nil, permissionDeniedError(requestNumber, "implement", "identity not resolved")
	}
	if !actor.Admin() {
		return nil, permissionDeniedError(requestNumber, "implement", "administrator role required")
	}

	form, err := s.forms.GetByRequestNumber(ctx, requestNumber)
	if errors.Is(err, forms.ErrNotFound) {
		return nil, notFoundError(requestNumber, "implement")
	}
	if err != nil {
		return nil, err
	}
	if !form.Approved {
		return nil, invalidTransitionError(requestNumber, "implement", "form has not been approved")
	}

	now := time.Now().UTC()
	type synced struct {
		entry      *ledger.Entry
		trailEntry *trail.Entry
	}
	out, err := inTxResult(ctx, func(txCtx context.Context) (synced, error) {
		entry, err := s.ledger.LockByRequestNumber(txCtx, requestNumber)
		if errors.Is(err, ledger.ErrNotFound) {
			entry, err = s.ledger.CreateOrGet(txCtx, entryFromForm(form))
		}
		if err != nil {
			return synced{}, err
		}
		if entry.Status != ledger.StatusApproved {
			return synced{}, invalidTransitionError(requestNumber, "implement",
				fmt.Sprintf("ledger status is %s, expected %s", entry.Status, ledger.StatusApproved))
		}
		entry, err = s.ledger.UpdateStatus(txCtx, requestNumber, ledger.StatusCompleted)
		if err != nil {
			return synced{}, err
		}
		appended, err := s.trail.Append(txCtx, &trail.Entry{
			LedgerEntryID: entry.ID,
			Action:        trail.ActionImplement,
			ActionByID:    actor.ID,
			ActionAt:      now,
		})
		if err != nil {
			return synced{}, err
		}
		return synced{entry: entry, trailEntry: appended}, nil
	})
	if err != nil {
		return nil, err
	}

	notifyAudit(ctx, s.audit, events.TransitionRecorded{
		RequestNumber: requestNumber,
		Kind:          form.Kind,
		Action:        trail.ActionImplement,
		FromStatus:    ledger.StatusApproved,
		ToStatus:      ledger.StatusCompleted,
		ActorID:       actor.ID,
		OccurredAt:    now,
	})
	return &TransitionResult{Form: form, Ledger: out.entry, Trail: out.trailEntry}, nil
}

// GetForm looks a form up by request number.
func (s *WorkflowService) GetForm(ctx context.Context, actor Actor, requestNumber string) (*forms.Form, error) {
	if !actor.Resolved() {
		return nil, permissionDeniedError(requestNumber, "read", "identity not resolved")
	}
	form, err := s.forms.GetByRequestNumber(ctx, requestNumber)
	if errors.Is(err, forms.ErrNotFound) {
		return nil, notFoundError(requestNumber, "read")
	}
	return form, err
}

// GetFormByID looks a form up by its primary key.
func (s *WorkflowService) GetFormByID(ctx context.Context, actor Actor, formID uuid.UUID) (*forms.Form, error) {
	if !actor.Resolved() {
		return nil, permissionDeniedError("-", "read", "identity not resolved")
	}
	form, err := s.forms.GetByID(ctx, formID)
	if errors.Is(err, forms.ErrNotFound) {
		return nil, notFoundError(formID.String(), "read")
	}
	return form, err
}

// History returns the approval trail for a request, stages ascending.
func (s *WorkflowService) History(ctx context.Context, actor Actor, requestNumber string) ([]*trail.Entry, error) {
	if !actor.Resolved() {
		return nil, permissionDeniedError(requestNumber, "read history", "identity not resolved")
	}
	entry, err := s.ledger.GetByRequestNumber(ctx, requestNumber)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, notFoundError(requestNumber, "read history")
	}
	if err != nil {
		return nil, err
	}
	return s.trail.History(ctx, entry.ID)
}

// Queue lists ledger entries in the given status for approval dashboards.
func (s *WorkflowService) Queue(ctx context.Context, actor Actor, status ledger.Status, limit int) ([]*ledger.Entry, error) {
	if !actor.Resolved() {
		return nil, permissionDeniedError("-", "list queue", "identity not resolved")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.ledger.ListByStatus(ctx, status, limit)
}

type transitionSpec struct {
	action      trail.Action
	target      ledger.Status
	underReview bool
	approved    bool
	comment     *string
	check       func(form *forms.Form, actor Actor) error
}

// transition runs the coordinated algorithm shared by Submit, Approve and
// Reject: validate against the form's flags, mutate the form, then bring the
// ledger and trail along, and finally notify the audit sink. The form-side
// unit commits first; a ledger failure after that is retried once through the
// synthesis fallback and then surfaced loudly as a partial sync.
func (s *WorkflowService) transition(ctx context.Context, actor Actor, requestNumber string, spec transitionSpec) (*TransitionResult, error) {
	if !actor.Resolved() {
		return nil, permissionDeniedError(requestNumber, string(spec.action), "identity not resolved")
	}

	form, err := inTxResult(ctx, func(txCtx context.Context) (*forms.Form, error) {
		form, err := s.forms.LockByRequestNumber(txCtx, requestNumber)
		if errors.Is(err, forms.ErrNotFound) {
			return nil, notFoundError(requestNumber, string(spec.action))
		}
		if err != nil {
			return nil, err
		}
		if err := spec.check(form, actor); err != nil {
			return nil, err
		}
		return s.forms.SetFlags(txCtx, form.ID, spec.underReview, spec.approved)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry, trailEntry, fromStatus, err := s.syncLedger(ctx, actor, form, spec, now)
	if err != nil {
		// second attempt through the same fallback resolution
		entry, trailEntry, fromStatus, err = s.syncLedger(ctx, actor, form, spec, now)
	}
	if err != nil {
		recordPartialSync()
		logWithFields(ctx, logrus.ErrorLevel, "changes.workflow.partial_sync", logrus.Fields{
			"request_number": requestNumber,
			"action":         string(spec.action),
			"error":          err.Error(),
		})
		return nil, partialSyncError(requestNumber, string(spec.action), err)
	}

	notifyAudit(ctx, s.audit, events.TransitionRecorded{
		RequestNumber: requestNumber,
		Kind:          form.Kind,
		Action:        spec.action,
		FromStatus:    fromStatus,
		ToStatus:      spec.target,
		ActorID:       actor.ID,
		Comment:       spec.comment,
		OccurredAt:    now,
	})
	return &TransitionResult{Form: form, Ledger: entry, Trail: trailEntry}, nil
}

// syncLedger resolves the ledger entry for the form, synthesizing one when the
// lookup misses, applies the target status and appends the trail entry. The
// stage number is computed inside the same transaction that holds the ledger
// row lock.
func (s *WorkflowService) syncLedger(ctx context.Context, actor Actor, form *forms.Form, spec transitionSpec, now time.Time) (*ledger.Entry, *trail.Entry, ledger.Status, error) {
	type synced struct {
		entry      *ledger.Entry
		trailEntry *trail.Entry
		previous   ledger.Status
	}
	out, err := inTxResult(ctx, func(txCtx context.Context) (synced, error) {
		entry, err := s.ledger.LockByRequestNumber(txCtx, form.RequestNumber)
		if errors.Is(err, ledger.ErrNotFound) {
			// Histories exist where the ledger entry was never created.
			entry, err = s.ledger.CreateOrGet(txCtx, entryFromForm(form))
		}
		if err != nil {
			return synced{}, err
		}

		previous := entry.Status
		if entry.Status != spec.target {
			if !entry.Status.CanTransitionTo(spec.target) {
				// The form-side mutation has already committed; the ledger
				// follows the form instead of staying diverged.
				logWithFields(txCtx, logrus.WarnLevel, "changes.workflow.ledger_repair", logrus.Fields{
					"request_number": form.RequestNumber,
					"from_status":    string(entry.Status),
					"to_status":      string(spec.target),
					"action":         string(spec.action),
				})
			}
			entry, err = s.ledger.UpdateStatus(txCtx, form.RequestNumber, spec.target)
			if err != nil {
				return synced{}, err
			}
		}

		appended, err := s.trail.Append(txCtx, &trail.Entry{
			LedgerEntryID: entry.ID,
			Action:        spec.action,
			ActionByID:    actor.ID,
			ActionAt:      now,
			Comment:       spec.comment,
		})
		if err != nil {
			return synced{}, err
		}
		return synced{entry: entry, trailEntry: appended, previous: previous}, nil
	})
	if err != nil {
		return nil, nil, ledger.StatusDraft, err
	}
	return out.entry, out.trailEntry, out.previous, nil
}

func entryFromForm(form *forms.Form) *ledger.Entry {
	requestedAt := form.CreatedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}
	return &ledger.Entry{
		RequestNumber: form.RequestNumber,
		Kind:          form.Kind,
		ShipID:        form.ShipID,
		RequestedByID: form.RequesterID,
		RequestedAt:   requestedAt,
		Purpose:       form.Purpose,
		Description:   form.Description,
		Status:        ledger.StatusDraft,
	}
}
