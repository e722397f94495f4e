package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fleetyard/shipcm/modules/changes/domain/forms"
	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
	"github.com/fleetyard/shipcm/modules/changes/domain/trail"
	"github.com/fleetyard/shipcm/modules/changes/services"
)

type fixture struct {
	forms    *memFormsRepo
	ledger   *memLedgerRepo
	trail    *memTrailRepo
	audit    *recordingAudit
	workflow *services.WorkflowService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledgerRepo := newMemLedgerRepo()
	formsRepo := newMemFormsRepo(ledgerRepo)
	trailRepo := newMemTrailRepo()
	audit := &recordingAudit{}
	return &fixture{
		forms:    formsRepo,
		ledger:   ledgerRepo,
		trail:    trailRepo,
		audit:    audit,
		workflow: services.NewWorkflowService(formsRepo, ledgerRepo, trailRepo, audit),
	}
}

func requester() services.Actor {
	return services.Actor{ID: uuid.New(), Role: services.RoleRequester}
}

func admin() services.Actor {
	return services.Actor{ID: uuid.New(), Role: services.RoleAdministrator}
}

func hardwareParams() services.CreateFormParams {
	return services.CreateFormParams{
		Kind:    ledger.KindHardware,
		Purpose: "replace the bridge radar processor",
		Details: forms.HardwareDetails{
			BeforeManufacturer: "Furuno",
			AfterManufacturer:  "Raytheon",
			BeforeModel:        "FAR-2117",
			AfterModel:         "NSC-34",
		},
	}
}

func (f *fixture) createForm(t *testing.T, actor services.Actor, params services.CreateFormParams) *forms.Form {
	t.Helper()
	form, err := f.workflow.CreateForm(context.Background(), actor, params)
	require.NoError(t, err)
	return form
}

func requireServiceError(t *testing.T, err error, code string) *services.ServiceError {
	t.Helper()
	var svcErr *services.ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, code, svcErr.Code)
	return svcErr
}

func TestCreateFormCreatesDraftAndLedgerEntry(t *testing.T) {
	f := newFixture(t)
	user := requester()

	form := f.createForm(t, user, hardwareParams())

	require.NotEqual(t, uuid.Nil, form.ID)
	require.Regexp(t, `^HW-\d{6}-\d{6}`, form.RequestNumber)
	require.True(t, form.Draft())
	require.False(t, form.UnderReview)
	require.False(t, form.Approved)

	entry, err := f.ledger.GetByRequestNumber(context.Background(), form.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusDraft, entry.Status)
	require.Equal(t, form.Kind, entry.Kind)
	require.Equal(t, user.ID, entry.RequestedByID)
	require.Equal(t, form.Purpose, entry.Purpose)
}

func TestCreateFormValidation(t *testing.T) {
	f := newFixture(t)
	user := requester()

	t.Run("unknown kind", func(t *testing.T) {
		params := hardwareParams()
		params.Kind = ledger.Kind("firmware")
		_, err := f.workflow.CreateForm(context.Background(), user, params)
		requireServiceError(t, err, services.CodeValidation)
	})

	t.Run("missing purpose", func(t *testing.T) {
		params := hardwareParams()
		params.Purpose = "   "
		_, err := f.workflow.CreateForm(context.Background(), user, params)
		require.Error(t, err)
	})

	t.Run("details kind mismatch", func(t *testing.T) {
		params := hardwareParams()
		params.Details = forms.SoftwareDetails{BeforeName: "ECDIS", AfterName: "ECDIS"}
		_, err := f.workflow.CreateForm(context.Background(), user, params)
		requireServiceError(t, err, services.CodeValidation)
	})

	t.Run("unresolved identity", func(t *testing.T) {
		_, err := f.workflow.CreateForm(context.Background(), services.Actor{}, hardwareParams())
		requireServiceError(t, err, services.CodePermissionDenied)
	})
}

func TestCreateFormRetriesOnNumberCollision(t *testing.T) {
	f := newFixture(t)
	user := requester()

	first := f.createForm(t, user, hardwareParams())
	// Created within the same minute, so the second insert collides on the
	// bare stamp and retries with a random suffix.
	second := f.createForm(t, user, hardwareParams())

	require.NotEqual(t, first.RequestNumber, second.RequestNumber)
	require.Regexp(t, `^HW-\d{6}-\d{6}([0-9a-z]{2})?$`, second.RequestNumber)

	_, err := f.ledger.GetByRequestNumber(context.Background(), second.RequestNumber)
	require.NoError(t, err)
}

func TestUpdateFormDraftOnly(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())

	updated, err := f.workflow.UpdateForm(context.Background(), user, services.UpdateFormParams{
		FormID:      form.ID,
		Purpose:     "replace the bridge radar processor and display",
		Description: "obsolete parts",
	})
	require.NoError(t, err)
	require.Equal(t, "replace the bridge radar processor and display", updated.Purpose)

	_, err = f.workflow.Submit(context.Background(), user, form.RequestNumber)
	require.NoError(t, err)

	_, err = f.workflow.UpdateForm(context.Background(), user, services.UpdateFormParams{
		FormID:  form.ID,
		Purpose: "too late",
	})
	requireServiceError(t, err, services.CodeInvalidState)
}

func TestUpdateFormRequesterOnly(t *testing.T) {
	f := newFixture(t)
	form := f.createForm(t, requester(), hardwareParams())

	_, err := f.workflow.UpdateForm(context.Background(), requester(), services.UpdateFormParams{
		FormID:  form.ID,
		Purpose: "someone else's edit",
	})
	requireServiceError(t, err, services.CodePermissionDenied)
}

func TestSubmitSyncsFormAndLedger(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())

	res, err := f.workflow.Submit(context.Background(), user, form.RequestNumber)
	require.NoError(t, err)

	require.True(t, res.Form.UnderReview)
	require.False(t, res.Form.Approved)
	require.Equal(t, ledger.StatusSubmitted, res.Ledger.Status)
	require.Equal(t, 1, res.Trail.Stage)
	require.Equal(t, trail.ActionSubmit, res.Trail.Action)
	require.Equal(t, user.ID, res.Trail.ActionByID)
}

func TestSubmitPreconditions(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())

	t.Run("only the requester may submit", func(t *testing.T) {
		_, err := f.workflow.Submit(context.Background(), requester(), form.RequestNumber)
		requireServiceError(t, err, services.CodePermissionDenied)
	})

	t.Run("unknown request number", func(t *testing.T) {
		_, err := f.workflow.Submit(context.Background(), user, "HW-209901-010101")
		requireServiceError(t, err, services.CodeNotFound)
	})

	_, err := f.workflow.Submit(context.Background(), user, form.RequestNumber)
	require.NoError(t, err)

	t.Run("double submit", func(t *testing.T) {
		_, err := f.workflow.Submit(context.Background(), user, form.RequestNumber)
		requireServiceError(t, err, services.CodeInvalidTransition)

		// the failed attempt must not have touched anything
		entry, err := f.ledger.GetByRequestNumber(context.Background(), form.RequestNumber)
		require.NoError(t, err)
		require.Equal(t, ledger.StatusSubmitted, entry.Status)
		history, err := f.trail.History(context.Background(), entry.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
	})
}

func TestApprovePreconditions(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())

	t.Run("draft cannot be approved", func(t *testing.T) {
		_, err := f.workflow.Approve(context.Background(), admin(), form.RequestNumber)
		requireServiceError(t, err, services.CodeInvalidTransition)

		current, err := f.forms.GetByID(context.Background(), form.ID)
		require.NoError(t, err)
		require.True(t, current.Draft())
	})

	_, err := f.workflow.Submit(context.Background(), user, form.RequestNumber)
	require.NoError(t, err)

	t.Run("administrator role required", func(t *testing.T) {
		_, err := f.workflow.Approve(context.Background(), requester(), form.RequestNumber)
		requireServiceError(t, err, services.CodePermissionDenied)
	})

	t.Run("requester may not approve their own request", func(t *testing.T) {
		self := services.Actor{ID: user.ID, Role: services.RoleAdministrator}
		_, err := f.workflow.Approve(context.Background(), self, form.RequestNumber)
		requireServiceError(t, err, services.CodePermissionDenied)
	})
}

func TestRejectRequiresComment(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())
	_, err := f.workflow.Submit(context.Background(), user, form.RequestNumber)
	require.NoError(t, err)

	_, err = f.workflow.Reject(context.Background(), admin(), form.RequestNumber, "   ")
	requireServiceError(t, err, services.CodeValidation)

	res, err := f.workflow.Reject(context.Background(), admin(), form.RequestNumber, "supplier not certified")
	require.NoError(t, err)
	require.False(t, res.Form.UnderReview)
	require.False(t, res.Form.Approved)
	require.Equal(t, ledger.StatusRejected, res.Ledger.Status)
	require.NotNil(t, res.Trail.Comment)
	require.Equal(t, "supplier not certified", *res.Trail.Comment)
}

func TestOpenReview(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())

	t.Run("requires submitted status", func(t *testing.T) {
		_, err := f.workflow.OpenReview(context.Background(), admin(), form.RequestNumber)
		requireServiceError(t, err, services.CodeInvalidTransition)
	})

	_, err := f.workflow.Submit(context.Background(), user, form.RequestNumber)
	require.NoError(t, err)

	t.Run("administrator only", func(t *testing.T) {
		_, err := f.workflow.OpenReview(context.Background(), requester(), form.RequestNumber)
		requireServiceError(t, err, services.CodePermissionDenied)
	})

	entry, err := f.workflow.OpenReview(context.Background(), admin(), form.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusUnderReview, entry.Status)

	// the form's pending flag is unchanged; both pending statuses map to it
	current, err := f.forms.GetByID(context.Background(), form.ID)
	require.NoError(t, err)
	require.True(t, current.UnderReview)

	// approval remains possible from under review
	_, err = f.workflow.Approve(context.Background(), admin(), form.RequestNumber)
	require.NoError(t, err)
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	user := requester()
	approver := admin()

	form := f.createForm(t, user, hardwareParams())
	number := form.RequestNumber

	_, err := f.workflow.Submit(context.Background(), user, number)
	require.NoError(t, err)

	approveRes, err := f.workflow.Approve(context.Background(), approver, number)
	require.NoError(t, err)
	require.False(t, approveRes.Form.UnderReview)
	require.True(t, approveRes.Form.Approved)
	require.Equal(t, ledger.StatusApproved, approveRes.Ledger.Status)

	implementRes, err := f.workflow.Implement(context.Background(), approver, number)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCompleted, implementRes.Ledger.Status)
	// the form keeps its approved flags; completion lives on the ledger only
	require.True(t, implementRes.Form.Approved)
	require.False(t, implementRes.Form.UnderReview)

	history, err := f.workflow.History(context.Background(), user, number)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, entry := range history {
		require.Equal(t, i+1, entry.Stage)
	}
	require.Equal(t, trail.ActionSubmit, history[0].Action)
	require.Equal(t, trail.ActionApprove, history[1].Action)
	require.Equal(t, trail.ActionImplement, history[2].Action)
	require.Equal(t, user.ID, history[0].ActionByID)
	require.Equal(t, approver.ID, history[1].ActionByID)

	records := f.audit.all()
	require.Len(t, records, 3)
	require.Equal(t, ledger.StatusDraft, records[0].FromStatus)
	require.Equal(t, ledger.StatusSubmitted, records[0].ToStatus)
	require.Equal(t, ledger.StatusSubmitted, records[1].FromStatus)
	require.Equal(t, ledger.StatusApproved, records[1].ToStatus)
	require.Equal(t, ledger.StatusApproved, records[2].FromStatus)
	require.Equal(t, ledger.StatusCompleted, records[2].ToStatus)
}

func TestImplementPreconditions(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())
	number := form.RequestNumber

	t.Run("unapproved form", func(t *testing.T) {
		_, err := f.workflow.Implement(context.Background(), admin(), number)
		requireServiceError(t, err, services.CodeInvalidTransition)
	})

	_, err := f.workflow.Submit(context.Background(), user, number)
	require.NoError(t, err)
	_, err = f.workflow.Approve(context.Background(), admin(), number)
	require.NoError(t, err)

	t.Run("administrator only", func(t *testing.T) {
		_, err := f.workflow.Implement(context.Background(), requester(), number)
		requireServiceError(t, err, services.CodePermissionDenied)
	})

	t.Run("ledger must agree", func(t *testing.T) {
		f.ledger.forceStatus(number, ledger.StatusSubmitted)
		_, err := f.workflow.Implement(context.Background(), admin(), number)
		requireServiceError(t, err, services.CodeInvalidTransition)
		f.ledger.forceStatus(number, ledger.StatusApproved)
	})

	_, err = f.workflow.Implement(context.Background(), admin(), number)
	require.NoError(t, err)

	t.Run("already completed", func(t *testing.T) {
		_, err := f.workflow.Implement(context.Background(), admin(), number)
		requireServiceError(t, err, services.CodeInvalidTransition)
	})
}

func TestSubmitSynthesizesMissingLedgerEntry(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())
	f.ledger.delete(form.RequestNumber)

	res, err := f.workflow.Submit(context.Background(), user, form.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSubmitted, res.Ledger.Status)
	require.Equal(t, form.Kind, res.Ledger.Kind)
	require.Equal(t, 1, res.Trail.Stage)
}

func TestApproveRepairsDivergedLedger(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())
	_, err := f.workflow.Submit(context.Background(), user, form.RequestNumber)
	require.NoError(t, err)

	// Ledger drifted to a status approval is not legal from; the form's
	// transition already committed, so the ledger follows it anyway.
	f.ledger.forceStatus(form.RequestNumber, ledger.StatusDraft)

	res, err := f.workflow.Approve(context.Background(), admin(), form.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusApproved, res.Ledger.Status)
}

func TestPartialSyncSurfaced(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())

	broken := &brokenLedgerRepo{
		Repository: f.ledger,
		failures:   2, // both sync attempts
		err:        errors.New("connection refused"),
	}
	workflow := services.NewWorkflowService(f.forms, broken, f.trail, f.audit)

	_, err := workflow.Submit(context.Background(), user, form.RequestNumber)
	svcErr := requireServiceError(t, err, services.CodePartialSync)
	require.ErrorContains(t, svcErr, form.RequestNumber)

	// the form side committed before the ledger failed
	current, err := f.forms.GetByID(context.Background(), form.ID)
	require.NoError(t, err)
	require.True(t, current.UnderReview)
	entry, err := f.ledger.GetByRequestNumber(context.Background(), form.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusDraft, entry.Status)

	// reconciliation closes the gap afterwards
	reconcile := services.NewReconcileService(f.forms, f.ledger, f.trail)
	repairs, err := reconcile.Reconcile(context.Background(), admin())
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	require.Equal(t, services.RepairStatusMismatch, repairs[0].Reason)
	require.Equal(t, ledger.StatusSubmitted, repairs[0].ToStatus)

	entry, err = f.ledger.GetByRequestNumber(context.Background(), form.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSubmitted, entry.Status)
}

func TestPartialSyncRecoversOnRetry(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())

	broken := &brokenLedgerRepo{
		Repository: f.ledger,
		failures:   1, // first attempt fails, the retry succeeds
		err:        errors.New("connection refused"),
	}
	workflow := services.NewWorkflowService(f.forms, broken, f.trail, f.audit)

	res, err := workflow.Submit(context.Background(), user, form.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSubmitted, res.Ledger.Status)
}

func TestQueue(t *testing.T) {
	f := newFixture(t)
	user := requester()

	first := f.createForm(t, user, hardwareParams())
	second := f.createForm(t, user, hardwareParams())
	_, err := f.workflow.Submit(context.Background(), user, first.RequestNumber)
	require.NoError(t, err)
	_, err = f.workflow.Submit(context.Background(), user, second.RequestNumber)
	require.NoError(t, err)

	entries, err := f.workflow.Queue(context.Background(), admin(), ledger.StatusSubmitted, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = f.workflow.Queue(context.Background(), admin(), ledger.StatusSubmitted, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entries, err = f.workflow.Queue(context.Background(), admin(), ledger.StatusApproved, 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestGetForm(t *testing.T) {
	f := newFixture(t)
	user := requester()
	form := f.createForm(t, user, hardwareParams())

	got, err := f.workflow.GetForm(context.Background(), user, form.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, form.ID, got.ID)

	_, err = f.workflow.GetForm(context.Background(), user, "HW-209901-010101")
	requireServiceError(t, err, services.CodeNotFound)
}
