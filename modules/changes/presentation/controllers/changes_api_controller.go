package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fleetyard/shipcm/modules/changes/domain/forms"
	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
	"github.com/fleetyard/shipcm/modules/changes/services"
	"github.com/fleetyard/shipcm/pkg/httpapi"
	"github.com/fleetyard/shipcm/pkg/serrors"
)

type ChangesAPIController struct {
	workflow  *services.WorkflowService
	reconcile *services.ReconcileService
	identity  services.IdentityProvider
	apiPrefix string
}

func NewChangesAPIController(
	workflow *services.WorkflowService,
	reconcile *services.ReconcileService,
	identity services.IdentityProvider,
) *ChangesAPIController {
	return &ChangesAPIController{
		workflow:  workflow,
		reconcile: reconcile,
		identity:  identity,
		apiPrefix: "/changes/api",
	}
}

func (c *ChangesAPIController) Key() string {
	return c.apiPrefix
}

func (c *ChangesAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/forms", c.CreateForm).Methods(http.MethodPost)
	api.HandleFunc("/forms/{id}", c.UpdateForm).Methods(http.MethodPatch)
	api.HandleFunc("/requests/{number}", c.GetForm).Methods(http.MethodGet)
	api.HandleFunc("/requests/{number}/history", c.History).Methods(http.MethodGet)
	api.HandleFunc("/requests/{number}:submit", c.Submit).Methods(http.MethodPost)
	api.HandleFunc("/requests/{number}:open-review", c.OpenReview).Methods(http.MethodPost)
	api.HandleFunc("/requests/{number}:approve", c.Approve).Methods(http.MethodPost)
	api.HandleFunc("/requests/{number}:reject", c.Reject).Methods(http.MethodPost)
	api.HandleFunc("/requests/{number}:implement", c.Implement).Methods(http.MethodPost)
	api.HandleFunc("/queue", c.Queue).Methods(http.MethodGet)
	api.HandleFunc("/reconcile", c.Reconcile).Methods(http.MethodPost)
}

func (c *ChangesAPIController) actor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	actor, err := c.identity.CurrentActor(r.Context())
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusUnauthorized, services.CodePermissionDenied, "no authenticated user", nil)
		return services.Actor{}, false
	}
	return actor, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		_ = httpapi.WriteError(w, svcErr.Status, svcErr.Code, svcErr.Message, nil)
		return
	}
	var baseErr *serrors.BaseError
	if errors.As(err, &baseErr) {
		_ = httpapi.WriteError(w, http.StatusUnprocessableEntity, baseErr.Code, baseErr.Message, baseErr.TemplateData)
		return
	}
	_ = httpapi.WriteError(w, http.StatusInternalServerError, "CM_INTERNAL", err.Error(), nil)
}

type createFormRequest struct {
	Kind        string          `json:"kind" validate:"required"`
	ShipID      *uuid.UUID      `json:"ship_id,omitempty"`
	Purpose     string          `json:"purpose" validate:"required"`
	Description string          `json:"description"`
	Details     json.RawMessage `json:"details" validate:"required"`
}

func (c *ChangesAPIController) CreateForm(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}

	var body createFormRequest
	if err := decodeBody(w, r, &body); err != nil {
		return
	}

	kind := ledger.Kind(body.Kind)
	details, err := forms.UnmarshalDetails(kind, body.Details)
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusUnprocessableEntity, services.CodeValidation, err.Error(), nil)
		return
	}

	form, err := c.workflow.CreateForm(r.Context(), actor, services.CreateFormParams{
		Kind:        kind,
		ShipID:      body.ShipID,
		Purpose:     body.Purpose,
		Description: body.Description,
		Details:     details,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, form)
}

type updateFormRequest struct {
	ShipID      *uuid.UUID      `json:"ship_id,omitempty"`
	Purpose     string          `json:"purpose" validate:"required"`
	Description string          `json:"description"`
	Details     json.RawMessage `json:"details,omitempty"`
}

func (c *ChangesAPIController) UpdateForm(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	formID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, services.CodeValidation, "invalid form id", nil)
		return
	}

	var body updateFormRequest
	if err := decodeBody(w, r, &body); err != nil {
		return
	}

	params := services.UpdateFormParams{
		FormID:      formID,
		ShipID:      body.ShipID,
		Purpose:     body.Purpose,
		Description: body.Description,
	}
	if len(body.Details) > 0 {
		existing, err := c.workflow.GetFormByID(r.Context(), actor, formID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		details, err := forms.UnmarshalDetails(existing.Kind, body.Details)
		if err != nil {
			_ = httpapi.WriteError(w, http.StatusUnprocessableEntity, services.CodeValidation, err.Error(), nil)
			return
		}
		params.Details = details
	}

	form, err := c.workflow.UpdateForm(r.Context(), actor, params)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, form)
}

func (c *ChangesAPIController) GetForm(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	form, err := c.workflow.GetForm(r.Context(), actor, mux.Vars(r)["number"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, form)
}

func (c *ChangesAPIController) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	history, err := c.workflow.History(r.Context(), actor, mux.Vars(r)["number"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, history)
}

func (c *ChangesAPIController) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	res, err := c.workflow.Submit(r.Context(), actor, mux.Vars(r)["number"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, res)
}

func (c *ChangesAPIController) OpenReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	entry, err := c.workflow.OpenReview(r.Context(), actor, mux.Vars(r)["number"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, entry)
}

func (c *ChangesAPIController) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	res, err := c.workflow.Approve(r.Context(), actor, mux.Vars(r)["number"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, res)
}

type rejectRequest struct {
	Comment string `json:"comment" validate:"required"`
}

func (c *ChangesAPIController) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	var body rejectRequest
	if err := decodeBody(w, r, &body); err != nil {
		return
	}
	res, err := c.workflow.Reject(r.Context(), actor, mux.Vars(r)["number"], body.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, res)
}

func (c *ChangesAPIController) Implement(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	res, err := c.workflow.Implement(r.Context(), actor, mux.Vars(r)["number"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, res)
}

func (c *ChangesAPIController) Queue(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	status := ledger.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = ledger.StatusSubmitted
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			_ = httpapi.WriteError(w, http.StatusBadRequest, services.CodeValidation, "limit is invalid", nil)
			return
		}
		limit = parsed
	}

	entries, err := c.workflow.Queue(r.Context(), actor, status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, entries)
}

func (c *ChangesAPIController) Reconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	repairs, err := c.reconcile.Reconcile(r.Context(), actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, repairs)
}
