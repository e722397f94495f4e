package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fleetyard/shipcm/modules/changes/domain/events"
	"github.com/fleetyard/shipcm/modules/changes/infrastructure/persistence"
	"github.com/fleetyard/shipcm/pkg/eventbus"
)

// AuditHandler persists transition events published by the workflow. The
// audit sink is best-effort: a failed insert is logged, never propagated.
type AuditHandler struct {
	repo *persistence.AuditRepository
	log  *logrus.Logger
}

func RegisterAuditHandler(bus eventbus.EventBus, repo *persistence.AuditRepository, log *logrus.Logger) *AuditHandler {
	handler := &AuditHandler{repo: repo, log: log}
	bus.Subscribe(handler.OnTransitionRecorded)
	return handler
}

func (h *AuditHandler) OnTransitionRecorded(ctx context.Context, e events.TransitionRecorded) {
	if h == nil || h.repo == nil {
		return
	}
	if err := h.repo.Insert(ctx, e); err != nil && h.log != nil {
		h.log.WithError(err).
			WithField("request_number", e.RequestNumber).
			WithField("action", string(e.Action)).
			Warn("changes: failed to record audit transition")
	}
}
