package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fleetyard/shipcm/modules/changes/domain/events"
	"github.com/fleetyard/shipcm/pkg/eventbus"
)

// AuditRecorder receives a notification of each transition for compliance
// logging. Best-effort: the workflow logs failures and continues.
type AuditRecorder interface {
	RecordTransition(ctx context.Context, record events.TransitionRecorded) error
}

// EventBusAuditRecorder publishes transitions on the in-process bus; the
// changes audit handler persists them.
type EventBusAuditRecorder struct {
	bus eventbus.EventBus
}

func NewEventBusAuditRecorder(bus eventbus.EventBus) *EventBusAuditRecorder {
	return &EventBusAuditRecorder{bus: bus}
}

func (r *EventBusAuditRecorder) RecordTransition(ctx context.Context, record events.TransitionRecorded) error {
	r.bus.Publish(ctx, record)
	return nil
}

// NopAuditRecorder drops every record. Used where no audit sink is configured.
type NopAuditRecorder struct{}

func (NopAuditRecorder) RecordTransition(context.Context, events.TransitionRecorded) error {
	return nil
}

func notifyAudit(ctx context.Context, recorder AuditRecorder, record events.TransitionRecorded) {
	if recorder == nil {
		return
	}
	if err := recorder.RecordTransition(ctx, record); err != nil {
		logWithFields(ctx, logrus.WarnLevel, "changes.audit.record_failed", logrus.Fields{
			"request_number": record.RequestNumber,
			"action":         string(record.Action),
			"error":          err.Error(),
		})
	}
}
