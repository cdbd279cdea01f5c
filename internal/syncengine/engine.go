// Package syncengine drives the outbound appointment state machine:
// every local mutation re-enters pending, the corresponding platform
// call runs synchronously, and the row lands in in_sync or error.
package syncengine

import (
	"context"
	"fmt"
	"log"
	"time"

	"examsync/internal/metrics"
	"examsync/internal/model"
	"examsync/internal/store"
)

// Platform is the outbound surface of the device-platform client.
type Platform interface {
	CreateAppointment(ctx context.Context, a model.Appointment) (*model.PlatformRefs, error)
	UpdateAppointment(ctx context.Context, a model.Appointment) (*model.PlatformRefs, error)
	CancelAppointment(ctx context.Context, a model.Appointment) error
}

// Notifier receives sync lifecycle events for operator streams. May be
// nil.
type Notifier interface {
	Publish(appointmentID, eventType string, data map[string]any)
}

type Engine struct {
	Store    store.Store
	Platform Platform
	Events   Notifier
}

func New(s store.Store, p Platform, n Notifier) *Engine {
	return &Engine{Store: s, Platform: p, Events: n}
}

// Apply re-enters pending for the given action and performs the
// external call. The returned appointment reflects the terminal sync
// state. The engine never retries on its own; failed rows stay in
// error with the failure detail retained verbatim until an operator
// re-touches them.
func (e *Engine) Apply(ctx context.Context, id string, action model.SyncAction) (model.Appointment, error) {
	a, err := e.Store.MarkSyncPending(ctx, id, action)
	if err != nil {
		return model.Appointment{}, err
	}
	return e.drive(ctx, a)
}

// Drive performs the external call for an appointment already in
// pending, using its recorded last action.
func (e *Engine) Drive(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	if a.SyncState != model.SyncPending {
		return a, store.ErrNotPending
	}
	return e.drive(ctx, a)
}

func (e *Engine) drive(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	action := model.SyncAction(a.LastAction)
	if action == "" {
		action = model.ActionCreate
	}
	start := time.Now()
	refs, callErr := e.call(ctx, a, action)
	metrics.SyncDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())

	if callErr != nil {
		metrics.SyncOperations.WithLabelValues(string(action), "error").Inc()
		if err := e.Store.MarkSyncFailed(ctx, a.ID, callErr.Error()); err != nil {
			return model.Appointment{}, fmt.Errorf("record sync failure: %w", err)
		}
		log.Printf("syncengine: %s %s failed: %v", action, a.ID, callErr)
		e.notify(a, "appointment.sync.failed", map[string]any{"action": string(action), "error": callErr.Error()})
		return e.Store.GetAppointment(ctx, a.ID)
	}

	metrics.SyncOperations.WithLabelValues(string(action), "ok").Inc()
	if err := e.Store.MarkInSync(ctx, a.ID, refs); err != nil {
		return model.Appointment{}, fmt.Errorf("record sync success: %w", err)
	}
	e.notify(a, "appointment.sync.completed", map[string]any{"action": string(action)})
	return e.Store.GetAppointment(ctx, a.ID)
}

func (e *Engine) call(ctx context.Context, a model.Appointment, action model.SyncAction) (*model.PlatformRefs, error) {
	switch action {
	case model.ActionCreate:
		return e.Platform.CreateAppointment(ctx, a)
	case model.ActionUpdate:
		return e.Platform.UpdateAppointment(ctx, a)
	case model.ActionCancel:
		return nil, e.Platform.CancelAppointment(ctx, a)
	default:
		return nil, fmt.Errorf("unknown sync action %q", action)
	}
}

func (e *Engine) notify(a model.Appointment, eventType string, data map[string]any) {
	if e.Events == nil {
		return
	}
	d := map[string]any{
		"appointmentId": a.ID,
		"externalId":    a.ExternalID,
		"ts":            time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range data {
		d[k] = v
	}
	e.Events.Publish(a.ID, eventType, d)
}
