package store

import (
	"context"
	"errors"
	"time"

	"examsync/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrNotPending is returned when a sync outcome is applied to an
	// appointment that is no longer in the pending state. Valid
	// transitions are pending→in_sync, pending→error, and *→pending.
	ErrNotPending = errors.New("appointment not pending")
)

// Store is the record-store interface shared by the API server, the
// sync engine, and the durable sink. The sink only creates Result
// Records and resolves external identifiers; appointment sync state is
// owned exclusively by the sync engine.
type Store interface {
	// Appointments
	CreateAppointment(ctx context.Context, in model.AppointmentInput) (model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	GetAppointmentByExternalID(ctx context.Context, externalID string) (model.Appointment, error)
	ListAppointments(ctx context.Context, syncState, status, cursor string, limit int) ([]model.Appointment, string, error)
	// UpdateAppointment applies an edit, moves the lifecycle to
	// rescheduled, and re-enters pending with lastAction=update.
	UpdateAppointment(ctx context.Context, id string, in model.AppointmentInput) (model.Appointment, error)
	// CancelAppointment moves the lifecycle to canceled and re-enters
	// pending with lastAction=cancel.
	CancelAppointment(ctx context.Context, id string) (model.Appointment, error)

	// Sync state transitions (sync engine only)
	MarkSyncPending(ctx context.Context, id string, action model.SyncAction) (model.Appointment, error)
	MarkInSync(ctx context.Context, id string, refs *model.PlatformRefs) error
	MarkSyncFailed(ctx context.Context, id string, detail string) error
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]model.Appointment, error)

	// Result records (append-only)
	InsertResultRecord(ctx context.Context, rec model.ResultRecord) (model.ResultRecord, error)
	ListResultRecords(ctx context.Context, appointmentID string, limit int) ([]model.ResultRecord, error)
	ListUnlinkedResults(ctx context.Context, cursor string, limit int) ([]model.ResultRecord, string, error)
}
