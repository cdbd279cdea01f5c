package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"examsync/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	appts   map[string]model.Appointment // id -> appointment
	byExt   map[string]string            // external id -> id
	results map[string]model.ResultRecord
	resIdx  []string // insertion-ordered result record ids
}

func NewMemory() *Memory {
	return &Memory{
		appts:   map[string]model.Appointment{},
		byExt:   map[string]string{},
		results: map[string]model.ResultRecord{},
	}
}

func (m *Memory) CreateAppointment(ctx context.Context, in model.AppointmentInput) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	a := model.Appointment{
		ID:            uuid.New().String(),
		ExternalID:    uuid.New().String(),
		ClinicianName: in.ClinicianName,
		PatientName:   in.PatientName,
		Status:        model.StatusScheduled,
		SyncState:     model.SyncPending,
		LastAction:    string(model.ActionCreate),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.StartAt != nil {
		a.StartAt = *in.StartAt
	}
	if in.EndAt != nil {
		a.EndAt = *in.EndAt
	}
	m.appts[a.ID] = a
	m.byExt[a.ExternalID] = a.ID
	return a, nil
}

func (m *Memory) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) GetAppointmentByExternalID(ctx context.Context, externalID string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byExt[externalID]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return m.appts[id], nil
}

func (m *Memory) ListAppointments(ctx context.Context, syncState, status, cursor string, limit int) ([]model.Appointment, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.appts))
	for id := range m.appts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := []model.Appointment{}
	var last string
	for _, id := range ids {
		if cursor != "" && id <= cursor {
			continue
		}
		a := m.appts[id]
		if syncState != "" && a.SyncState != syncState {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
		last = id
		if len(out) == limit {
			break
		}
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (m *Memory) UpdateAppointment(ctx context.Context, id string, in model.AppointmentInput) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if in.ClinicianName != "" {
		a.ClinicianName = in.ClinicianName
	}
	if in.PatientName != "" {
		a.PatientName = in.PatientName
	}
	if in.StartAt != nil {
		a.StartAt = *in.StartAt
	}
	if in.EndAt != nil {
		a.EndAt = *in.EndAt
	}
	a.Status = model.StatusRescheduled
	a.SyncState = model.SyncPending
	a.SyncError = ""
	a.LastAction = string(model.ActionUpdate)
	a.UpdatedAt = time.Now().UTC()
	m.appts[id] = a
	return a, nil
}

func (m *Memory) CancelAppointment(ctx context.Context, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	a.Status = model.StatusCanceled
	a.SyncState = model.SyncPending
	a.SyncError = ""
	a.LastAction = string(model.ActionCancel)
	a.UpdatedAt = time.Now().UTC()
	m.appts[id] = a
	return a, nil
}

func (m *Memory) MarkSyncPending(ctx context.Context, id string, action model.SyncAction) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	a.SyncState = model.SyncPending
	a.SyncError = ""
	if action != "" {
		a.LastAction = string(action)
	}
	a.UpdatedAt = time.Now().UTC()
	m.appts[id] = a
	return a, nil
}

func (m *Memory) MarkInSync(ctx context.Context, id string, refs *model.PlatformRefs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return ErrNotFound
	}
	if a.SyncState != model.SyncPending {
		return ErrNotPending
	}
	a.SyncState = model.SyncInSync
	a.SyncError = ""
	if refs != nil {
		cp := *refs
		a.PlatformRefs = &cp
	}
	a.UpdatedAt = time.Now().UTC()
	m.appts[id] = a
	return nil
}

func (m *Memory) MarkSyncFailed(ctx context.Context, id string, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return ErrNotFound
	}
	if a.SyncState != model.SyncPending {
		return ErrNotPending
	}
	a.SyncState = model.SyncError
	a.SyncError = detail
	a.UpdatedAt = time.Now().UTC()
	m.appts[id] = a
	return nil
}

func (m *Memory) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Appointment{}
	for _, a := range m.appts {
		if a.SyncState == model.SyncPending && a.UpdatedAt.Before(olderThan) {
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) InsertResultRecord(ctx context.Context, rec model.ResultRecord) (model.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.results[rec.ID] = rec
	m.resIdx = append(m.resIdx, rec.ID)
	return rec, nil
}

func (m *Memory) ListResultRecords(ctx context.Context, appointmentID string, limit int) ([]model.ResultRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ResultRecord{}
	for _, id := range m.resIdx {
		r := m.results[id]
		if r.AppointmentID != appointmentID {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListUnlinkedResults(ctx context.Context, cursor string, limit int) ([]model.ResultRecord, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ResultRecord{}
	var last string
	started := cursor == ""
	for _, id := range m.resIdx {
		if !started {
			if id == cursor {
				started = true
			}
			continue
		}
		r := m.results[id]
		if !r.Unlinked {
			continue
		}
		out = append(out, r)
		last = id
		if len(out) == limit {
			break
		}
	}
	var next string
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}
