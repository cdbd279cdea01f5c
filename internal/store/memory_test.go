package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examsync/internal/model"
)

func mustCreate(t *testing.T, m *Memory) model.Appointment {
	t.Helper()
	start := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	a, err := m.CreateAppointment(context.Background(), model.AppointmentInput{
		ClinicianName: "Dr. Osei",
		PatientName:   "Sam",
		StartAt:       &start,
		EndAt:         &end,
	})
	require.NoError(t, err)
	return a
}

func TestCreateStartsPending(t *testing.T) {
	m := NewMemory()
	a := mustCreate(t, m)
	assert.Equal(t, model.SyncPending, a.SyncState)
	assert.Equal(t, model.StatusScheduled, a.Status)
	assert.Equal(t, string(model.ActionCreate), a.LastAction)
	assert.NotEmpty(t, a.ExternalID)

	byExt, err := m.GetAppointmentByExternalID(context.Background(), a.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byExt.ID)
}

func TestSyncTransitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := mustCreate(t, m)

	refs := &model.PlatformRefs{AppointmentURL: "https://platform/appt/1"}
	require.NoError(t, m.MarkInSync(ctx, a.ID, refs))
	got, err := m.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncInSync, got.SyncState)
	require.NotNil(t, got.PlatformRefs)
	assert.Equal(t, refs.AppointmentURL, got.PlatformRefs.AppointmentURL)

	// outcomes only apply to pending rows
	assert.ErrorIs(t, m.MarkInSync(ctx, a.ID, nil), ErrNotPending)
	assert.ErrorIs(t, m.MarkSyncFailed(ctx, a.ID, "late failure"), ErrNotPending)

	// any state may re-enter pending
	_, err = m.MarkSyncPending(ctx, a.ID, model.ActionUpdate)
	require.NoError(t, err)
	require.NoError(t, m.MarkSyncFailed(ctx, a.ID, "401 from platform"))
	got, err = m.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncError, got.SyncState)
	assert.Equal(t, "401 from platform", got.SyncError)

	// error rows sit still until explicitly re-marked
	assert.ErrorIs(t, m.MarkInSync(ctx, a.ID, nil), ErrNotPending)
	_, err = m.MarkSyncPending(ctx, a.ID, "")
	require.NoError(t, err)
	got, _ = m.GetAppointment(ctx, a.ID)
	assert.Equal(t, model.SyncPending, got.SyncState)
	assert.Empty(t, got.SyncError)
	assert.Equal(t, string(model.ActionUpdate), got.LastAction, "empty action keeps the previous one")
}

func TestTransitionsOnMissingRow(t *testing.T) {
	m := NewMemory()
	assert.ErrorIs(t, m.MarkInSync(context.Background(), "nope", nil), ErrNotFound)
	assert.ErrorIs(t, m.MarkSyncFailed(context.Background(), "nope", "x"), ErrNotFound)
	_, err := m.MarkSyncPending(context.Background(), "nope", model.ActionCreate)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateReentersPending(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := mustCreate(t, m)
	require.NoError(t, m.MarkInSync(ctx, a.ID, nil))

	newStart := time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)
	got, err := m.UpdateAppointment(ctx, a.ID, model.AppointmentInput{StartAt: &newStart})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRescheduled, got.Status)
	assert.Equal(t, model.SyncPending, got.SyncState)
	assert.Equal(t, string(model.ActionUpdate), got.LastAction)
	assert.Equal(t, newStart, got.StartAt)
	assert.Equal(t, "Dr. Osei", got.ClinicianName, "unset fields keep prior values")
	assert.Equal(t, a.ExternalID, got.ExternalID, "external id is immutable")
}

func TestCancelReentersPending(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := mustCreate(t, m)
	require.NoError(t, m.MarkInSync(ctx, a.ID, nil))

	got, err := m.CancelAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, got.Status)
	assert.Equal(t, model.SyncPending, got.SyncState)
	assert.Equal(t, string(model.ActionCancel), got.LastAction)
}

func TestListAppointmentsFilterAndCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 5; i++ {
		mustCreate(t, m)
	}
	a := mustCreate(t, m)
	require.NoError(t, m.MarkInSync(ctx, a.ID, nil))

	pending, _, err := m.ListAppointments(ctx, model.SyncPending, "", "", 100)
	require.NoError(t, err)
	assert.Len(t, pending, 5)

	inSync, _, err := m.ListAppointments(ctx, model.SyncInSync, "", "", 100)
	require.NoError(t, err)
	require.Len(t, inSync, 1)
	assert.Equal(t, a.ID, inSync[0].ID)

	var seen []string
	cursor := ""
	for {
		page, next, err := m.ListAppointments(ctx, "", "", cursor, 2)
		require.NoError(t, err)
		for _, p := range page {
			seen = append(seen, p.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Len(t, seen, 6)
}

func TestListStalePending(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := mustCreate(t, m)
	b := mustCreate(t, m)
	require.NoError(t, m.MarkInSync(ctx, b.ID, nil))

	stale, err := m.ListStalePending(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, a.ID, stale[0].ID)

	stale, err = m.ListStalePending(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestResultRecordsAndUnlinkedFeed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := mustCreate(t, m)

	linked, err := m.InsertResultRecord(ctx, model.ResultRecord{AppointmentID: a.ID, ExternalID: a.ExternalID, Form: model.FormFullResult, ContentKind: model.ContentJSON, BlobKey: "k1"})
	require.NoError(t, err)
	assert.NotEmpty(t, linked.ID)
	assert.False(t, linked.CreatedAt.IsZero())

	for i := 0; i < 3; i++ {
		_, err := m.InsertResultRecord(ctx, model.ResultRecord{ExternalID: "ghost", Form: model.FormRawHTML, ContentKind: model.ContentHTML, BlobKey: "k", Unlinked: true})
		require.NoError(t, err)
	}

	recs, err := m.ListResultRecords(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, linked.ID, recs[0].ID)

	var unlinked []model.ResultRecord
	cursor := ""
	for {
		page, next, err := m.ListUnlinkedResults(ctx, cursor, 2)
		require.NoError(t, err)
		unlinked = append(unlinked, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Len(t, unlinked, 3)
}
