package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examsync/internal/blob"
	"examsync/internal/model"
	"examsync/internal/store"
)

type failingInsertStore struct {
	*store.Memory
	insertErr error
}

func (f *failingInsertStore) InsertResultRecord(ctx context.Context, rec model.ResultRecord) (model.ResultRecord, error) {
	if f.insertErr != nil {
		return model.ResultRecord{}, f.insertErr
	}
	return f.Memory.InsertResultRecord(ctx, rec)
}

func TestPersistLinksAppointment(t *testing.T) {
	blobs := blob.NewMemory()
	st := store.NewMemory()
	a, err := st.CreateAppointment(context.Background(), model.AppointmentInput{PatientName: "Kim"})
	require.NoError(t, err)

	s := New(blobs, st, time.Second)
	raw := []byte(`{"readings":[]}`)
	rec, err := s.Persist(context.Background(), a.ExternalID, raw, model.FormFullResult, model.ContentJSON, map[string]any{"readings": []any{}})
	require.NoError(t, err)
	assert.Equal(t, a.ID, rec.AppointmentID)
	assert.False(t, rec.Unlinked)
	assert.NotEmpty(t, rec.ID)

	got, err := blobs.Get(context.Background(), rec.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestPersistBlobBeforeRecord(t *testing.T) {
	blobs := blob.NewMemory()
	blobs.FailPuts(errors.New("volume offline"))
	st := store.NewMemory()
	s := New(blobs, st, time.Second)

	_, err := s.Persist(context.Background(), "E1", []byte("x"), model.FormFullResult, model.ContentJSON, nil)
	require.ErrorIs(t, err, ErrBlobWrite)

	// a failed blob write must leave no record behind
	recs, _, err := st.ListUnlinkedResults(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPersistRecordFailureKeepsBlob(t *testing.T) {
	blobs := blob.NewMemory()
	st := &failingInsertStore{Memory: store.NewMemory(), insertErr: errors.New("row rejected")}
	s := New(blobs, st, time.Second)

	_, err := s.Persist(context.Background(), "E1", []byte("x"), model.FormFullResult, model.ContentJSON, nil)
	require.ErrorIs(t, err, ErrRecordWrite)
	assert.Equal(t, 1, blobs.Len())
}

func TestPersistUnresolvedLinkage(t *testing.T) {
	s := New(blob.NewMemory(), store.NewMemory(), time.Second)
	rec, err := s.Persist(context.Background(), "no-such-exam", []byte("x"), model.FormFullResult, model.ContentJSON, nil)
	require.NoError(t, err)
	assert.True(t, rec.Unlinked)
	assert.Empty(t, rec.AppointmentID)
	assert.Equal(t, "no-such-exam", rec.ExternalID)
}

func TestPersistEmptyExternalID(t *testing.T) {
	s := New(blob.NewMemory(), store.NewMemory(), time.Second)
	rec, err := s.Persist(context.Background(), "", []byte("<html/>"), model.FormRawHTML, model.ContentHTML, nil)
	require.NoError(t, err)
	assert.True(t, rec.Unlinked)
	assert.Contains(t, rec.BlobKey, "unresolved/")
}

// An in-flight write keeps going after the caller's context is
// canceled; only the sink's own timeout bounds it.
func TestPersistSurvivesCallerCancel(t *testing.T) {
	blobs := blob.NewMemory()
	s := New(blobs, store.NewMemory(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := s.Persist(ctx, "E1", []byte("x"), model.FormFullResult, model.ContentJSON, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, blobs.Len())
	assert.NotEmpty(t, rec.BlobKey)
}

func TestPersistKeyUsesClock(t *testing.T) {
	blobs := blob.NewMemory()
	s := New(blobs, store.NewMemory(), time.Second)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	rec, err := s.Persist(context.Background(), "E9", []byte("x"), model.FormFullResult, model.ContentJSON, nil)
	require.NoError(t, err)
	assert.Equal(t, blob.Key("E9", model.ContentJSON, at), rec.BlobKey)
}
