package callback

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examsync/internal/blob"
	"examsync/internal/config"
	"examsync/internal/model"
	"examsync/internal/sink"
	"examsync/internal/store"
)

type fetcherFunc func(ctx context.Context, externalID string) ([]byte, error)

func (f fetcherFunc) FetchResult(ctx context.Context, externalID string) ([]byte, error) {
	return f(ctx, externalID)
}

type pipelineEnv struct {
	pipe  *Pipeline
	blobs *blob.Memory
	store *store.Memory
}

func newPipelineEnv(t *testing.T, fetch fetcherFunc) *pipelineEnv {
	t.Helper()
	blobs := blob.NewMemory()
	st := store.NewMemory()
	if fetch == nil {
		fetch = func(ctx context.Context, externalID string) ([]byte, error) {
			return nil, fmt.Errorf("unexpected fetch for %s", externalID)
		}
	}
	return &pipelineEnv{
		pipe: NewPipeline(
			NewValidator(config.CallbackAuth{Scheme: "bearer", Token: "tok"}),
			fetch,
			sink.New(blobs, st, time.Second),
		),
		blobs: blobs,
		store: st,
	}
}

func (e *pipelineEnv) createAppointment(t *testing.T) model.Appointment {
	t.Helper()
	a, err := e.store.CreateAppointment(context.Background(), model.AppointmentInput{ClinicianName: "Dr. Lee"})
	require.NoError(t, err)
	return a
}

func TestPipelineRejectsBadCredential(t *testing.T) {
	env := newPipelineEnv(t, nil)
	out := env.pipe.Handle(context.Background(), headers("Authorization", "wrong"), []byte(`{"appointmentId":"A1"}`))
	assert.Equal(t, StateRejected, out.State)
	assert.ErrorIs(t, out.Err, ErrAuthRejected)
	assert.Equal(t, 0, env.blobs.Len())
}

func TestPipelineRejectsUnrecognized(t *testing.T) {
	env := newPipelineEnv(t, nil)
	out := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), []byte(`{"ping":true}`))
	assert.Equal(t, StateRejected, out.State)
	assert.ErrorIs(t, out.Err, ErrUnrecognized)
	assert.Equal(t, 0, env.blobs.Len())
}

func TestPipelineNotificationFetchesAndPersists(t *testing.T) {
	fetched := []byte(`{"appointmentId":"", "readings":[{"spo2":98}]}`)
	env := newPipelineEnv(t, func(ctx context.Context, externalID string) ([]byte, error) {
		return fetched, nil
	})
	a := env.createAppointment(t)

	body := []byte(`{"appointmentId":"` + a.ExternalID + `","status":"completed"}`)
	out := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), body)
	require.Equal(t, StatePersisted, out.State)
	require.NoError(t, out.Err)

	// the pulled document is what gets persisted, as a full result
	assert.Equal(t, model.FormFullResult, out.Record.Form)
	assert.Equal(t, a.ID, out.Record.AppointmentID)
	assert.False(t, out.Record.Unlinked)
	stored, err := env.blobs.Get(context.Background(), out.Record.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, fetched, stored)
}

func TestPipelineFullResultSkipsFetch(t *testing.T) {
	env := newPipelineEnv(t, func(ctx context.Context, externalID string) ([]byte, error) {
		t.Fatal("full result must not trigger a fetch")
		return nil, nil
	})
	a := env.createAppointment(t)

	body := []byte(`{"appointmentId":"` + a.ExternalID + `","readings":[{"v":1}]}`)
	out := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), body)
	require.Equal(t, StatePersisted, out.State)
	assert.Equal(t, model.FormFullResult, out.Record.Form)
	assert.Equal(t, model.ContentJSON, out.Record.ContentKind)

	// persisted verbatim
	stored, err := env.blobs.Get(context.Background(), out.Record.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, body, stored)
}

func TestPipelineHTMLWrapped(t *testing.T) {
	env := newPipelineEnv(t, nil)
	a := env.createAppointment(t)

	html := "<html><body>trace</body></html>"
	body := []byte(`{"appointmentId":"` + a.ExternalID + `","htmlDocument":"` + html + `"}`)
	out := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), body)
	require.Equal(t, StatePersisted, out.State)
	assert.Equal(t, model.FormHTMLWrapped, out.Record.Form)
	assert.Equal(t, model.ContentHTML, out.Record.ContentKind)
	assert.Equal(t, true, out.Record.Summary["htmlContent"])
	assert.Equal(t, len(html), out.Record.Summary["htmlSize"])
}

func TestPipelineRawHTMLPersistsUnlinked(t *testing.T) {
	env := newPipelineEnv(t, nil)
	out := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), []byte("<html>report</html>"))
	require.Equal(t, StatePersisted, out.State)
	assert.Equal(t, model.FormRawHTML, out.Record.Form)
	assert.True(t, out.Record.Unlinked)
	assert.Empty(t, out.Record.AppointmentID)
}

func TestPipelineUnknownExternalIDPersistsUnlinked(t *testing.T) {
	env := newPipelineEnv(t, nil)
	body := []byte(`{"appointmentId":"ghost-42","readings":[]}`)
	out := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), body)
	require.Equal(t, StatePersisted, out.State)
	assert.True(t, out.Record.Unlinked)
	assert.Equal(t, "ghost-42", out.Record.ExternalID)

	recs, _, err := env.store.ListUnlinkedResults(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, out.Record.ID, recs[0].ID)
}

func TestPipelineFetchFailure(t *testing.T) {
	env := newPipelineEnv(t, func(ctx context.Context, externalID string) ([]byte, error) {
		return nil, errors.New("upstream 503")
	})
	out := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), []byte(`{"appointmentId":"A1"}`))
	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrFetchFailed)
	assert.NotErrorIs(t, out.Err, ErrTimeout)
	assert.Equal(t, 0, env.blobs.Len())
}

func TestPipelineFetchTimeout(t *testing.T) {
	env := newPipelineEnv(t, func(ctx context.Context, externalID string) ([]byte, error) {
		return nil, context.DeadlineExceeded
	})
	out := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), []byte(`{"appointmentId":"A1"}`))
	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrFetchFailed)
	assert.ErrorIs(t, out.Err, ErrTimeout)
}

func TestPipelineBlobFailure(t *testing.T) {
	env := newPipelineEnv(t, nil)
	env.blobs.FailPuts(errors.New("disk full"))
	out := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), []byte(`{"appointmentId":"A1","readings":[]}`))
	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrStorageWrite)

	// no record row may exist for a blob that never landed
	recs, _, err := env.store.ListUnlinkedResults(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// Redelivery of the same payload appends a second record with its own
// blob key; deliveries are never deduplicated.
func TestPipelineRedeliveryAppends(t *testing.T) {
	env := newPipelineEnv(t, nil)
	a := env.createAppointment(t)
	body := []byte(`{"appointmentId":"` + a.ExternalID + `","readings":[{"v":1}]}`)

	first := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), body)
	require.Equal(t, StatePersisted, first.State)
	time.Sleep(time.Millisecond)
	second := env.pipe.Handle(context.Background(), headers("Authorization", "Bearer tok"), body)
	require.Equal(t, StatePersisted, second.State)

	assert.NotEqual(t, first.Record.ID, second.Record.ID)
	assert.NotEqual(t, first.Record.BlobKey, second.Record.BlobKey)
	assert.Equal(t, 2, env.blobs.Len())

	recs, err := env.store.ListResultRecords(context.Background(), a.ID, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}
