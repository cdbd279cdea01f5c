// Package sink performs stream-first persistence of exam-result
// payloads: the raw bytes reach blob storage and are acknowledged
// before any record row referencing them is created.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"examsync/internal/blob"
	"examsync/internal/model"
	"examsync/internal/store"
)

var (
	ErrBlobWrite   = errors.New("sink: blob write failed")
	ErrRecordWrite = errors.New("sink: record write failed")
)

type Sink struct {
	Blobs   blob.Store
	Records store.Store
	Timeout time.Duration

	now func() time.Time // test hook
}

func New(blobs blob.Store, records store.Store, timeout time.Duration) *Sink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sink{Blobs: blobs, Records: records, Timeout: timeout, now: time.Now}
}

// Persist writes the blob, resolves the appointment linkage, and
// appends a Result Record. A failed blob write creates no row and is
// safe to retry (retries mint a new key). A failed row write after a
// successful blob write leaves an orphaned blob behind rather than
// losing data. An unresolved linkage never blocks persistence; the
// record is flagged for reconciliation instead.
//
// Writes run on a context detached from the caller's cancellation:
// once a delivery is in flight, a client disconnect must not strand a
// half-written blob without its record row.
func (s *Sink) Persist(ctx context.Context, externalID string, raw []byte, form model.Form, contentKind string, summary map[string]any) (model.ResultRecord, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Timeout)
	defer cancel()

	key := blob.Key(externalID, contentKind, s.now())
	if err := s.Blobs.Put(wctx, key, raw); err != nil {
		return model.ResultRecord{}, fmt.Errorf("%w: %w", ErrBlobWrite, err)
	}

	rec := model.ResultRecord{
		ExternalID:  externalID,
		Form:        form,
		ContentKind: contentKind,
		BlobKey:     key,
		Summary:     summary,
	}
	if externalID != "" {
		appt, err := s.Records.GetAppointmentByExternalID(wctx, externalID)
		switch {
		case err == nil:
			rec.AppointmentID = appt.ID
		case errors.Is(err, store.ErrNotFound):
			rec.Unlinked = true
			log.Printf("sink: no appointment for external id %s; persisting unlinked (%d bytes)", externalID, len(raw))
		default:
			// lookup error is a record-store failure; the blob stays
			return model.ResultRecord{}, fmt.Errorf("%w: linkage lookup: %w", ErrRecordWrite, err)
		}
	} else {
		rec.Unlinked = true
	}

	out, err := s.Records.InsertResultRecord(wctx, rec)
	if err != nil {
		return model.ResultRecord{}, fmt.Errorf("%w: %w", ErrRecordWrite, err)
	}
	return out, nil
}
