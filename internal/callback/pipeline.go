package callback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"examsync/internal/devicelink"
	"examsync/internal/metrics"
	"examsync/internal/model"
	"examsync/internal/sink"
)

// Terminal states of one delivery.
const (
	StatePersisted = "persisted"
	StateRejected  = "rejected"
	StateFailed    = "failed"
)

// Fetcher pulls the full result document when a delivery carried only
// a notification.
type Fetcher interface {
	FetchResult(ctx context.Context, externalID string) ([]byte, error)
}

// Outcome is the terminal result of running one delivery through the
// pipeline. Err is nil iff State is StatePersisted.
type Outcome struct {
	State      string
	Form       model.Form
	ExternalID string
	Record     model.ResultRecord
	Err        error
}

type Pipeline struct {
	Auth    *Validator
	Fetcher Fetcher
	Sink    *sink.Sink
}

func NewPipeline(auth *Validator, fetcher Fetcher, sk *sink.Sink) *Pipeline {
	return &Pipeline{Auth: auth, Fetcher: fetcher, Sink: sk}
}

// Handle drives one delivery through
// received → authenticated → classified → (fetched) → persisted,
// or to the rejected/failed terminals.
func (p *Pipeline) Handle(ctx context.Context, headers http.Header, body []byte) Outcome {
	start := time.Now()
	out := p.run(ctx, headers, body)
	metrics.CallbackDeliveries.WithLabelValues(string(out.Form), out.State).Inc()
	metrics.CallbackDuration.WithLabelValues(out.State).Observe(time.Since(start).Seconds())
	if out.Err != nil {
		log.Printf("callback: delivery id=%q form=%s state=%s bytes=%d err=%v", out.ExternalID, out.Form, out.State, len(body), out.Err)
	}
	return out
}

func (p *Pipeline) run(ctx context.Context, headers http.Header, body []byte) Outcome {
	if !p.Auth.Accept(headers) {
		// terminal before any body processing
		return Outcome{State: StateRejected, Err: ErrAuthRejected}
	}

	c := Classify(body)
	out := Outcome{Form: c.Form, ExternalID: c.ExternalID}

	raw := body
	form := c.Form
	switch c.Form {
	case model.FormUnrecognized:
		out.State = StateRejected
		out.Err = fmt.Errorf("%w: structured document matched no known form", ErrUnrecognized)
		return out
	case model.FormNotification:
		fetched, err := p.Fetcher.FetchResult(ctx, c.ExternalID)
		if err != nil {
			out.State = StateFailed
			if devicelink.IsTimeout(err) {
				out.Err = fmt.Errorf("%w: %w: %w", ErrFetchFailed, ErrTimeout, err)
			} else {
				out.Err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
			}
			return out
		}
		// the pulled document proceeds as a full result
		raw = fetched
		form = model.FormFullResult
		fc := Classify(fetched)
		if fc.ExternalID != "" && c.ExternalID == "" {
			out.ExternalID = fc.ExternalID
		}
		c = fc
	}

	summary, kind := Summarize(c, raw)
	rec, err := p.Sink.Persist(ctx, out.ExternalID, raw, form, kind, summary)
	if err != nil {
		out.State = StateFailed
		switch {
		case errors.Is(err, sink.ErrBlobWrite):
			out.Err = fmt.Errorf("%w: %w", ErrStorageWrite, err)
		default:
			out.Err = fmt.Errorf("%w: %w", ErrRecordWrite, err)
		}
		return out
	}
	out.Record = rec
	out.State = StatePersisted
	return out
}
