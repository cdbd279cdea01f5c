// Package devicelink is the HTTP client for the external exam-device
// platform: appointment create/update/cancel and result retrieval.
package devicelink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"examsync/internal/config"
	"examsync/internal/model"
)

// PlatformError carries the non-2xx response so the sync engine can
// record the failure detail verbatim.
type PlatformError struct {
	Status int
	Body   string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.Status, e.Body)
}

type Client struct {
	BaseURL     string
	Token       string
	HTTP        *http.Client
	Limiter     *rate.Limiter
	IncludeHTML bool
}

func NewClient(cfg config.Platform) *Client {
	lim := rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst)
	if cfg.RatePerSec <= 0 {
		lim = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		BaseURL:     cfg.BaseURL,
		Token:       cfg.APIToken,
		HTTP:        &http.Client{Timeout: cfg.Timeout.Std()},
		Limiter:     lim,
		IncludeHTML: cfg.IncludeHTML,
	}
}

// appointmentBody is the wire shape the platform expects for
// create/update calls. The external id is stable across replays of the
// same local row, so repeated creates reconcile rather than duplicate.
type appointmentBody struct {
	AppointmentID string `json:"appointmentId"`
	ClinicianName string `json:"clinicianName,omitempty"`
	PatientName   string `json:"patientName,omitempty"`
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
}

type refsBody struct {
	AppointmentURL string `json:"appointmentUrl"`
	PatientURL     string `json:"patientUrl"`
	ResultsURL     string `json:"resultsUrl"`
}

func (c *Client) CreateAppointment(ctx context.Context, a model.Appointment) (*model.PlatformRefs, error) {
	return c.push(ctx, http.MethodPost, "/v2/appointments", a)
}

func (c *Client) UpdateAppointment(ctx context.Context, a model.Appointment) (*model.PlatformRefs, error) {
	return c.push(ctx, http.MethodPut, "/v2/appointments/"+url.PathEscape(a.ExternalID), a)
}

func (c *Client) CancelAppointment(ctx context.Context, a model.Appointment) error {
	_, err := c.push(ctx, http.MethodDelete, "/v2/appointments/"+url.PathEscape(a.ExternalID), a)
	return err
}

func (c *Client) push(ctx context.Context, method, path string, a model.Appointment) (*model.PlatformRefs, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body := appointmentBody{
		AppointmentID: a.ExternalID,
		ClinicianName: a.ClinicianName,
		PatientName:   a.PatientName,
	}
	if !a.StartAt.IsZero() {
		body.StartDate = a.StartAt.UTC().Format(time.RFC3339)
	}
	if !a.EndAt.IsZero() {
		body.EndDate = a.EndAt.UTC().Format(time.RFC3339)
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Token", c.Token)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &PlatformError{Status: resp.StatusCode, Body: snippet(data)}
	}
	var refs refsBody
	if len(data) > 0 {
		_ = json.Unmarshal(data, &refs)
	}
	if refs.AppointmentURL == "" && refs.PatientURL == "" && refs.ResultsURL == "" {
		return nil, nil
	}
	return &model.PlatformRefs{
		AppointmentURL: refs.AppointmentURL,
		PatientURL:     refs.PatientURL,
		ResultsURL:     refs.ResultsURL,
	}, nil
}

// FetchResult pulls the full result document for an external
// appointment id. Any failure is terminal for the delivery that
// triggered it; the caller surfaces a retryable signal so the platform
// redelivers the original notification.
func (c *Client) FetchResult(ctx context.Context, externalID string) ([]byte, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.BaseURL + "/v2/results/" + url.PathEscape(externalID)
	if c.IncludeHTML {
		u += "?includeHtml=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Token", c.Token)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &PlatformError{Status: resp.StatusCode, Body: snippet(data)}
	}
	return data, nil
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func snippet(b []byte) string {
	const max = 512
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
