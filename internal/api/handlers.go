package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"examsync/internal/buildinfo"
	"examsync/internal/callback"
	"examsync/internal/model"
	"examsync/internal/store"
)

const maxCallbackBody = 10 << 20

// CallbackHandler handles POST /v1/callbacks/exam-results: one inbound
// delivery from the device platform, end to end through the pipeline.
// The response code is the redelivery contract: 2xx settles the
// delivery, 4xx means redelivery cannot help, 5xx asks for redelivery.
func (s *Server) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Unreadable body", err.Error(), r.URL.Path)
		return
	}
	out := s.Pipeline.Handle(r.Context(), r.Header, body)
	if out.Err != nil {
		status, title := deliveryStatus(out.Err)
		detail := ""
		if status >= 500 || errors.Is(out.Err, callback.ErrUnrecognized) {
			detail = out.Err.Error()
		}
		writeProblem(w, status, title, detail, r.URL.Path)
		return
	}
	if out.Record.AppointmentID != "" {
		s.Broker.Publish(out.Record.AppointmentID, "result.persisted", map[string]any{
			"recordId":   out.Record.ID,
			"externalId": out.Record.ExternalID,
			"form":       string(out.Record.Form),
			"ts":         time.Now().UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recordId": out.Record.ID,
		"form":     out.Record.Form,
		"blobKey":  out.Record.BlobKey,
		"unlinked": out.Record.Unlinked,
	})
}

// AppointmentsHandler handles POST/GET /v1/appointments
func (s *Server) AppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var in model.AppointmentInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		a, err := s.Store.CreateAppointment(r.Context(), in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create appointment failed", err.Error(), r.URL.Path)
			return
		}
		// outbound create runs synchronously; the response carries the
		// terminal sync state
		a, err = s.Engine.Drive(r.Context(), a)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Sync failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	case http.MethodGet:
		syncState := r.URL.Query().Get("syncState")
		status := r.URL.Query().Get("status")
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListAppointments(r.Context(), syncState, status, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List appointments failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// AppointmentByIDHandler handles /v1/appointments/{id} and its
// subresources: /cancel, /resync, /results, /events/stream.
func (s *Server) AppointmentByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/appointments/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]

	a, err := s.lookup(r, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Appointment not found", "", r.URL.Path)
		} else {
			writeProblem(w, http.StatusInternalServerError, "Lookup failed", err.Error(), r.URL.Path)
		}
		return
	}

	if len(parts) > 1 {
		switch strings.Join(parts[1:], "/") {
		case "cancel":
			s.cancel(w, r, a)
		case "resync":
			s.resync(w, r, a)
		case "results":
			s.results(w, r, a)
		case "events/stream":
			s.eventsStream(w, r, a)
		default:
			writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a)
	case http.MethodPatch:
		var in model.AppointmentInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		upd, err := s.Store.UpdateAppointment(r.Context(), a.ID, in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Update appointment failed", err.Error(), r.URL.Path)
			return
		}
		upd, err = s.Engine.Drive(r.Context(), upd)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Sync failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, upd)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// lookup resolves an appointment by local id first, then external id.
func (s *Server) lookup(r *http.Request, id string) (model.Appointment, error) {
	a, err := s.Store.GetAppointment(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return s.Store.GetAppointmentByExternalID(r.Context(), id)
	}
	return a, err
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request, a model.Appointment) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	upd, err := s.Store.CancelAppointment(r.Context(), a.ID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Cancel failed", err.Error(), r.URL.Path)
		return
	}
	upd, err = s.Engine.Drive(r.Context(), upd)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Sync failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

// resync is the operator re-touch path: re-enter pending and replay the
// last outbound action against the platform.
func (s *Server) resync(w http.ResponseWriter, r *http.Request, a model.Appointment) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	upd, err := s.Engine.Apply(r.Context(), a.ID, model.SyncAction(a.LastAction))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Resync failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

func (s *Server) results(w http.ResponseWriter, r *http.Request, a model.Appointment) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, err := s.Store.ListResultRecords(r.Context(), a.ID, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List results failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// eventsStream serves SSE of sync/ingest events for one appointment.
func (s *Server) eventsStream(w http.ResponseWriter, r *http.Request, a model.Appointment) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(a.ID)
	defer s.Broker.Unsubscribe(a.ID, ch)
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"appointmentId\":\"%s\",\"ts\":\"%s\"}\n\n", a.ID, time.Now().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// UnlinkedResultsHandler handles GET /v1/admin/results/unlinked: the
// reconciliation feed of result records whose external identifier did
// not resolve to an appointment at ingestion time.
func (s *Server) UnlinkedResultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/results/unlinked" || r.Method != http.MethodGet {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListUnlinkedResults(r.Context(), cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List unlinked failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
