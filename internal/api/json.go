package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"examsync/internal/callback"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// deliveryStatus maps a terminal pipeline error to the response code
// contract the platform uses to decide on redelivery.
func deliveryStatus(err error) (int, string) {
	switch {
	case errors.Is(err, callback.ErrAuthRejected):
		return http.StatusUnauthorized, "Unauthenticated delivery"
	case errors.Is(err, callback.ErrUnrecognized):
		return http.StatusBadRequest, "Unrecognized payload"
	case errors.Is(err, callback.ErrFetchFailed):
		return http.StatusBadGateway, "Result fetch failed"
	default:
		return http.StatusInternalServerError, "Persistence failed"
	}
}
