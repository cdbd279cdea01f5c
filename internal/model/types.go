package model

import "time"

// Sync lifecycle of an appointment against the device platform.
const (
	SyncPending = "pending"
	SyncInSync  = "in_sync"
	SyncError   = "error"
)

// Scheduling lifecycle. Appointments are never deleted, only transitioned.
const (
	StatusScheduled   = "scheduled"
	StatusRescheduled = "rescheduled"
	StatusCanceled    = "canceled"
	StatusCompleted   = "completed"
)

// SyncAction is an outbound platform operation driven by the sync engine.
type SyncAction string

const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionCancel SyncAction = "cancel"
)

// Appointment is a scheduled exam. ExternalID is assigned locally at
// creation and immutable; it is the key the device platform echoes back
// in result callbacks.
type Appointment struct {
	ID            string        `json:"id"`
	ExternalID    string        `json:"externalId"`
	ClinicianName string        `json:"clinicianName,omitempty"`
	PatientName   string        `json:"patientName,omitempty"`
	StartAt       time.Time     `json:"startAt"`
	EndAt         time.Time     `json:"endAt"`
	Status        string        `json:"status"`
	SyncState     string        `json:"syncState"`
	SyncError     string        `json:"syncError,omitempty"`
	LastAction    string        `json:"lastAction,omitempty"`
	PlatformRefs  *PlatformRefs `json:"platformRefs,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// PlatformRefs are the reference URLs returned by the device platform on
// a successful create/update.
type PlatformRefs struct {
	AppointmentURL string `json:"appointmentUrl,omitempty"`
	PatientURL     string `json:"patientUrl,omitempty"`
	ResultsURL     string `json:"resultsUrl,omitempty"`
}

// AppointmentInput is the create/patch payload accepted by the API.
type AppointmentInput struct {
	ClinicianName string     `json:"clinicianName,omitempty"`
	PatientName   string     `json:"patientName,omitempty"`
	StartAt       *time.Time `json:"startAt,omitempty"`
	EndAt         *time.Time `json:"endAt,omitempty"`
}

// Form is the closed enumeration of callback payload shapes.
type Form string

const (
	FormNotification Form = "notification"
	FormFullResult   Form = "full_result"
	FormHTMLWrapped  Form = "html_wrapped"
	FormRawHTML      Form = "raw_html"
	FormUnrecognized Form = "unrecognized"
)

// ContentKind tags what a stored blob holds.
const (
	ContentJSON = "json"
	ContentHTML = "html"
)

// ResultRecord is one durable summary per ingested callback delivery.
// Append-only: rows are never mutated after creation. AppointmentID is
// empty when the external identifier did not resolve to a local row;
// such records carry Unlinked for later reconciliation.
type ResultRecord struct {
	ID            string         `json:"id"`
	AppointmentID string         `json:"appointmentId,omitempty"`
	ExternalID    string         `json:"externalId,omitempty"`
	Form          Form           `json:"form"`
	ContentKind   string         `json:"contentKind"`
	BlobKey       string         `json:"blobKey"`
	Summary       map[string]any `json:"summary,omitempty"`
	Unlinked      bool           `json:"unlinked,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}
