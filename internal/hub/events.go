// SPDX-License-Identifier: MIT

// Package hub owns live viewer connections, job-scoped rooms, session
// lifecycle broadcasting and the reconnect grace keeper.
package hub

import "encoding/json"

// Events consumed from viewer connections.
const (
	EventUserIdentified    = "user_identified"
	EventStartFormFill     = "start_form_fill"
	EventPauseFormFill     = "pause_form_fill"
	EventResumeFormFill    = "resume_form_fill"
	EventStopFormFill      = "stop_form_fill"
	EventGetActiveSessions = "get_active_sessions"
)

// Events produced for viewer connections.
const (
	EventFormFillStarted  = "form_fill_started"
	EventFormFillProgress = "form_fill_progress"
	EventFormFillComplete = "form_fill_complete"
	EventFormFillError    = "form_fill_error"
	EventFormFillPaused   = "form_fill_paused"
	EventFormFillResumed  = "form_fill_resumed"
	EventFormFillStopped  = "form_fill_stopped"
	EventActiveSessions   = "active_sessions"
	EventError            = "error"
)

// Action types a viewer may start a job with.
const (
	ActionTypeSubmit = "submit"
	ActionTypeRetry  = "retry"
	ActionTypeCheck  = "check"
)

// Event is the envelope exchanged over the push channel, one JSON object
// per websocket text frame.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an outbound event, marshalling the payload. A payload
// that fails to marshal yields an envelope without one.
func NewEvent(name string, payload any) Event {
	if payload == nil {
		return Event{Name: name}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{Name: name}
	}
	return Event{Name: name, Payload: raw}
}

// IdentifyPayload binds a connection to a viewer identity.
type IdentifyPayload struct {
	UserID string `json:"userId"`
}

// StartPayload starts a form-fill job for a report. File inputs are not
// accepted here; spreadsheets and PDFs arrive through the upload endpoints,
// which confine them to the upload directory.
type StartPayload struct {
	ReportID   string `json:"reportId"`
	TabsNum    int    `json:"tabsNum,omitempty"`
	ActionType string `json:"actionType"`
	UserID     string `json:"userId,omitempty"`
}

// ControlPayload targets an in-flight job.
type ControlPayload struct {
	ReportID string `json:"reportId"`
}

// ProgressPayload mirrors a worker report into the job's room.
type ProgressPayload struct {
	Status   string          `json:"status"`
	ReportID string          `json:"reportId"`
	TaskID   string          `json:"taskId,omitempty"`
	Results  json.RawMessage `json:"results,omitempty"`
	Error    string          `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// ErrorPayload is sent to the issuing connection only.
type ErrorPayload struct {
	ReportID string `json:"reportId,omitempty"`
	Message  string `json:"message"`
}
