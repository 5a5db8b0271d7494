// SPDX-License-Identifier: MIT

package hub

import (
	"time"
)

// SessionState is the lifecycle state of one form-fill job.
type SessionState string

const (
	StateRunning SessionState = "RUNNING"
	StatePaused  SessionState = "PAUSED"
	StateStopped SessionState = "STOPPED"
	StateSuccess SessionState = "SUCCESS"
	StateFailed  SessionState = "FAILED"
)

// terminal states absorb every further transition.
func (s SessionState) terminal() bool {
	switch s {
	case StateStopped, StateSuccess, StateFailed:
		return true
	}
	return false
}

// validTransitions encodes RUNNING<->PAUSED, RUNNING|PAUSED->STOPPED and
// RUNNING->SUCCESS|FAILED.
var validTransitions = map[SessionState][]SessionState{
	StateRunning: {StatePaused, StateStopped, StateSuccess, StateFailed},
	StatePaused:  {StateRunning, StateStopped},
}

// Session is one live form-fill job bound to a report room.
type Session struct {
	ReportID   string
	ActionType string
	ViewerID   string
	StartedAt  time.Time

	state SessionState
	ended bool
	done  chan struct{}
}

func newSession(reportID, actionType, viewerID string) *Session {
	return &Session{
		ReportID:   reportID,
		ActionType: actionType,
		ViewerID:   viewerID,
		StartedAt:  time.Now(),
		state:      StateRunning,
		done:       make(chan struct{}),
	}
}

// transition applies a state change if the machine allows it and reports
// whether anything changed. Callers hold the hub mutex.
func (s *Session) transition(to SessionState) bool {
	if s.state == to || s.state.terminal() {
		return false
	}
	for _, next := range validTransitions[s.state] {
		if next == to {
			s.state = to
			return true
		}
	}
	return false
}

// room is the broadcast scope for this session's job.
func (s *Session) room() string {
	return roomForReport(s.ReportID)
}

func roomForReport(reportID string) string {
	return "report_" + reportID
}

// SessionInfo is a read-only snapshot for diagnostics.
type SessionInfo struct {
	ReportID   string    `json:"reportId"`
	ActionType string    `json:"actionType"`
	ViewerID   string    `json:"viewerId,omitempty"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"startedAt"`
}

func (s *Session) snapshot() SessionInfo {
	return SessionInfo{
		ReportID:   s.ReportID,
		ActionType: s.ActionType,
		ViewerID:   s.ViewerID,
		State:      string(s.state),
		StartedAt:  s.StartedAt,
	}
}
