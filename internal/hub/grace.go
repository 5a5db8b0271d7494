// SPDX-License-Identifier: MIT

package hub

import (
	"context"
	"time"

	"github.com/frontlogic/taqbridge/internal/log"
	"github.com/frontlogic/taqbridge/internal/metrics"
	"github.com/frontlogic/taqbridge/internal/worker"
)

// pendingCleanup is one armed grace timer for a disconnected viewer.
type pendingCleanup struct {
	timer          *time.Timer
	disconnectedAt time.Time
	lastConnID     string
}

// armCleanup schedules identity cleanup after the grace period. A viewer
// reconnecting in time cancels it via identify.
func (h *Hub) armCleanup(userID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if old := h.pending[userID]; old != nil {
		old.timer.Stop()
	}
	p := &pendingCleanup{
		disconnectedAt: time.Now(),
		lastConnID:     connID,
	}
	p.timer = time.AfterFunc(h.grace, func() { h.expireCleanup(userID) })
	h.pending[userID] = p
	h.logger.Info().
		Str(log.FieldViewerID, userID).
		Dur("grace", h.grace).
		Msg("reconnect grace timer armed")
}

// cancelCleanupLocked disarms a pending timer and reports whether one was
// armed. Callers hold the hub mutex.
func (h *Hub) cancelCleanupLocked(userID string) bool {
	p := h.pending[userID]
	if p == nil {
		return false
	}
	p.timer.Stop()
	delete(h.pending, userID)
	return true
}

func (h *Hub) expireCleanup(userID string) {
	h.mu.Lock()
	if _, armed := h.pending[userID]; !armed {
		h.mu.Unlock()
		return
	}
	delete(h.pending, userID)
	// The timer may fire while a reconnect is mid-identify; a live
	// connection for the identity wins.
	for _, c := range h.conns {
		if c.userID == userID {
			h.mu.Unlock()
			return
		}
	}
	ended := h.endViewerSessionsLocked(userID)
	h.mu.Unlock()

	metrics.GraceTimersTotal.WithLabelValues("expired").Inc()
	h.logger.Info().
		Str(log.FieldViewerID, userID).
		Int("sessions", len(ended)).
		Msg("grace expired, closing viewer work")
	h.closeViewer(userID, ended)
}

// cleanupIdentity handles a deliberate close: no grace, immediate teardown.
func (h *Hub) cleanupIdentity(userID string) {
	h.mu.Lock()
	h.cancelCleanupLocked(userID)
	ended := h.endViewerSessionsLocked(userID)
	h.mu.Unlock()
	h.closeViewer(userID, ended)
}

// endViewerSessionsLocked tears down the viewer's live sessions without
// emitting room events; the relays stop on the done channel. Callers hold
// the hub mutex.
func (h *Hub) endViewerSessionsLocked(userID string) []*Session {
	var ended []*Session
	for reportID, sess := range h.sessions {
		if sess.ViewerID != userID || sess.ended {
			continue
		}
		sess.ended = true
		sess.state = StateStopped
		close(sess.done)
		delete(h.sessions, reportID)
		metrics.ActiveSessions.Dec()
		ended = append(ended, sess)
	}
	return ended
}

// closeViewer tells the worker to release the identity's browser state,
// exactly once per cleanup, and records the abandoned runs.
func (h *Hub) closeViewer(userID string, ended []*Session) {
	h.cmd.SendClose(userID)
	if h.runs == nil {
		return
	}
	for _, sess := range ended {
		if err := h.runs.RecordOutcome(context.Background(), sess.ReportID, worker.StatusClosed, "viewer disconnected"); err != nil {
			h.logger.Warn().Err(err).Str(log.FieldReportID, sess.ReportID).Msg("run outcome not recorded")
		}
	}
}
