// SPDX-License-Identifier: MIT

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/frontlogic/taqbridge/internal/log"
	"github.com/frontlogic/taqbridge/internal/metrics"
	"github.com/frontlogic/taqbridge/internal/store"
	"github.com/frontlogic/taqbridge/internal/worker"
)

// ErrNoActiveSession is reported to the issuing connection when a control
// event targets a report without a live session.
var ErrNoActiveSession = errors.New("no active session for report")

const sendBuffer = 32

// Commander is the orchestration surface the hub drives. *bridge.Supervisor
// satisfies it.
type Commander interface {
	SendCommand(ctx context.Context, cmd worker.Command) (worker.Message, error)
	SendClose(userID string)
	Subscribe(reportID string) (<-chan worker.Message, func())
}

// Conn is one live push-channel connection. The transport drains Send; all
// other fields are guarded by the hub mutex.
type Conn struct {
	ID   string
	Send chan Event

	userID string
	rooms  map[string]struct{}
	closed bool
}

// Hub tracks connections, report rooms and live sessions.
type Hub struct {
	cmd    Commander
	runs   store.RunStore
	grace  time.Duration
	logger zerolog.Logger

	mu       sync.Mutex
	conns    map[string]*Conn
	rooms    map[string]map[string]*Conn
	sessions map[string]*Session
	pending  map[string]*pendingCleanup
	closed   bool
}

// New builds a hub around the given commander. runs may be nil when run
// history is disabled.
func New(cmd Commander, runs store.RunStore, grace time.Duration) *Hub {
	return &Hub{
		cmd:      cmd,
		runs:     runs,
		grace:    grace,
		logger:   log.WithComponent("hub"),
		conns:    make(map[string]*Conn),
		rooms:    make(map[string]map[string]*Conn),
		sessions: make(map[string]*Session),
		pending:  make(map[string]*pendingCleanup),
	}
}

// Register admits a new connection and returns its handle.
func (h *Hub) Register() *Conn {
	c := &Conn{
		ID:    uuid.NewString(),
		Send:  make(chan Event, sendBuffer),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	metrics.ConnectedViewers.Inc()
	h.logger.Debug().Str(log.FieldConnectionID, c.ID).Msg("connection registered")
	return c
}

// Disconnect removes the connection. A deliberate close of an identified
// viewer cleans its sessions up immediately; an abrupt one arms the
// reconnect grace timer. Anonymous connections only lose room membership.
func (h *Hub) Disconnect(c *Conn, deliberate bool) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	close(c.Send)
	delete(h.conns, c.ID)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	userID := c.userID
	otherLive := false
	if userID != "" {
		for _, other := range h.conns {
			if other.userID == userID {
				otherLive = true
				break
			}
		}
	}
	h.mu.Unlock()

	metrics.ConnectedViewers.Dec()
	h.logger.Debug().
		Str(log.FieldConnectionID, c.ID).
		Str(log.FieldViewerID, userID).
		Bool("deliberate", deliberate).
		Msg("connection gone")

	if userID == "" || otherLive {
		return
	}
	if deliberate {
		h.cleanupIdentity(userID)
		return
	}
	h.armCleanup(userID, c.ID)
}

// HandleEvent dispatches one inbound event from a connection.
func (h *Hub) HandleEvent(c *Conn, ev Event) {
	switch ev.Name {
	case EventUserIdentified:
		var p IdentifyPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.UserID == "" {
			h.deliver(c, NewEvent(EventError, ErrorPayload{Message: "user_identified requires userId"}))
			return
		}
		h.identify(c, p.UserID)
	case EventStartFormFill:
		var p StartPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			h.deliver(c, NewEvent(EventError, ErrorPayload{Message: "malformed start_form_fill payload"}))
			return
		}
		h.startJob(c, p)
	case EventPauseFormFill:
		h.control(c, worker.ActionPause, ev.Payload)
	case EventResumeFormFill:
		h.control(c, worker.ActionResume, ev.Payload)
	case EventStopFormFill:
		h.control(c, worker.ActionStop, ev.Payload)
	case EventGetActiveSessions:
		h.deliver(c, NewEvent(EventActiveSessions, h.ListActive()))
	default:
		h.deliver(c, NewEvent(EventError, ErrorPayload{Message: "unknown event: " + ev.Name}))
	}
}

// ListActive snapshots the live sessions for diagnostics.
func (h *Hub) ListActive() []SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, sess := range h.sessions {
		out = append(out, sess.snapshot())
	}
	return out
}

// Shutdown stops grace timers and relay goroutines. Connections are closed;
// no further events are emitted.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for userID, p := range h.pending {
		p.timer.Stop()
		delete(h.pending, userID)
	}
	for reportID, sess := range h.sessions {
		sess.ended = true
		close(sess.done)
		delete(h.sessions, reportID)
		metrics.ActiveSessions.Dec()
	}
	for id, c := range h.conns {
		c.closed = true
		close(c.Send)
		delete(h.conns, id)
		metrics.ConnectedViewers.Dec()
	}
}

func (h *Hub) identify(c *Conn, userID string) {
	h.mu.Lock()
	if c.closed || h.closed {
		h.mu.Unlock()
		return
	}
	c.userID = userID
	canceled := h.cancelCleanupLocked(userID)
	for _, sess := range h.sessions {
		if sess.ViewerID == userID {
			h.joinLocked(c, sess.room())
		}
	}
	h.mu.Unlock()

	if canceled {
		metrics.GraceTimersTotal.WithLabelValues("canceled").Inc()
	}
	h.logger.Info().
		Str(log.FieldConnectionID, c.ID).
		Str(log.FieldViewerID, userID).
		Bool("reconnect", canceled).
		Msg("viewer identified")
}

func (h *Hub) startJob(c *Conn, p StartPayload) {
	if p.ReportID == "" {
		h.deliver(c, NewEvent(EventError, ErrorPayload{Message: "start_form_fill requires reportId"}))
		return
	}
	actionType := p.ActionType
	if actionType == "" {
		actionType = ActionTypeSubmit
	}
	action, ok := actionForType(actionType)
	if !ok {
		h.deliver(c, NewEvent(EventError, ErrorPayload{ReportID: p.ReportID, Message: "unknown actionType: " + actionType}))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	viewerID := p.UserID
	if viewerID == "" {
		viewerID = c.userID
	}
	if _, exists := h.sessions[p.ReportID]; exists {
		h.mu.Unlock()
		h.deliver(c, NewEvent(EventError, ErrorPayload{ReportID: p.ReportID, Message: "job already active for report"}))
		return
	}
	sess := newSession(p.ReportID, actionType, viewerID)
	h.sessions[p.ReportID] = sess
	h.joinLocked(c, sess.room())
	h.mu.Unlock()

	metrics.ActiveSessions.Inc()
	if h.runs != nil {
		rec := store.RunRecord{
			ReportID:   p.ReportID,
			ActionType: actionType,
			OwnerID:    viewerID,
			StartedAt:  sess.StartedAt,
			Status:     string(StateRunning),
		}
		if err := h.runs.RecordStart(context.Background(), rec); err != nil {
			h.logger.Warn().Err(err).Str(log.FieldReportID, p.ReportID).Msg("run start not recorded")
		}
	}

	// Subscribe before the command goes out so no early report is missed.
	ch, cancel := h.cmd.Subscribe(p.ReportID)
	h.broadcastRoom(sess.room(), NewEvent(EventFormFillStarted, SessionInfo{
		ReportID:   p.ReportID,
		ActionType: actionType,
		ViewerID:   viewerID,
		State:      string(StateRunning),
		StartedAt:  sess.StartedAt,
	}))
	metrics.RoomEventsTotal.WithLabelValues(EventFormFillStarted).Inc()

	cmd := worker.Command{
		Action:     action,
		ReportID:   p.ReportID,
		TabsNum:    p.TabsNum,
		UserID:     viewerID,
		SocketMode: true,
	}
	go h.issue(sess, cmd)
	go h.relay(sess, ch, cancel)
}

// actionForType maps the viewer-facing action type onto the worker protocol.
func actionForType(actionType string) (string, bool) {
	switch actionType {
	case ActionTypeSubmit:
		return worker.ActionFormFill, true
	case ActionTypeRetry:
		return worker.ActionFormFill2, true
	case ActionTypeCheck:
		return worker.ActionCheck, true
	}
	return "", false
}

// issue sends the task command. The terminal report reaches the room through
// the relay; only command failures are terminal here.
func (h *Hub) issue(sess *Session, cmd worker.Command) {
	if _, err := h.cmd.SendCommand(context.Background(), cmd); err != nil {
		h.logger.Error().Err(err).
			Str(log.FieldReportID, sess.ReportID).
			Str(log.FieldAction, cmd.Action).
			Msg("task command failed")
		h.finishSession(sess, worker.Message{
			Status:   worker.StatusFailed,
			ReportID: sess.ReportID,
			Error:    err.Error(),
		})
	}
}

// relay forwards job-scoped worker reports into the report room until the
// job ends or the session is torn down.
func (h *Hub) relay(sess *Session, ch <-chan worker.Message, cancel func()) {
	defer cancel()
	for {
		select {
		case <-sess.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch {
			case worker.IsControlAck(msg.Status):
				h.applyControlAck(sess, msg)
			case worker.IsTaskTerminal(msg.Status):
				h.finishSession(sess, msg)
				return
			default:
				h.broadcastRoom(sess.room(), NewEvent(EventFormFillProgress, progressFrom(msg)))
				metrics.RoomEventsTotal.WithLabelValues(EventFormFillProgress).Inc()
			}
		}
	}
}

func (h *Hub) applyControlAck(sess *Session, msg worker.Message) {
	var to SessionState
	var name string
	switch msg.Status {
	case worker.StatusPaused:
		to, name = StatePaused, EventFormFillPaused
	case worker.StatusResumed:
		to, name = StateRunning, EventFormFillResumed
	case worker.StatusStopped:
		to, name = StateStopped, EventFormFillStopped
	default:
		return
	}

	h.mu.Lock()
	changed := sess.transition(to)
	h.mu.Unlock()
	if !changed {
		h.logger.Debug().
			Str(log.FieldReportID, sess.ReportID).
			Str(log.FieldStatus, msg.Status).
			Msg("control ack ignored by state machine")
		return
	}
	h.broadcastRoom(sess.room(), NewEvent(name, progressFrom(msg)))
	metrics.RoomEventsTotal.WithLabelValues(name).Inc()
}

// finishSession emits the single terminal room event for the job, records
// the outcome and removes the session. Idempotent.
func (h *Hub) finishSession(sess *Session, msg worker.Message) {
	h.mu.Lock()
	if sess.ended {
		h.mu.Unlock()
		return
	}
	sess.ended = true
	if msg.Status == worker.StatusSuccess {
		sess.state = StateSuccess
	} else if !sess.state.terminal() {
		sess.state = StateFailed
	}
	delete(h.sessions, sess.ReportID)
	close(sess.done)
	h.mu.Unlock()

	metrics.ActiveSessions.Dec()
	name := EventFormFillError
	if msg.Status == worker.StatusSuccess {
		name = EventFormFillComplete
	}
	h.broadcastRoom(sess.room(), NewEvent(name, progressFrom(msg)))
	metrics.RoomEventsTotal.WithLabelValues(name).Inc()

	if h.runs != nil {
		if err := h.runs.RecordOutcome(context.Background(), sess.ReportID, msg.Status, msg.Error); err != nil {
			h.logger.Warn().Err(err).Str(log.FieldReportID, sess.ReportID).Msg("run outcome not recorded")
		}
	}
	h.logger.Info().
		Str(log.FieldReportID, sess.ReportID).
		Str(log.FieldStatus, msg.Status).
		Str(log.FieldEvent, name).
		Msg("job finished")
}

func (h *Hub) control(c *Conn, action string, payload json.RawMessage) {
	var p ControlPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ReportID == "" {
		h.deliver(c, NewEvent(EventError, ErrorPayload{Message: "control event requires reportId"}))
		return
	}
	h.mu.Lock()
	_, active := h.sessions[p.ReportID]
	h.mu.Unlock()
	if !active {
		h.deliver(c, NewEvent(EventError, ErrorPayload{ReportID: p.ReportID, Message: ErrNoActiveSession.Error()}))
		return
	}
	// The room hears the ack through the relay; the issuer only hears
	// failures.
	go func() {
		if _, err := h.cmd.SendCommand(context.Background(), worker.Command{Action: action, ReportID: p.ReportID}); err != nil {
			h.deliver(c, NewEvent(EventError, ErrorPayload{ReportID: p.ReportID, Message: err.Error()}))
		}
	}()
}

func progressFrom(msg worker.Message) ProgressPayload {
	return ProgressPayload{
		Status:   msg.Status,
		ReportID: msg.ReportID,
		TaskID:   msg.TaskID,
		Results:  msg.Results,
		Error:    msg.Error,
		Message:  msg.Message,
	}
}

func (h *Hub) joinLocked(c *Conn, room string) {
	if c.closed {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	if members := h.rooms[room]; members != nil {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) broadcastRoom(room string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.rooms[room] {
		h.deliverLocked(c, ev)
	}
}

func (h *Hub) deliver(c *Conn, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(c, ev)
}

func (h *Hub) deliverLocked(c *Conn, ev Event) {
	if c.closed {
		return
	}
	select {
	case c.Send <- ev:
	default:
		h.logger.Warn().
			Str(log.FieldConnectionID, c.ID).
			Str(log.FieldEvent, ev.Name).
			Msg("slow consumer, event dropped")
	}
}
