// SPDX-License-Identifier: MIT

package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/frontlogic/taqbridge/internal/store"
	"github.com/frontlogic/taqbridge/internal/worker"
)

// fakeCommander records commands and lets tests inject worker reports
// through the subscription channel.
type fakeCommander struct {
	mu       sync.Mutex
	commands []worker.Command
	closes   []string
	subs     map[string][]chan worker.Message
	fail     error
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{subs: make(map[string][]chan worker.Message)}
}

func (f *fakeCommander) SendCommand(_ context.Context, cmd worker.Command) (worker.Message, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return worker.Message{}, fail
	}
	return worker.Message{}, nil
}

func (f *fakeCommander) SendClose(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, userID)
}

func (f *fakeCommander) Subscribe(reportID string) (<-chan worker.Message, func()) {
	ch := make(chan worker.Message, 64)
	f.mu.Lock()
	f.subs[reportID] = append(f.subs[reportID], ch)
	f.mu.Unlock()
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.subs[reportID] {
			if c == ch {
				f.subs[reportID] = append(f.subs[reportID][:i], f.subs[reportID][i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (f *fakeCommander) publish(msg worker.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[msg.ReportID] {
		ch <- msg
	}
}

func (f *fakeCommander) closedFor() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closes...)
}

// fakeRunStore records store calls.
type fakeRunStore struct {
	mu       sync.Mutex
	starts   []store.RunRecord
	outcomes []string
}

func (f *fakeRunStore) RecordStart(_ context.Context, rec store.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, rec)
	return nil
}

func (f *fakeRunStore) RecordOutcome(_ context.Context, reportID, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, reportID+":"+status)
	return nil
}

func (f *fakeRunStore) Runs(context.Context, string) ([]store.RunRecord, error) { return nil, nil }
func (f *fakeRunStore) Close() error                                           { return nil }

func (f *fakeRunStore) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outcomes...)
}

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func waitEvent(t *testing.T, c *Conn, want string) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Send:
		if !ok {
			t.Fatalf("connection closed waiting for %s", want)
		}
		if ev.Name != want {
			t.Fatalf("event = %s, want %s (payload %s)", ev.Name, want, ev.Payload)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s event within deadline", want)
	}
	return Event{}
}

func expectQuiet(t *testing.T, c *Conn, d time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-c.Send:
		if ok {
			t.Fatalf("unexpected event %s (payload %s)", ev.Name, ev.Payload)
		}
	case <-time.After(d):
	}
}

func TestStartPayloadIgnoresFilePaths(t *testing.T) {
	cmd := newFakeCommander()
	h := New(cmd, nil, time.Minute)
	defer h.Shutdown()

	c := h.Register()
	h.HandleEvent(c, Event{Name: EventUserIdentified, Payload: mustPayload(t, IdentifyPayload{UserID: "u1"})})
	h.HandleEvent(c, Event{Name: EventStartFormFill, Payload: json.RawMessage(`{"reportId":"RF","actionType":"submit","file":"/etc/passwd"}`)})
	waitEvent(t, c, EventFormFillStarted)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		cmd.mu.Lock()
		n := len(cmd.commands)
		cmd.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	if len(cmd.commands) != 1 {
		t.Fatalf("expected one worker command, got %d", len(cmd.commands))
	}
	if got := cmd.commands[0].File; got != "" {
		t.Fatalf("worker command carries file %q; push payloads must not name filesystem paths", got)
	}
}

func startTestJob(t *testing.T, h *Hub, c *Conn, reportID, userID string) {
	t.Helper()
	h.HandleEvent(c, Event{Name: EventUserIdentified, Payload: mustPayload(t, IdentifyPayload{UserID: userID})})
	h.HandleEvent(c, Event{Name: EventStartFormFill, Payload: mustPayload(t, StartPayload{
		ReportID:   reportID,
		TabsNum:    2,
		ActionType: ActionTypeSubmit,
	})})
	waitEvent(t, c, EventFormFillStarted)
}

func TestStartJobBroadcastsLifecycle(t *testing.T) {
	cmd := newFakeCommander()
	runs := &fakeRunStore{}
	h := New(cmd, runs, time.Minute)
	defer h.Shutdown()

	c := h.Register()
	startTestJob(t, h, c, "R1", "u1")

	cmd.publish(worker.Message{Status: "STEP_STARTED", ReportID: "R1", Message: "tab 1"})
	ev := waitEvent(t, c, EventFormFillProgress)
	var p ProgressPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Status != "STEP_STARTED" || p.ReportID != "R1" {
		t.Fatalf("unexpected progress payload %+v", p)
	}

	cmd.publish(worker.Message{Status: worker.StatusSuccess, ReportID: "R1"})
	waitEvent(t, c, EventFormFillComplete)

	if got := len(h.ListActive()); got != 0 {
		t.Fatalf("active sessions after terminal = %d, want 0", got)
	}
	waitDeadline := time.Now().Add(time.Second)
	for {
		cmd.mu.Lock()
		sent := append([]worker.Command(nil), cmd.commands...)
		cmd.mu.Unlock()
		if len(sent) == 1 {
			if sent[0].File != "" {
				t.Fatalf("worker command = %+v, want no file path", sent[0])
			}
			break
		}
		if time.Now().After(waitDeadline) {
			t.Fatalf("worker commands = %+v, want exactly one", sent)
		}
		time.Sleep(10 * time.Millisecond)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if out := runs.recorded(); len(out) == 1 && out[0] == "R1:SUCCESS" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run outcome not recorded, got %v", runs.recorded())
}

func TestControlAcksDriveStateMachine(t *testing.T) {
	cmd := newFakeCommander()
	h := New(cmd, nil, time.Minute)
	defer h.Shutdown()

	c := h.Register()
	startTestJob(t, h, c, "R2", "u1")

	cmd.publish(worker.Message{Status: worker.StatusPaused, ReportID: "R2"})
	waitEvent(t, c, EventFormFillPaused)

	// A duplicate ack is absorbed by the state machine.
	cmd.publish(worker.Message{Status: worker.StatusPaused, ReportID: "R2"})
	cmd.publish(worker.Message{Status: worker.StatusResumed, ReportID: "R2"})
	waitEvent(t, c, EventFormFillResumed)

	active := h.ListActive()
	if len(active) != 1 || active[0].State != string(StateRunning) {
		t.Fatalf("unexpected snapshot %+v", active)
	}
}

func TestControlWithoutSessionGoesToIssuerOnly(t *testing.T) {
	cmd := newFakeCommander()
	h := New(cmd, nil, time.Minute)
	defer h.Shutdown()

	issuer := h.Register()
	bystander := h.Register()

	h.HandleEvent(issuer, Event{Name: EventPauseFormFill, Payload: mustPayload(t, ControlPayload{ReportID: "nope"})})

	ev := waitEvent(t, issuer, EventError)
	var p ErrorPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.ReportID != "nope" {
		t.Fatalf("error payload %+v", p)
	}
	expectQuiet(t, bystander, 100*time.Millisecond)
}

func TestExactlyOneTerminalEvent(t *testing.T) {
	cmd := newFakeCommander()
	runs := &fakeRunStore{}
	h := New(cmd, runs, time.Minute)
	defer h.Shutdown()

	c := h.Register()
	startTestJob(t, h, c, "R3", "u1")

	cmd.publish(worker.Message{Status: worker.StatusFailed, ReportID: "R3", Error: "boom"})
	waitEvent(t, c, EventFormFillError)

	expectQuiet(t, c, 150*time.Millisecond)
	if out := runs.recorded(); len(out) != 1 {
		t.Fatalf("outcomes = %v, want one", out)
	}
}

func TestCommandFailureEndsJobWithError(t *testing.T) {
	cmd := newFakeCommander()
	cmd.fail = worker.ErrExited
	h := New(cmd, nil, time.Minute)
	defer h.Shutdown()

	c := h.Register()
	h.HandleEvent(c, Event{Name: EventUserIdentified, Payload: mustPayload(t, IdentifyPayload{UserID: "u1"})})
	h.HandleEvent(c, Event{Name: EventStartFormFill, Payload: mustPayload(t, StartPayload{ReportID: "R4"})})
	waitEvent(t, c, EventFormFillStarted)
	waitEvent(t, c, EventFormFillError)

	if got := len(h.ListActive()); got != 0 {
		t.Fatalf("active sessions = %d, want 0", got)
	}
}

func TestDuplicateStartRejected(t *testing.T) {
	cmd := newFakeCommander()
	h := New(cmd, nil, time.Minute)
	defer h.Shutdown()

	c := h.Register()
	startTestJob(t, h, c, "R5", "u1")

	h.HandleEvent(c, Event{Name: EventStartFormFill, Payload: mustPayload(t, StartPayload{ReportID: "R5"})})
	waitEvent(t, c, EventError)
}

func TestGraceExpiryClosesViewerWork(t *testing.T) {
	cmd := newFakeCommander()
	runs := &fakeRunStore{}
	h := New(cmd, runs, 30*time.Millisecond)
	defer h.Shutdown()

	c := h.Register()
	startTestJob(t, h, c, "R6", "u1")
	h.Disconnect(c, false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if closes := cmd.closedFor(); len(closes) == 1 && closes[0] == "u1" {
			if got := len(h.ListActive()); got != 0 {
				t.Fatalf("active sessions after cleanup = %d, want 0", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no close for viewer, closes = %v", cmd.closedFor())
}

func TestReconnectWithinGraceKeepsJobAlive(t *testing.T) {
	cmd := newFakeCommander()
	h := New(cmd, nil, 200*time.Millisecond)
	defer h.Shutdown()

	c := h.Register()
	startTestJob(t, h, c, "R7", "u1")
	h.Disconnect(c, false)

	replacement := h.Register()
	h.HandleEvent(replacement, Event{Name: EventUserIdentified, Payload: mustPayload(t, IdentifyPayload{UserID: "u1"})})

	time.Sleep(350 * time.Millisecond)
	if closes := cmd.closedFor(); len(closes) != 0 {
		t.Fatalf("viewer closed despite reconnect: %v", closes)
	}

	// The replacement rejoined the report room.
	cmd.publish(worker.Message{Status: "STEP_STARTED", ReportID: "R7"})
	waitEvent(t, replacement, EventFormFillProgress)
}

func TestDeliberateCloseCleansImmediately(t *testing.T) {
	cmd := newFakeCommander()
	h := New(cmd, nil, time.Hour)
	defer h.Shutdown()

	c := h.Register()
	startTestJob(t, h, c, "R8", "u1")
	h.Disconnect(c, true)

	if closes := cmd.closedFor(); len(closes) != 1 || closes[0] != "u1" {
		t.Fatalf("closes = %v, want [u1]", closes)
	}
	if got := len(h.ListActive()); got != 0 {
		t.Fatalf("active sessions = %d, want 0", got)
	}
}

func TestAnonymousDisconnectLeavesWorkerAlone(t *testing.T) {
	cmd := newFakeCommander()
	h := New(cmd, nil, 20*time.Millisecond)
	defer h.Shutdown()

	c := h.Register()
	h.Disconnect(c, false)

	time.Sleep(80 * time.Millisecond)
	if closes := cmd.closedFor(); len(closes) != 0 {
		t.Fatalf("closes = %v, want none", closes)
	}
}

func TestSecondConnectionSuppressesGrace(t *testing.T) {
	cmd := newFakeCommander()
	h := New(cmd, nil, 30*time.Millisecond)
	defer h.Shutdown()

	a := h.Register()
	b := h.Register()
	h.HandleEvent(a, Event{Name: EventUserIdentified, Payload: mustPayload(t, IdentifyPayload{UserID: "u1"})})
	h.HandleEvent(b, Event{Name: EventUserIdentified, Payload: mustPayload(t, IdentifyPayload{UserID: "u1"})})

	h.Disconnect(a, false)
	time.Sleep(100 * time.Millisecond)
	if closes := cmd.closedFor(); len(closes) != 0 {
		t.Fatalf("closes = %v, want none while a twin connection lives", closes)
	}
}

func TestGetActiveSessions(t *testing.T) {
	cmd := newFakeCommander()
	h := New(cmd, nil, time.Minute)
	defer h.Shutdown()

	c := h.Register()
	startTestJob(t, h, c, "R9", "u1")

	h.HandleEvent(c, Event{Name: EventGetActiveSessions})
	ev := waitEvent(t, c, EventActiveSessions)

	var infos []SessionInfo
	if err := json.Unmarshal(ev.Payload, &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].ReportID != "R9" || infos[0].ViewerID != "u1" {
		t.Fatalf("snapshot = %+v", infos)
	}
}
