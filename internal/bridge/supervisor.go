// SPDX-License-Identifier: MIT

// Package bridge correlates commands sent to the automation worker with the
// responses it emits, and fans job-scoped messages out to subscribers.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/frontlogic/taqbridge/internal/log"
	"github.com/frontlogic/taqbridge/internal/metrics"
	"github.com/frontlogic/taqbridge/internal/worker"
)

// Class routes a worker response to the correct outstanding request.
type Class string

const (
	ClassTask    Class = "task"
	ClassControl Class = "control"
)

// DefaultControlTimeout bounds pause/resume/stop acknowledgements. Task
// commands have no timeout: automation runs can take as long as they take.
const DefaultControlTimeout = 5 * time.Second

var (
	// ErrControlTimeout is returned when a control command receives no
	// acknowledgement in time. The job's control state is left untouched:
	// the worker may still act on the command later.
	ErrControlTimeout = errors.New("control command timed out")

	// ErrSuperseded is returned to a waiter whose pending slot was taken
	// over by a newer command of the same class. The single-slot scheme
	// cannot resolve both.
	ErrSuperseded = errors.New("pending request superseded by a newer command")
)

// subscriberBuffer sizes per-subscriber channels; a slow viewer drops
// messages rather than stalling the read loop.
const subscriberBuffer = 64

type result struct {
	msg worker.Message
	err error
}

type pendingRequest struct {
	class  Class
	action string
	ch     chan result
	timer  *time.Timer
	start  time.Time
}

type subscription struct {
	reportID string
	ch       chan worker.Message
}

// Options configures a Supervisor.
type Options struct {
	Interpreter    string
	Script         string
	Dir            string
	ControlTimeout time.Duration // defaults to DefaultControlTimeout
}

// Supervisor owns the worker process handle, the single-slot pending
// requests, the task registry and the per-report subscriptions. It is the
// only writer to the worker's input stream; the HTTP and push-channel paths
// must share one instance.
type Supervisor struct {
	handle         *worker.Handle
	tasks          *taskRegistry
	controlTimeout time.Duration
	logger         zerolog.Logger

	mu      sync.Mutex
	pending map[Class]*pendingRequest
	subs    map[string][]*subscription
}

// New constructs the supervisor and its (not yet spawned) worker handle.
func New(opts Options) (*Supervisor, error) {
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = DefaultControlTimeout
	}
	s := &Supervisor{
		tasks:          newTaskRegistry(),
		controlTimeout: opts.ControlTimeout,
		logger:         log.WithComponent("bridge"),
		pending:        make(map[Class]*pendingRequest),
		subs:           make(map[string][]*subscription),
	}
	handle, err := worker.New(worker.Options{
		Interpreter: opts.Interpreter,
		Script:      opts.Script,
		Dir:         opts.Dir,
		OnMessage:   s.dispatch,
		OnExit:      s.onWorkerExit,
	})
	if err != nil {
		return nil, err
	}
	s.handle = handle
	return s, nil
}

// SendCommand frames and writes one command, then blocks until the matching
// response arrives or the command fails. Control commands carry the
// registered task ID for their report when the caller did not set one.
func (s *Supervisor) SendCommand(ctx context.Context, cmd worker.Command) (worker.Message, error) {
	class := ClassTask
	if worker.IsControlAction(cmd.Action) {
		class = ClassControl
		if cmd.TaskID == "" && cmd.ReportID != "" {
			// Absent task ID is valid: the worker falls back to
			// targeting by report ID.
			if taskID, ok := s.tasks.lookup(cmd.ReportID); ok {
				cmd.TaskID = taskID
			}
		}
	}

	p := &pendingRequest{
		class:  class,
		action: cmd.Action,
		ch:     make(chan result, 1),
		start:  time.Now(),
	}

	s.mu.Lock()
	if old := s.pending[class]; old != nil {
		metrics.PendingOverwritesTotal.WithLabelValues(string(class)).Inc()
		s.logger.Warn().
			Str(log.FieldClass, string(class)).
			Str(log.FieldAction, old.action).
			Msg("pending request overwritten by newer command")
		s.finishLocked(old, result{err: ErrSuperseded})
	}
	s.pending[class] = p
	if class == ClassControl {
		// Armed while still holding mu: the read loop resolves pending
		// requests under the same lock, so p.timer must never be written
		// after p is visible in the map.
		p.timer = time.AfterFunc(s.controlTimeout, func() {
			s.mu.Lock()
			if s.pending[class] == p {
				delete(s.pending, class)
				s.finishLocked(p, result{err: ErrControlTimeout})
				metrics.ControlTimeoutsTotal.Inc()
			}
			s.mu.Unlock()
		})
	}
	s.mu.Unlock()

	if err := s.handle.Send(cmd); err != nil {
		s.abandon(class, p)
		metrics.CommandsTotal.WithLabelValues(cmd.Action, "write_failed").Inc()
		return worker.Message{}, err
	}

	s.logger.Debug().
		Str(log.FieldAction, cmd.Action).
		Str(log.FieldClass, string(class)).
		Str(log.FieldReportID, cmd.ReportID).
		Msg("command sent")

	select {
	case r := <-p.ch:
		metrics.CommandDuration.WithLabelValues(string(class)).Observe(time.Since(p.start).Seconds())
		if r.err != nil {
			metrics.CommandsTotal.WithLabelValues(cmd.Action, "error").Inc()
			return worker.Message{}, r.err
		}
		metrics.CommandsTotal.WithLabelValues(cmd.Action, r.msg.Status).Inc()
		return r.msg, nil
	case <-ctx.Done():
		s.abandon(class, p)
		metrics.CommandsTotal.WithLabelValues(cmd.Action, "canceled").Inc()
		return worker.Message{}, ctx.Err()
	}
}

// SendClose issues a fire-and-forget close for a viewer identity. Nothing
// is sent when no worker is live: there is nothing to close, and spawning
// one just to close it would be absurd.
func (s *Supervisor) SendClose(userID string) {
	if !s.handle.Alive() {
		return
	}
	if err := s.handle.Send(worker.Command{Action: worker.ActionClose, UserID: userID}); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldViewerID, userID).Msg("close command not delivered")
		return
	}
	metrics.CommandsTotal.WithLabelValues(worker.ActionClose, "sent").Inc()
}

// LookupTask exposes the registry mapping for diagnostics and tests.
func (s *Supervisor) LookupTask(reportID string) (string, bool) {
	return s.tasks.lookup(reportID)
}

// Subscribe returns a channel receiving every message scoped to reportID.
// The returned cancel func must be called to release the subscription.
func (s *Supervisor) Subscribe(reportID string) (<-chan worker.Message, func()) {
	sub := &subscription{
		reportID: reportID,
		ch:       make(chan worker.Message, subscriberBuffer),
	}
	s.mu.Lock()
	s.subs[reportID] = append(s.subs[reportID], sub)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		lst := s.subs[reportID]
		out := lst[:0]
		for _, existing := range lst {
			if existing != sub {
				out = append(out, existing)
			}
		}
		if len(out) == 0 {
			delete(s.subs, reportID)
		} else {
			s.subs[reportID] = out
		}
		close(sub.ch)
	}
	return sub.ch, cancel
}

// WorkerAlive reports whether the automation process is currently running.
// The worker spawns lazily, so false before the first command is normal.
func (s *Supervisor) WorkerAlive() bool {
	return s.handle.Alive()
}

// Shutdown closes the worker gracefully. Pending requests fail through the
// process-exit path.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	return s.handle.Shutdown(ctx)
}

// RestartWorker gracefully closes the current process; the next command
// spawns a fresh one. Used by the script watcher.
func (s *Supervisor) RestartWorker(ctx context.Context) {
	if err := s.handle.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("worker restart: shutdown did not complete cleanly")
	}
}

// dispatch routes one decoded worker record. Runs on the handle's read loop.
func (s *Supervisor) dispatch(msg worker.Message) {
	switch {
	case msg.Status == worker.StatusStarted:
		// Bookkeeping only: remember the execution ID so later control
		// commands can target it. Swallowed, never forwarded.
		s.tasks.register(msg.ReportID, msg.TaskID)
		return

	case worker.IsTaskTerminal(msg.Status):
		s.resolveClass(ClassTask, msg)
		if msg.ReportID != "" {
			s.tasks.forget(msg.ReportID)
		}

	case worker.IsControlAck(msg.Status):
		s.resolveClass(ClassControl, msg)
		if msg.Status == worker.StatusStopped && msg.ReportID != "" {
			s.tasks.forget(msg.ReportID)
		}

	default:
		// Progress record: forwarded to viewers below, resolves nothing.
	}

	if msg.ReportID != "" {
		s.publish(msg)
	} else if !worker.IsTaskTerminal(msg.Status) && !worker.IsControlAck(msg.Status) && msg.Status != worker.StatusStarted {
		s.logger.Warn().
			Str(log.FieldStatus, msg.Status).
			Msg("worker record matches no pending request and no report")
	}
}

func (s *Supervisor) resolveClass(class Class, msg worker.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending[class]
	if p == nil {
		return
	}
	delete(s.pending, class)
	s.finishLocked(p, result{msg: msg})
}

// publish fans a record out to the report's subscribers. Sends are
// non-blocking, so holding mu keeps cancel's close of the channel from
// racing a send.
func (s *Supervisor) publish(msg worker.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs[msg.ReportID] {
		select {
		case sub.ch <- msg:
		default:
			s.logger.Warn().
				Str(log.FieldReportID, msg.ReportID).
				Str(log.FieldStatus, msg.Status).
				Msg("dropping message for slow subscriber")
		}
	}
}

// onWorkerExit fails every outstanding request. Job sessions are not
// auto-marked failed here; the hub reacts only to messages it saw.
func (s *Supervisor) onWorkerExit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for class, p := range s.pending {
		delete(s.pending, class)
		s.finishLocked(p, result{err: worker.ErrExited})
	}
}

// abandon removes p from its slot if still the occupant. Used when the
// waiter gives up (write failure, context cancellation).
func (s *Supervisor) abandon(class Class, p *pendingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[class] == p {
		delete(s.pending, class)
	}
	if p.timer != nil {
		p.timer.Stop()
	}
}

// finishLocked resolves p exactly once. Callers must have removed p from
// the pending map (or never want it resolved again) while holding mu.
func (s *Supervisor) finishLocked(p *pendingRequest, r result) {
	if p.timer != nil {
		p.timer.Stop()
	}
	select {
	case p.ch <- r:
	default:
	}
}
