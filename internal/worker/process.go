// SPDX-License-Identifier: MIT

package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/frontlogic/taqbridge/internal/log"
	"github.com/frontlogic/taqbridge/internal/metrics"
)

// maxLineBytes caps a single worker output record. Automation results can
// carry large payloads but anything past this is a protocol violation.
const maxLineBytes = 4 * 1024 * 1024

// Options configures the process handle. Interpreter, Script and Dir are
// fixed configuration, never user input.
type Options struct {
	Interpreter string
	Script      string
	Dir         string

	// OnMessage is invoked from the read loop for every decoded record.
	OnMessage func(Message)
	// OnExit is invoked once per process after it has terminated and the
	// handle has been cleared.
	OnExit func(err error)
}

// Handle owns at most one live automation worker process. A dead process is
// respawned lazily by the next Ensure or Send; a failed command is never
// replayed against the new instance.
type Handle struct {
	opts   Options
	logger zerolog.Logger

	mu   sync.Mutex
	proc *process
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// New creates a handle. No process is spawned until the first Ensure or Send.
func New(opts Options) (*Handle, error) {
	if opts.Interpreter == "" {
		return nil, fmt.Errorf("worker: interpreter is required")
	}
	if opts.Script == "" {
		return nil, fmt.Errorf("worker: script is required")
	}
	return &Handle{
		opts:   opts,
		logger: log.WithComponent("worker"),
	}, nil
}

// Alive reports whether a live process is currently attached.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.proc != nil
}

// Ensure spawns the worker process if none is live.
func (h *Handle) Ensure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ensureLocked()
}

func (h *Handle) ensureLocked() error {
	if h.proc != nil {
		return nil
	}

	cmd := exec.Command(h.opts.Interpreter, h.opts.Script)
	cmd.Dir = h.opts.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("worker: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("worker: spawn %s: %w", h.opts.Script, err)
	}

	p := &process{cmd: cmd, stdin: stdin}
	h.proc = p

	metrics.WorkerSpawnsTotal.Inc()
	h.logger.Info().
		Int(log.FieldPID, cmd.Process.Pid).
		Str(log.FieldPath, h.opts.Script).
		Msg("worker spawned")

	var pipes errgroup.Group
	pipes.Go(func() error {
		h.readLoop(stdout)
		return nil
	})
	pipes.Go(func() error {
		h.drainStderr(stderr)
		return nil
	})
	go h.wait(p, &pipes)

	return nil
}

// Send delivers one framed command to the worker, spawning it first if
// needed. A write error means the command was not delivered; the caller
// must treat it as an immediate failure.
func (h *Handle) Send(cmd Command) error {
	buf, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureLocked(); err != nil {
		return err
	}
	if _, err := h.proc.stdin.Write(buf); err != nil {
		metrics.WriteFailuresTotal.Inc()
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, cmd.Action, err)
	}
	return nil
}

func (h *Handle) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := DecodeMessage(line)
		if err != nil {
			// Known weakness: the record resolves nothing, a request
			// waiting on exactly this reply is stranded until worker
			// exit or timeout.
			metrics.MalformedRecordsTotal.Inc()
			h.logger.Error().
				Err(err).
				Str("line", truncate(string(line), 512)).
				Msg("dropping undecodable worker record")
			continue
		}
		if h.opts.OnMessage != nil {
			h.opts.OnMessage(msg)
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Debug().Err(err).Msg("worker stdout closed")
	}
}

func (h *Handle) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			h.logger.Warn().Str("stderr", truncate(line, 2048)).Msg("worker stderr")
		}
	}
}

func (h *Handle) wait(p *process, pipes *errgroup.Group) {
	// Both pipes drain to EOF before Wait reaps the process, so the last
	// records a dying worker flushed are never lost.
	_ = pipes.Wait()
	err := p.cmd.Wait()

	h.mu.Lock()
	if h.proc == p {
		h.proc = nil
	}
	h.mu.Unlock()

	reason := "exit"
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
		if code == -1 {
			reason = "signal"
		} else {
			reason = "error"
		}
	} else if err != nil {
		code = -1
		reason = "error"
	}
	metrics.WorkerExitsTotal.WithLabelValues(reason).Inc()
	h.logger.Warn().
		Err(err).
		Int(log.FieldExitCode, code).
		Msg("worker exited")

	if h.opts.OnExit != nil {
		h.opts.OnExit(err)
	}
}

// Shutdown asks the worker to close its browser contexts, then terminates
// the OS process. Hard kill is reserved for this whole-process path; per-job
// stop stays cooperative.
func (h *Handle) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	p := h.proc
	h.mu.Unlock()
	if p == nil {
		return nil
	}

	// Best effort: the worker may already be gone.
	if buf, err := EncodeCommand(Command{Action: ActionClose}); err == nil {
		_, _ = p.stdin.Write(buf)
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	for {
		h.mu.Lock()
		gone := h.proc != p
		h.mu.Unlock()
		if gone {
			return nil
		}
		select {
		case <-ctx.Done():
			_ = p.cmd.Process.Kill()
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
