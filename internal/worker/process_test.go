// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeScript drops a shell script standing in for the automation worker.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

type msgCollector struct {
	mu   sync.Mutex
	msgs []Message
	ch   chan Message
}

func newMsgCollector() *msgCollector {
	return &msgCollector{ch: make(chan Message, 16)}
}

func (c *msgCollector) onMessage(m Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	c.ch <- m
}

func (c *msgCollector) waitOne(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-c.ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker message")
		return Message{}
	}
}

func TestHandleSpawnsLazilyAndDecodesLines(t *testing.T) {
	script := writeScript(t, `
while read line; do
  echo '{"status":"LOGIN_SUCCESS","reportId":"R1"}'
done
`)
	collector := newMsgCollector()
	h, err := New(Options{
		Interpreter: "/bin/sh",
		Script:      script,
		OnMessage:   collector.onMessage,
	})
	require.NoError(t, err)
	require.False(t, h.Alive(), "no process before first command")

	require.NoError(t, h.Send(Command{Action: ActionLogin, Email: "a@b.com", Password: "x"}))
	require.True(t, h.Alive())

	msg := collector.waitOne(t)
	require.Equal(t, StatusLoginSuccess, msg.Status)
	require.Equal(t, "R1", msg.ReportID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
}

func TestHandleMalformedLinesAreDropped(t *testing.T) {
	script := writeScript(t, `
while read line; do
  echo 'Traceback (most recent call last):'
  echo '{"status":"SUCCESS","reportId":"R2"}'
done
`)
	collector := newMsgCollector()
	h, err := New(Options{
		Interpreter: "/bin/sh",
		Script:      script,
		OnMessage:   collector.onMessage,
	})
	require.NoError(t, err)

	require.NoError(t, h.Send(Command{Action: ActionCheck, ReportID: "R2"}))

	// Only the well-formed record arrives.
	msg := collector.waitOne(t)
	require.Equal(t, StatusSuccess, msg.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
}

func TestHandleExitClearsAndRespawns(t *testing.T) {
	// First read exits immediately, simulating a crash after one command.
	script := writeScript(t, `
read line
exit 3
`)
	exited := make(chan error, 2)
	h, err := New(Options{
		Interpreter: "/bin/sh",
		Script:      script,
		OnExit:      func(err error) { exited <- err },
	})
	require.NoError(t, err)

	require.NoError(t, h.Send(Command{Action: ActionCheck, ReportID: "R3"}))

	select {
	case err := <-exited:
		require.Error(t, err, "exit code 3 should surface")
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
	require.False(t, h.Alive(), "handle must be nulled after exit")

	// Next command respawns a fresh instance.
	require.NoError(t, h.Send(Command{Action: ActionCheck, ReportID: "R4"}))
	require.True(t, h.Alive())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
}

func TestHandleShutdownNoProcess(t *testing.T) {
	h, err := New(Options{Interpreter: "/bin/sh", Script: "/nonexistent/worker.sh"})
	require.NoError(t, err)
	require.NoError(t, h.Shutdown(context.Background()))
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{Script: "x.py"})
	require.Error(t, err)
	_, err = New(Options{Interpreter: "python3"})
	require.Error(t, err)
}
