// SPDX-License-Identifier: MIT

// Package worker owns the external automation process and the line-delimited
// JSON protocol spoken with it.
package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Actions understood by the automation worker.
const (
	ActionLogin       = "login"
	ActionOTP         = "otp"
	ActionFormFill    = "formFill"
	ActionFormFill2   = "formFill2"
	ActionPause       = "pause"
	ActionResume      = "resume"
	ActionStop        = "stop"
	ActionCheck       = "check"
	ActionCheckMacros = "checkMacros"
	ActionRetryMacros = "retryMacros"
	ActionAddAssets   = "addAssets"
	ActionClose       = "close"
)

// Statuses reported by the worker. Task-terminal statuses resolve the
// task-class pending request and end the job; control statuses resolve the
// control-class pending request without ending the job; StatusStarted only
// side-effects the task registry.
const (
	StatusSuccess      = "SUCCESS"
	StatusFailed       = "FAILED"
	StatusClosed       = "CLOSED"
	StatusLoginSuccess = "LOGIN_SUCCESS"
	StatusNotFound     = "NOT_FOUND"
	StatusOTPRequired  = "OTP_REQUIRED"
	StatusOTPFailed    = "OTP_FAILED"

	StatusPaused  = "PAUSED"
	StatusResumed = "RESUMED"
	StatusStopped = "STOPPED"

	StatusStarted = "STARTED"
)

// Command is one outbound record, written as a single JSON line.
type Command struct {
	Action     string   `json:"action"`
	ReportID   string   `json:"reportId,omitempty"`
	TaskID     string   `json:"taskId,omitempty"`
	TabsNum    int      `json:"tabsNum,omitempty"`
	Email      string   `json:"email,omitempty"`
	Password   string   `json:"password,omitempty"`
	OTP        string   `json:"otp,omitempty"`
	File       string   `json:"file,omitempty"`
	PDFs       []string `json:"pdfs,omitempty"`
	UserID     string   `json:"userId,omitempty"`
	SocketMode bool     `json:"socketMode,omitempty"`
}

// Message is one inbound record decoded from a worker output line.
type Message struct {
	Status   string          `json:"status"`
	ReportID string          `json:"reportId,omitempty"`
	TaskID   string          `json:"taskId,omitempty"`
	Results  json.RawMessage `json:"results,omitempty"`
	Error    string          `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
}

var taskTerminal = map[string]bool{
	StatusSuccess:      true,
	StatusFailed:       true,
	StatusClosed:       true,
	StatusLoginSuccess: true,
	StatusNotFound:     true,
	StatusOTPRequired:  true,
	StatusOTPFailed:    true,
}

var controlAck = map[string]bool{
	StatusPaused:  true,
	StatusResumed: true,
	StatusStopped: true,
}

// IsTaskTerminal reports whether the status resolves a task-class request.
func IsTaskTerminal(status string) bool { return taskTerminal[status] }

// IsControlAck reports whether the status resolves a control-class request.
func IsControlAck(status string) bool { return controlAck[status] }

// IsControlAction reports whether the action expects a near-instant
// acknowledgement rather than a long-running automation result.
func IsControlAction(action string) bool {
	switch action {
	case ActionPause, ActionResume, ActionStop:
		return true
	}
	return false
}

// EncodeCommand serialises a command as one newline-terminated JSON record.
func EncodeCommand(cmd Command) ([]byte, error) {
	buf, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command %q: %w", cmd.Action, err)
	}
	return append(buf, '\n'), nil
}

// DecodeMessage parses one worker output line. Lines that are not valid
// JSON objects, or that carry no status, are malformed.
func DecodeMessage(line []byte) (Message, error) {
	var msg Message
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return msg, fmt.Errorf("decode message: empty line")
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		return msg, fmt.Errorf("decode message: %w", err)
	}
	if msg.Status == "" {
		return msg, fmt.Errorf("decode message: missing status")
	}
	return msg, nil
}
