// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID    = "request_id"
	FieldReportID     = "report_id"
	FieldTaskID       = "task_id"
	FieldViewerID     = "viewer_id"
	FieldConnectionID = "connection_id"

	// Process / protocol fields
	FieldComponent = "component"
	FieldAction    = "action"
	FieldStatus    = "status"
	FieldClass     = "class"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"

	// Push channel fields
	FieldEvent = "event"
	FieldRoom  = "room"

	// Path fields
	FieldPath = "path"
)
