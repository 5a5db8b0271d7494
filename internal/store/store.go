// SPDX-License-Identifier: MIT

// Package store records automation run history. The orchestration core only
// ever sees the narrow RunStore interface; business persistence lives
// elsewhere.
package store

import (
	"context"
	"time"
)

// RunRecord is one automation run for a report.
type RunRecord struct {
	ReportID   string    `json:"reportId"`
	TaskID     string    `json:"taskId,omitempty"`
	ActionType string    `json:"actionType"`
	OwnerID    string    `json:"ownerId,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// RunStore is the persistence collaborator consumed by the hub.
type RunStore interface {
	// RecordStart persists the beginning of a run.
	RecordStart(ctx context.Context, rec RunRecord) error
	// RecordOutcome updates the most recent run for the report with its
	// terminal status.
	RecordOutcome(ctx context.Context, reportID, status, errMsg string) error
	// Runs returns the recorded runs for a report, newest first.
	Runs(ctx context.Context, reportID string) ([]RunRecord, error)
	Close() error
}
