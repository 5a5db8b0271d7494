// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordStartAndOutcome(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	require.NoError(t, s.RecordStart(ctx, RunRecord{
		ReportID:   "R1",
		ActionType: "submit",
		OwnerID:    "U1",
		StartedAt:  started,
		Status:     "RUNNING",
	}))

	require.NoError(t, s.RecordOutcome(ctx, "R1", "SUCCESS", ""))

	runs, err := s.Runs(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "SUCCESS", runs[0].Status)
	require.Equal(t, "U1", runs[0].OwnerID)
	require.False(t, runs[0].EndedAt.IsZero())
}

func TestRecordOutcomeUpdatesNewestRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := time.Now().Add(-2 * time.Hour)
	second := time.Now().Add(-time.Hour)
	require.NoError(t, s.RecordStart(ctx, RunRecord{ReportID: "R2", ActionType: "submit", StartedAt: first, Status: "RUNNING"}))
	require.NoError(t, s.RecordStart(ctx, RunRecord{ReportID: "R2", ActionType: "retry", StartedAt: second, Status: "RUNNING"}))

	require.NoError(t, s.RecordOutcome(ctx, "R2", "FAILED", "macro rejected"))

	runs, err := s.Runs(ctx, "R2")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// newest first
	require.Equal(t, "retry", runs[0].ActionType)
	require.Equal(t, "FAILED", runs[0].Status)
	require.Equal(t, "macro rejected", runs[0].Error)
	require.Equal(t, "RUNNING", runs[1].Status)
}

func TestRunsUnknownReportIsEmpty(t *testing.T) {
	s := openTestStore(t)
	runs, err := s.Runs(context.Background(), "missing")
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestRecordStartRequiresReportID(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.RecordStart(context.Background(), RunRecord{}))
}

func TestRecordOutcomeWithoutRun(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.RecordOutcome(context.Background(), "nope", "SUCCESS", ""))
}
