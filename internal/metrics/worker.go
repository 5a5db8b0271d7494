// SPDX-License-Identifier: MIT

// Package metrics defines the prometheus collectors shared across the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkerSpawnsTotal tracks automation worker process spawns
	WorkerSpawnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taqbridge_worker_spawns_total",
		Help: "Total automation worker process spawns",
	})

	// WorkerExitsTotal tracks worker process exits by reason
	WorkerExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taqbridge_worker_exits_total",
		Help: "Total automation worker process exits",
	}, []string{"reason"})

	// CommandsTotal tracks commands sent to the worker by action and result
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taqbridge_commands_total",
		Help: "Total commands issued to the automation worker",
	}, []string{"action", "result"})

	// CommandDuration tracks time from command write to terminal response
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taqbridge_command_duration_seconds",
		Help:    "Duration from command write to resolving response",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 14), // 50ms to ~7m
	}, []string{"class"})

	// MalformedRecordsTotal tracks worker output lines that failed to decode
	MalformedRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taqbridge_malformed_records_total",
		Help: "Total worker output lines dropped as undecodable",
	})

	// PendingOverwritesTotal tracks pending requests displaced by a newer
	// command of the same class before resolving
	PendingOverwritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taqbridge_pending_overwrites_total",
		Help: "Total pending requests overwritten before resolution",
	}, []string{"class"})

	// ControlTimeoutsTotal tracks control commands that received no ack in time
	ControlTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taqbridge_control_timeouts_total",
		Help: "Total control commands that timed out awaiting acknowledgement",
	})

	// WriteFailuresTotal tracks failed command writes to the worker stdin
	WriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taqbridge_write_failures_total",
		Help: "Total failed command writes to the worker input stream",
	})
)
