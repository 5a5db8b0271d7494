// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks currently registered form-fill sessions
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taqbridge_active_sessions",
		Help: "Currently active form-fill sessions",
	})

	// ConnectedViewers tracks live push-channel connections
	ConnectedViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taqbridge_connected_viewers",
		Help: "Currently connected push-channel viewers",
	})

	// RoomEventsTotal tracks lifecycle events emitted to report rooms
	RoomEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taqbridge_room_events_total",
		Help: "Total lifecycle events emitted to report rooms",
	}, []string{"event"})

	// GraceTimersTotal tracks reconnect grace timer outcomes
	GraceTimersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taqbridge_grace_timers_total",
		Help: "Total reconnect grace timers by outcome",
	}, []string{"outcome"})
)
