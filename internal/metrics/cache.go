// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckCacheOpsTotal tracks check-result cache operations by backend and outcome
var CheckCacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "taqbridge_check_cache_ops_total",
	Help: "Check-result cache operations",
}, []string{"backend", "op"})
