// SPDX-License-Identifier: MIT

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	leasesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accountserver",
			Name:      "leases_issued_total",
			Help:      "Total leases issued, by rate-limit classification",
		},
		[]string{"state"},
	)

	leasesDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "accountserver",
			Name:      "leases_denied_total",
			Help:      "Total lease requests denied with no candidate",
		},
	)

	forceReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "accountserver",
			Name:      "force_released_total",
			Help:      "Total leases reclaimed after exceeding the hold limit",
		},
	)
)
