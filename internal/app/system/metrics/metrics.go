// Package metrics exposes Prometheus counters for the authorization gate and
// the edit-lock protocol. Served at /metrics via promhttp.
//
// Lock-acquire conflicts are worth watching: locks have no TTL, so a rising
// conflict count against a flat release count usually means an abandoned lock.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateDenials counts operation-gate denials by operation name.
	GateDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbor",
		Name:      "gate_denials_total",
		Help:      "Authorization gate denials by operation.",
	}, []string{"operation"})

	// LockAcquires counts successful edit-lock acquisitions.
	LockAcquires = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbor",
		Name:      "edit_lock_acquires_total",
		Help:      "Successful edit-lock acquisitions.",
	})

	// LockConflicts counts acquire attempts rejected because another user
	// holds the lock.
	LockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbor",
		Name:      "edit_lock_conflicts_total",
		Help:      "Edit-lock acquire attempts rejected with a conflict.",
	})

	// InviteDispatchErrors counts invitation emails that failed to send.
	// Dispatch is fire-and-forget, so these never fail the inviting request.
	InviteDispatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbor",
		Name:      "invite_dispatch_errors_total",
		Help:      "Invitation emails that failed to send.",
	})
)
