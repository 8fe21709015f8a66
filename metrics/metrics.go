// Package metrics exposes Prometheus collectors for storage allocation and reconciliation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AllocationTotal counts allocation operations.
	// Labels: operation (assign, move, release, bulk_move), result (success, partial, or the error kind)
	AllocationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pawn_storage",
			Subsystem: "allocation",
			Name:      "operations_total",
			Help:      "Total number of slot allocation operations",
		},
		[]string{"operation", "result"},
	)

	// AllocationDuration tracks how long an allocation transaction takes.
	AllocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pawn_storage",
			Subsystem: "allocation",
			Name:      "duration_seconds",
			Help:      "Duration of slot allocation transactions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// ScansTotal counts reconciliation scans.
	// Labels: classification (matched, unexpected, rejected)
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pawn_storage",
			Subsystem: "reconciliation",
			Name:      "scans_total",
			Help:      "Total number of reconciliation barcode scans",
		},
		[]string{"classification"},
	)

	// SessionsTotal counts reconciliation session transitions.
	// Labels: status (started, completed, cancelled, expired)
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pawn_storage",
			Subsystem: "reconciliation",
			Name:      "sessions_total",
			Help:      "Total number of reconciliation session transitions",
		},
		[]string{"status"},
	)

	// MissingItems counts items reported missing by completed sessions.
	MissingItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pawn_storage",
			Subsystem: "reconciliation",
			Name:      "missing_items_total",
			Help:      "Total number of items reported missing by completed sessions",
		},
	)
)
