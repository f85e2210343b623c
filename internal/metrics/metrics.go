package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_request_transitions_total",
			Help: "Delivery request status transitions by target status",
		},
		[]string{"status"},
	)

	ApprovalConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_request_approval_conflicts_total",
		Help: "Status updates rejected because the request already left pending",
	})

	ProcessingClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_claims_total",
			Help: "Processing claim attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeliveryTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_transitions_total",
			Help: "Delivery status transitions by target status",
		},
		[]string{"status"},
	)

	PropagationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_request_propagation_failures_total",
		Help: "Delivery status changes whose propagation to the bound request failed",
	})

	ReconcileRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_request_reconcile_repairs_total",
		Help: "Requests repaired by reconciliation",
	})

	ArchiveDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_rows_deleted_total",
			Help: "Rows removed by archive clearing",
		},
		[]string{"entity"},
	)
)
