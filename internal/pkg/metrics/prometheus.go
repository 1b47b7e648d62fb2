package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibms_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ibms_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	WorkflowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibms_workflow_transitions_total",
			Help: "Entry status transitions by action and target status",
		},
		[]string{"action", "to_status"},
	)

	BulkWorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibms_bulk_workflow_runs_total",
			Help: "Bulk workflow calls by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	DetailConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ibms_detail_conflicts_total",
			Help: "Detail updates rejected by the updated_at token check",
		},
	)

	ClonedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibms_cloned_entries_total",
			Help: "Entries cloned into a new round by creation mode",
		},
		[]string{"mode"},
	)

	ExportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ibms_budget_book_export_seconds",
			Help:    "Budget book export duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"template"},
	)

	TemplateOverrides = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibms_template_overrides_total",
			Help: "Template override attempts by sheet and reason",
		},
		[]string{"sheet", "reason"},
	)

	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ibms_audit_write_failures_total",
			Help: "Audit log rows that could not be written",
		},
	)

	ERPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibms_erp_requests_total",
			Help: "ERPNext calls by method and outcome",
		},
		[]string{"method", "outcome"},
	)
)
