package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	HTTPRequestSize   *prometheus.HistogramVec
	HTTPResponseSize  *prometheus.HistogramVec

	// Workflow Metrics
	WorkflowExecutionsTotal *prometheus.CounterVec
	WorkflowDuration        *prometheus.HistogramVec
	WorkflowStepDuration    *prometheus.HistogramVec
	WorkflowErrors          *prometheus.CounterVec
	ActiveExecutions        *prometheus.GaugeVec

	// State Machine Metrics
	TransitionsTotal  *prometheus.CounterVec
	TransitionsDenied *prometheus.CounterVec

	// Approval Metrics
	ApprovalsTotal   *prometheus.CounterVec
	ApprovalDuration *prometheus.HistogramVec
	ApprovalTimeouts *prometheus.CounterVec

	// Notification Metrics
	NotificationsSent *prometheus.CounterVec

	// Worker Metrics
	WorkerJobsProcessed *prometheus.CounterVec
	WorkerJobDuration   *prometheus.HistogramVec
	WorkerErrors        *prometheus.CounterVec

	// Authentication Metrics
	AuthFailuresTotal    *prometheus.CounterVec
	AuthTokenValidations *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	m := &Metrics{
		// HTTP Metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),

		// Workflow Metrics
		WorkflowExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_executions_total",
				Help: "Total number of workflow executions",
			},
			[]string{"workflow_id", "status"},
		),
		WorkflowDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_execution_duration_seconds",
				Help:    "Workflow execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~102s
			},
			[]string{"workflow_id"},
		),
		WorkflowStepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_step_duration_seconds",
				Help:    "Workflow step execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 0.01s to ~10s
			},
			[]string{"workflow_id", "step_type", "status"},
		),
		WorkflowErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_execution_errors_total",
				Help: "Total number of workflow execution errors",
			},
			[]string{"workflow_id", "error_type"},
		),
		ActiveExecutions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "active_workflow_executions",
				Help: "Number of currently running workflow executions",
			},
			[]string{"workflow_id"},
		),

		// State Machine Metrics
		TransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "state_transitions_total",
				Help: "Total number of executed state transitions",
			},
			[]string{"model_type", "transition"},
		),
		TransitionsDenied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "state_transitions_denied_total",
				Help: "Total number of state transitions refused by a guard",
			},
			[]string{"model_type", "reason"},
		),

		// Approval Metrics
		ApprovalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvals_total",
				Help: "Total number of approval decisions",
			},
			[]string{"status", "workflow_id"},
		),
		ApprovalDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "approvals_duration_seconds",
				Help:    "Time to approval in seconds",
				Buckets: prometheus.ExponentialBuckets(60, 2, 10), // 1min to ~17hrs
			},
			[]string{"workflow_id"},
		),
		ApprovalTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_timeouts_total",
				Help: "Total number of approvals resolved by the timeout sweep",
			},
			[]string{"policy"},
		),

		// Notification Metrics
		NotificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_sent_total",
				Help: "Total number of notifications sent",
			},
			[]string{"channel", "status"},
		),

		// Worker Metrics
		WorkerJobsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_jobs_processed_total",
				Help: "Total number of jobs processed by workers",
			},
			[]string{"worker_type", "status"},
		),
		WorkerJobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "worker_job_duration_seconds",
				Help:    "Worker job processing duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~102s
			},
			[]string{"worker_type"},
		),
		WorkerErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_errors_total",
				Help: "Total number of worker errors",
			},
			[]string{"worker_type"},
		),

		// Authentication Metrics
		AuthFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_failures_total",
				Help: "Total number of authentication failures",
			},
			[]string{"reason"},
		),
		AuthTokenValidations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_token_validations_total",
				Help: "Total number of token validation attempts",
			},
			[]string{"valid"},
		),
	}

	return m
}
