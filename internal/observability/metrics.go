package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	actionDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	stageDurationBuckets  = []float64{3600, 14400, 43200, 86400, 172800, 604800, 1209600}
)

// Metrics holds all Prometheus metric instruments for the workflow engine.
type Metrics struct {
	// HTTP metrics (ops endpoints)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Workflow metrics
	WorkflowStartsTotal      *prometheus.CounterVec
	TransitionsAppliedTotal  *prometheus.CounterVec
	TransitionConflictsTotal *prometheus.CounterVec
	WorkflowCompletionsTotal *prometheus.CounterVec
	EscalationsTotal         *prometheus.CounterVec
	WorkflowActiveInstances  *prometheus.GaugeVec
	StageDuration            *prometheus.HistogramVec

	// Action dispatch metrics
	ActionDispatchesTotal *prometheus.CounterVec
	ActionDuration        *prometheus.HistogramVec
	ActionDedupSkipsTotal *prometheus.CounterVec
	DispatchQueueDepth    prometheus.Gauge

	// SLA metrics
	SLABreachesTotal *prometheus.CounterVec
	SLAPollDuration  prometheus.Histogram

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflows
		WorkflowStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_workflow_starts_total",
			Help: "Total number of workflow instances started.",
		}, []string{"workflow_id"}),
		TransitionsAppliedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_transitions_applied_total",
			Help: "Total number of stage transitions applied.",
		}, []string{"workflow_id", "stage_id"}),
		TransitionConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_transition_conflicts_total",
			Help: "Total number of transitions rejected by the version check.",
		}, []string{"workflow_id"}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_workflow_completions_total",
			Help: "Total number of workflow instances completed.",
		}, []string{"workflow_id"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_escalations_total",
			Help: "Total number of workflow instance escalations.",
		}, []string{"workflow_id"}),
		WorkflowActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "caseflow_workflow_active_instances",
			Help: "Number of active workflow instances.",
		}, []string{"workflow_id"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_stage_duration_seconds",
			Help:    "Time spent in a stage before exiting it, in seconds.",
			Buckets: stageDurationBuckets,
		}, []string{"workflow_id", "stage_id"}),

		// Actions
		ActionDispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_action_dispatches_total",
			Help: "Total number of action executions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_action_duration_seconds",
			Help:    "Action execution duration in seconds.",
			Buckets: actionDurationBuckets,
		}, []string{"kind"}),
		ActionDedupSkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_action_dedup_skips_total",
			Help: "Total number of action batches skipped as already delivered.",
		}, []string{"kind"}),
		DispatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caseflow_dispatch_queue_depth",
			Help: "Number of action batches waiting in the dispatch queue.",
		}),

		// SLA
		SLABreachesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_sla_breaches_total",
			Help: "Total number of stage duration budget breaches observed.",
		}, []string{"workflow_id", "stage_id"}),
		SLAPollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "caseflow_sla_poll_duration_seconds",
			Help:    "Duration of a single SLA poll sweep in seconds.",
			Buckets: httpDurationBuckets,
		}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_definition_reload_total",
			Help: "Total definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caseflow_definitions_loaded",
			Help: "Number of loaded workflow definitions.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		// Workflows
		m.WorkflowStartsTotal,
		m.TransitionsAppliedTotal,
		m.TransitionConflictsTotal,
		m.WorkflowCompletionsTotal,
		m.EscalationsTotal,
		m.WorkflowActiveInstances,
		m.StageDuration,
		// Actions
		m.ActionDispatchesTotal,
		m.ActionDuration,
		m.ActionDedupSkipsTotal,
		m.DispatchQueueDepth,
		// SLA
		m.SLABreachesTotal,
		m.SLAPollDuration,
		// System
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordWorkflowStart records a new workflow instance.
func (m *Metrics) RecordWorkflowStart(workflowID string) {
	m.WorkflowStartsTotal.WithLabelValues(workflowID).Inc()
	m.WorkflowActiveInstances.WithLabelValues(workflowID).Inc()
}

// RecordTransitionApplied records an applied stage transition.
func (m *Metrics) RecordTransitionApplied(workflowID, stageID string) {
	m.TransitionsAppliedTotal.WithLabelValues(workflowID, stageID).Inc()
}

// RecordTransitionConflict records a transition rejected by the version check.
func (m *Metrics) RecordTransitionConflict(workflowID string) {
	m.TransitionConflictsTotal.WithLabelValues(workflowID).Inc()
}

// RecordWorkflowCompletion records a workflow instance reaching COMPLETED.
func (m *Metrics) RecordWorkflowCompletion(workflowID string) {
	m.WorkflowCompletionsTotal.WithLabelValues(workflowID).Inc()
	m.WorkflowActiveInstances.WithLabelValues(workflowID).Dec()
}

// RecordEscalation records a workflow instance escalation.
func (m *Metrics) RecordEscalation(workflowID string) {
	m.EscalationsTotal.WithLabelValues(workflowID).Inc()
}

// RecordStageDuration records the time an instance spent in a stage.
func (m *Metrics) RecordStageDuration(workflowID, stageID string, duration time.Duration) {
	m.StageDuration.WithLabelValues(workflowID, stageID).Observe(duration.Seconds())
}

// RecordActionDispatch records an action execution.
func (m *Metrics) RecordActionDispatch(kind, outcome string, duration time.Duration) {
	m.ActionDispatchesTotal.WithLabelValues(kind, outcome).Inc()
	m.ActionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordActionDedupSkip records a batch skipped because it was already delivered.
func (m *Metrics) RecordActionDedupSkip(kind string) {
	m.ActionDedupSkipsTotal.WithLabelValues(kind).Inc()
}

// SetDispatchQueueDepth sets the number of queued action batches.
func (m *Metrics) SetDispatchQueueDepth(depth int) {
	m.DispatchQueueDepth.Set(float64(depth))
}

// RecordSLABreach records a stage exceeding its duration budget.
func (m *Metrics) RecordSLABreach(workflowID, stageID string) {
	m.SLABreachesTotal.WithLabelValues(workflowID, stageID).Inc()
}

// RecordSLAPoll records the duration of one SLA sweep.
func (m *Metrics) RecordSLAPoll(duration time.Duration) {
	m.SLAPollDuration.Observe(duration.Seconds())
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
