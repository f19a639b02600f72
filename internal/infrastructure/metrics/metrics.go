// Package metrics exports approval workflow and HTTP metrics to Prometheus
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

const namespace = "expense_approval"

// Recorder owns the service's collectors
type Recorder struct {
	events        *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	openWorkflows prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRecorder registers the collectors with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_events_total",
				Help:      "Workflow domain events published after commit",
			},
			[]string{"type"},
		),
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Approval request decisions by outcome",
			},
			[]string{"outcome"},
		),
		openWorkflows: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workflows_open",
				Help:      "Workflows in the database that have not reached a terminal state",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Subscribe attaches the recorder to every event on the dispatcher
func (r *Recorder) Subscribe(d dispatcher.Dispatcher) {
	d.SubscribeAll("metrics", r.HandleEvent)
}

// HandleEvent updates counters for a workflow event
func (r *Recorder) HandleEvent(ctx context.Context, evt *event.Event) error {
	r.events.WithLabelValues(string(evt.Type)).Inc()

	switch evt.Type {
	case event.TypeRequestApproved:
		r.decisions.WithLabelValues("approved").Inc()
	case event.TypeRequestRejected:
		r.decisions.WithLabelValues("rejected").Inc()
	}
	return nil
}

// SetOpenWorkflows reports the current approval backlog
func (r *Recorder) SetOpenWorkflows(n int64) {
	r.openWorkflows.Set(float64(n))
}

// ObserveHTTP records one served request
func (r *Recorder) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Handler serves the metrics in g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
