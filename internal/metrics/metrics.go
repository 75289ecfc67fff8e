// Package metrics holds the prometheus collectors of the monitor.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry every memepulse collector is registered with.
var Registry = prometheus.NewRegistry()

var (
	jobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memepulse",
		Name:      "job_runs_total",
		Help:      "Scheduled job executions by result.",
	}, []string{"job", "result"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "memepulse",
		Name:      "job_duration_seconds",
		Help:      "Duration of scheduled job executions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	symbolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memepulse",
		Name:      "symbol_errors_total",
		Help:      "Per-symbol failures inside monitor ticks.",
	}, []string{"stage", "symbol"})

	lastPrice = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "memepulse",
		Name:      "last_price",
		Help:      "Last observed price per symbol.",
	}, []string{"symbol"})

	alertTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memepulse",
		Name:      "alert_transitions_total",
		Help:      "Alerts leaving the pending state.",
	}, []string{"status"})

	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memepulse",
		Name:      "events_published_total",
		Help:      "Push events handed to publishers.",
	}, []string{"event", "result"})

	subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "memepulse",
		Name:      "ws_subscribers",
		Help:      "Connected websocket subscribers.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memepulse",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "memepulse",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		jobRuns,
		jobDuration,
		symbolErrors,
		lastPrice,
		alertTransitions,
		eventsPublished,
		subscribers,
		httpRequests,
		httpDuration,
	)
}

// Handler exposes the registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveJob records one scheduled job execution.
func ObserveJob(job string, took time.Duration, err error) {
	jobRuns.WithLabelValues(job, result(err)).Inc()
	jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

// SymbolError counts a per-symbol failure in the given stage.
func SymbolError(stage, symbol string) {
	symbolErrors.WithLabelValues(stage, symbol).Inc()
}

// SetLastPrice records the last observed price of a symbol.
func SetLastPrice(symbol string, price float64) {
	lastPrice.WithLabelValues(symbol).Set(price)
}

// AlertTransition counts an alert reaching a terminal status.
func AlertTransition(status string) {
	alertTransitions.WithLabelValues(status).Inc()
}

// EventPublished counts one publish attempt.
func EventPublished(event string, err error) {
	eventsPublished.WithLabelValues(event, result(err)).Inc()
}

// SetSubscribers records the number of connected websocket clients.
func SetSubscribers(n int) {
	subscribers.Set(float64(n))
}

// InstrumentHandler records request counts and latency by route template.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
