// Package metrics holds the prometheus collectors shared by the pool and the
// dispatch path. They register with the default registry on import.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	responseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poolserve_response_time_seconds",
			Help:    "time from accepted connection to written response.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	totalHttpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "poolserve_http_requests_total", Help: "http requests by code, and method"},
		[]string{"code", "method"},
	)

	poolBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "poolserve_pool_busy_contexts", Help: "execution contexts currently running a job."},
	)

	poolQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "poolserve_pool_queued_jobs", Help: "jobs waiting for a free execution context."},
	)

	poolJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "poolserve_pool_jobs_total", Help: "finished jobs by outcome."},
		[]string{"outcome"},
	)

	contextsLost = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "poolserve_pool_contexts_lost_total", Help: "execution contexts that failed to open or were discarded."},
		[]string{"reason"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poolserve_pool_job_duration_seconds",
			Help:    "time an execution context spent on one job.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		responseTime,
		totalHttpRequests,
		poolBusy,
		poolQueued,
		poolJobs,
		contextsLost,
		jobDuration,
	)
}

// Outcome labels for ObserveJob.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeClosed = "closed"
)

// Reasons for ObserveContextLost.
const (
	LostCreateFailed = "create_failed"
	LostDiscarded    = "discarded"
)

// MethodOther labels every method outside the standard set.
const MethodOther = "OTHER"

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodConnect: {},
	http.MethodTrace:   {},
}

// methodLabel keeps the method label set fixed; clients choose the method.
func methodLabel(method string) string {
	method = strings.ToUpper(method)
	if _, ok := knownMethods[method]; ok {
		return method
	}
	return MethodOther
}

// ObserveRequest records one written response.
func ObserveRequest(status int, method string, elapsed time.Duration) {
	totalHttpRequests.WithLabelValues(strconv.Itoa(status), methodLabel(method)).Inc()
	responseTime.Observe(elapsed.Seconds())
}

// ObserveJob records one finished pool job.
func ObserveJob(outcome string, elapsed time.Duration) {
	poolJobs.WithLabelValues(outcome).Inc()
	if outcome != OutcomeClosed {
		jobDuration.Observe(elapsed.Seconds())
	}
}

// ObserveContextLost counts an execution context the pool could not keep.
func ObserveContextLost(reason string) {
	contextsLost.WithLabelValues(reason).Inc()
}

// SetPoolLoad publishes the pool's current busy and queued counts.
func SetPoolLoad(busy, queued int) {
	poolBusy.Set(float64(busy))
	poolQueued.Set(float64(queued))
}

// Handler returns the /metrics handler.
func Handler() http.Handler { return promhttp.Handler() }
