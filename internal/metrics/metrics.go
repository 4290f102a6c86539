package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "navtracker"

// Recorder owns a private registry with the tracker's collectors.
type Recorder struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	attempts      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	skipped       prometheus.Counter
	windowSize    prometheus.Gauge
	status        *prometheus.GaugeVec
	lastNAV       prometheus.Gauge
	lastPrice     prometheus.Gauge
	lastDiff      prometheus.Gauge
	alerts        *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Collection cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a collection cycle including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45},
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP attempts per endpoint and result.",
		}, []string{"endpoint", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Retries scheduled per endpoint.",
		}, []string{"endpoint"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Ticks dropped because a cycle was still running.",
		}),
		windowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_samples",
			Help:      "Samples currently held in the sliding window.",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "1 for the current session status, 0 otherwise.",
		}, []string{"status"}),
		lastNAV: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_nav",
			Help:      "NAV of the newest sample.",
		}),
		lastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price",
			Help:      "Price of the newest sample.",
		}),
		lastDiff: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_difference",
			Help:      "Difference (nav - price) of the newest sample.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Difference alerts emitted by direction.",
		}, []string{"direction"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.cycles,
		r.cycleDuration,
		r.attempts,
		r.retries,
		r.skipped,
		r.windowSize,
		r.status,
		r.lastNAV,
		r.lastPrice,
		r.lastDiff,
		r.alerts,
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveCycle counts a finished cycle.
func (r *Recorder) ObserveCycle(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.Observe(elapsed.Seconds())
}

// ObserveAttempt counts one HTTP attempt.
func (r *Recorder) ObserveAttempt(endpoint string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.attempts.WithLabelValues(endpoint, result).Inc()
}

// ObserveRetry counts a scheduled retry.
func (r *Recorder) ObserveRetry(endpoint string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(endpoint).Inc()
}

// AddSkipped adds dropped ticks.
func (r *Recorder) AddSkipped(n uint64) {
	if r == nil || n == 0 {
		return
	}
	r.skipped.Add(float64(n))
}

// SetStatus flips the status gauge to the current value.
func (r *Recorder) SetStatus(current string, all []string) {
	if r == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		r.status.WithLabelValues(s).Set(v)
	}
}

// SetWindow records window size and the newest values.
func (r *Recorder) SetWindow(size int, nav, price, diff float64) {
	if r == nil {
		return
	}
	r.windowSize.Set(float64(size))
	if size == 0 {
		return
	}
	r.lastNAV.Set(nav)
	r.lastPrice.Set(price)
	r.lastDiff.Set(diff)
}

// ObserveAlert counts an emitted alert.
func (r *Recorder) ObserveAlert(direction string) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(direction).Inc()
}
