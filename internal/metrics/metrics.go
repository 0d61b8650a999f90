// Package metrics exposes controller activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
)

const namespace = "irrigation"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted    *prometheus.CounterVec
	runsStopped    *prometheus.CounterVec
	scheduleSkips  *prometheus.CounterVec
	safetyTimeouts *prometheus.CounterVec
	outputFaults   *prometheus.CounterVec
	channelActive  *prometheus.GaugeVec
	runSeconds     *prometheus.HistogramVec
	ticks          prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Channel runs started, by trigger source.",
		}, []string{"channel", "source"}),
		runsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_stopped_total",
			Help:      "Channel runs ended, by reason.",
		}, []string{"channel", "reason"}),
		scheduleSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_skips_total",
			Help:      "Scheduled runs dropped because the channel was already running.",
		}, []string{"channel"}),
		safetyTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_timeouts_total",
			Help:      "Runs force-stopped by the safety ceiling.",
		}, []string{"channel"}),
		outputFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_faults_total",
			Help:      "Failed valve output writes.",
		}, []string{"channel"}),
		channelActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_active",
			Help:      "1 while a channel's valve is open.",
		}, []string{"channel"}),
		runSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "Length of finished channel runs.",
			Buckets:   []float64{60, 300, 600, 1200, 1800, 3600, 7200, 14400, 18000},
		}, []string{"channel"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Controller evaluation passes.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.runsStarted,
		m.runsStopped,
		m.scheduleSkips,
		m.safetyTimeouts,
		m.outputFaults,
		m.channelActive,
		m.runSeconds,
		m.ticks,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTick counts one controller tick.
func (m *Metrics) ObserveTick() { m.ticks.Inc() }

// HandleEvent updates the collectors for a controller event.
func (m *Metrics) HandleEvent(e irrigation.Event) {
	ch := strconv.Itoa(e.Channel)
	switch e.Type {
	case irrigation.EventStarted:
		m.runsStarted.WithLabelValues(ch, string(e.Source)).Inc()
		m.channelActive.WithLabelValues(ch).Set(1)
	case irrigation.EventStopped:
		m.runsStopped.WithLabelValues(ch, string(e.Reason)).Inc()
		m.channelActive.WithLabelValues(ch).Set(0)
		m.runSeconds.WithLabelValues(ch).Observe(e.Elapsed.Seconds())
	case irrigation.EventSkipped:
		m.scheduleSkips.WithLabelValues(ch).Inc()
	case irrigation.EventSafetyTimeout:
		m.safetyTimeouts.WithLabelValues(ch).Inc()
	case irrigation.EventFault:
		m.outputFaults.WithLabelValues(ch).Inc()
	}
}
