package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

// Metrics holds the Prometheus collectors for the orchestrator. It
// implements bots.Observer.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted *prometheus.CounterVec
	SessionFailures *prometheus.CounterVec
	WorkerExits     *prometheus.CounterVec
	WorkersReaped   prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
}

// New registers all collectors. running reports the number of live workers
// at scrape time.
func New(namespace string, running func() int) *Metrics {
	if namespace == "" {
		namespace = "vai_rooms"
	}

	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		SessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Worker sessions successfully started",
			},
			[]string{"variant"},
		),
		SessionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_failures_total",
				Help:      "Session starts that failed, by failure kind",
			},
			[]string{"kind"},
		),
		WorkerExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_exits_total",
				Help:      "Worker processes that exited, by final status",
			},
			[]string{"status"},
		),
		WorkersReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workers_reaped_total",
				Help:      "Exited workers removed from the registry",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served, by route and status code",
			},
			[]string{"route", "status"},
		),
	}

	reg.MustRegister(
		m.SessionsStarted,
		m.SessionFailures,
		m.WorkerExits,
		m.WorkersReaped,
		m.HTTPRequests,
	)
	if running != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_running",
				Help:      "Worker processes currently running",
			},
			func() float64 { return float64(running()) },
		))
	}

	return m
}

func (m *Metrics) SessionStarted(variant string) {
	m.SessionsStarted.WithLabelValues(variant).Inc()
}

func (m *Metrics) SessionFailed(kind string) {
	m.SessionFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) WorkerExited(status registry.Status) {
	m.WorkerExits.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) Reaped(n int) {
	if n > 0 {
		m.WorkersReaped.Add(float64(n))
	}
}

func (m *Metrics) ObserveRequest(route string, status int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
