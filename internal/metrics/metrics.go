// Package metrics holds the Prometheus collectors for lovepush.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	PushSendsTotal    *prometheus.CounterVec
	BroadcastsTotal   prometheus.Counter
	RegistrationTotal *prometheus.CounterVec

	TriggerChecksTotal *prometheus.CounterVec
	GatewayState       *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lovepush_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lovepush_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		PushSendsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lovepush_push_sends_total",
			Help: "Web push deliveries by result (success, failed, deactivated)",
		}, []string{"result"}),
		BroadcastsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lovepush_push_broadcasts_total",
			Help: "Completed push broadcasts",
		}),
		RegistrationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lovepush_registrations_total",
			Help: "User registrations by kind",
		}, []string{"kind"}),
		TriggerChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lovepush_trigger_checks_total",
			Help: "Daily trigger checks by outcome",
		}, []string{"outcome"}),
		GatewayState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lovepush_gateway_state",
			Help: "1 for the current permission gateway state, 0 otherwise",
		}, []string{"state"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveHTTP(method, path string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(took.Seconds())
}

func (m *Metrics) PushSend(result string) {
	if m == nil {
		return
	}
	m.PushSendsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Inc()
}

func (m *Metrics) Registered(kind string) {
	if m == nil {
		return
	}
	m.RegistrationTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) TriggerCheck(outcome string) {
	if m == nil {
		return
	}
	m.TriggerChecksTotal.WithLabelValues(outcome).Inc()
}

// SetGatewayState marks state as current and clears the others.
func (m *Metrics) SetGatewayState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.GatewayState.WithLabelValues(s).Set(v)
	}
}
