package router

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for provider routing.
type Metrics struct {
	requestsTotal  *prometheus.CounterVec
	fallbacksTotal *prometheus.CounterVec
	timeoutsTotal  *prometheus.CounterVec
	callLatency    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachpipe",
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Total routed LLM requests",
		}, []string{"provider", "status"}),
		fallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachpipe",
			Subsystem: "router",
			Name:      "fallbacks_total",
			Help:      "Total fallback attempts after a primary provider failure",
		}, []string{"from", "to"}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachpipe",
			Subsystem: "router",
			Name:      "timeouts_total",
			Help:      "Total provider calls that hit their deadline",
		}, []string{"provider"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coachpipe",
			Subsystem: "router",
			Name:      "call_latency_seconds",
			Help:      "Latency of individual provider calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.fallbacksTotal, m.timeoutsTotal, m.callLatency)
	return m
}

func (m *Metrics) ObserveRequest(provider, status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) ObserveFallback(from, to string) {
	if m == nil {
		return
	}
	m.fallbacksTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveTimeout(provider string) {
	if m == nil {
		return
	}
	m.timeoutsTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) ObserveCallLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.callLatency.WithLabelValues(provider).Observe(seconds)
}
