package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the chat core counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SendsConfirmed  *prometheus.CounterVec
	SendsFailed     *prometheus.CounterVec
	RemoteInserts   prometheus.Counter
	RemoteDuplicate prometheus.Counter
	SignalsReceived *prometheus.CounterVec
	SignalsExpired  *prometheus.CounterVec
	Recordings      *prometheus.CounterVec
}

// New registers the counters on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SendsConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talkie",
			Name:      "sends_confirmed_total",
			Help:      "Optimistic sends acknowledged by the backend.",
		}, []string{"kind"}),
		SendsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talkie",
			Name:      "sends_failed_total",
			Help:      "Optimistic sends rolled back after a backend failure.",
		}, []string{"kind"}),
		RemoteInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "talkie",
			Name:      "remote_inserts_total",
			Help:      "Remote-origin messages appended to a store.",
		}),
		RemoteDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "talkie",
			Name:      "remote_duplicates_total",
			Help:      "Remote-origin messages ignored because the id was already present.",
		}),
		SignalsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talkie",
			Name:      "presence_signals_received_total",
			Help:      "Presence signals received from other participants.",
		}, []string{"kind"}),
		SignalsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talkie",
			Name:      "presence_signals_expired_total",
			Help:      "Presence signals dropped by timeout.",
		}, []string{"kind"}),
		Recordings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talkie",
			Name:      "recordings_total",
			Help:      "Recording sessions by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.SendsConfirmed, m.SendsFailed,
		m.RemoteInserts, m.RemoteDuplicate,
		m.SignalsReceived, m.SignalsExpired,
		m.Recordings,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SendConfirmed(kind string) {
	if m != nil {
		m.SendsConfirmed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SendFailed(kind string) {
	if m != nil {
		m.SendsFailed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) RemoteInsert(duplicate bool) {
	if m == nil {
		return
	}
	if duplicate {
		m.RemoteDuplicate.Inc()
		return
	}
	m.RemoteInserts.Inc()
}

func (m *Metrics) SignalReceived(kind string) {
	if m != nil {
		m.SignalsReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SignalExpired(kind string) {
	if m != nil {
		m.SignalsExpired.WithLabelValues(kind).Inc()
	}
}

// Recording counts a recorder transition: started, stopped, cancelled, forced_stop, denied.
func (m *Metrics) Recording(outcome string) {
	if m != nil {
		m.Recordings.WithLabelValues(outcome).Inc()
	}
}
