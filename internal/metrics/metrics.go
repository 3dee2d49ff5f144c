// Package metrics exposes prometheus collectors for the realtime core.
// All methods are safe on a nil *Metrics so components can run without it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg        *prometheus.Registry
	sessions   prometheus.Gauge
	users      prometheus.Gauge
	deliveries *prometheus.CounterVec
	calls      *prometheus.CounterVec
	inbound    *prometheus.CounterVec
	presence   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dialogue",
			Name:      "sessions_active",
			Help:      "Live connections held by the session registry.",
		}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dialogue",
			Name:      "users_online",
			Help:      "Identities with at least one live connection.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialogue",
			Name:      "deliveries_total",
			Help:      "Per-session event deliveries by event and result.",
		}, []string{"event", "result"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialogue",
			Name:      "calls_total",
			Help:      "Finished call signaling attempts by outcome.",
		}, []string{"outcome"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialogue",
			Name:      "inbound_events_total",
			Help:      "Decoded inbound client events by type.",
		}, []string{"type"}),
	}
	m.presence = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialogue",
		Name:      "presence_changes_total",
		Help:      "Users going online or offline.",
	}, []string{"state"})
	m.reg.MustRegister(m.sessions, m.users, m.deliveries, m.calls, m.inbound, m.presence)
	return m
}

func (m *Metrics) SetPresence(sessions, users int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(sessions))
	m.users.Set(float64(users))
}

func (m *Metrics) Delivered(event string, ok, failed int) {
	if m == nil {
		return
	}
	if ok > 0 {
		m.deliveries.WithLabelValues(event, "ok").Add(float64(ok))
	}
	if failed > 0 {
		m.deliveries.WithLabelValues(event, "failed").Add(float64(failed))
	}
}

func (m *Metrics) CallFinished(outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Inbound(kind string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(kind).Inc()
}

func (m *Metrics) PresenceChanged(online bool) {
	if m == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	m.presence.WithLabelValues(state).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
