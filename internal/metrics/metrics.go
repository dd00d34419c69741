// Package metrics exposes the detector's Prometheus series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"griefwatch.dev/internal/detect/alert"
)

const namespace = "griefwatch"

type Metrics struct {
	reg *prometheus.Registry

	eventsTotal      *prometheus.CounterVec
	alertsTotal      *prometheus.CounterVec
	sessionResets    prometheus.Counter
	bansTotal        *prometheus.CounterVec
	trackedLocations prometheus.Gauge
	trackedActors    prometheus.Gauge

	wsMessagesTotal *prometheus.CounterVec
	wsConnections   prometheus.Gauge
}

// New registers every series on a fresh registry (plus the Go and process collectors).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Host events applied by the engine, by kind",
		}, []string{"kind"}),
		alertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts offered to the dispatcher, by rule, severity and outcome",
		}, []string{"rule", "severity", "outcome"}),
		sessionResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resets_total",
			Help:      "World loads that cleared the ledger",
		}),
		bansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autobans_total",
			Help:      "Autoban attempts, by result",
		}, []string{"result"}),
		trackedLocations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_locations",
			Help:      "Cells currently held in the location registry",
		}),
		trackedActors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_actors",
			Help:      "Actors currently held in the actor registry",
		}),
		wsMessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Inbound host bridge messages, by type and result",
		}, []string{"type", "result"}),
		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open host bridge connections",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

// Alert matches alert.Config.OnOutcome.
func (m *Metrics) Alert(a alert.Alert, _ string, outcome alert.Outcome) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(a.Rule, a.Severity.String(), string(outcome)).Inc()
}

func (m *Metrics) SessionReset() {
	if m == nil {
		return
	}
	m.sessionResets.Inc()
}

func (m *Metrics) Autoban(ok bool) {
	if m == nil {
		return
	}
	result := "refused"
	if ok {
		result = "banned"
	}
	m.bansTotal.WithLabelValues(result).Inc()
}

// SetRegistrySizes must be called from the engine goroutine (the registries are not locked).
func (m *Metrics) SetRegistrySizes(locations, actors int) {
	if m == nil {
		return
	}
	m.trackedLocations.Set(float64(locations))
	m.trackedActors.Set(float64(actors))
}

func (m *Metrics) WSMessage(typ, result string) {
	if m == nil {
		return
	}
	m.wsMessagesTotal.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) WSConnected(delta int) {
	if m == nil {
		return
	}
	m.wsConnections.Add(float64(delta))
}

// Queue exposes a background writer's depth and drop count, read at scrape time.
func (m *Metrics) Queue(name string, depth, dropped func() float64) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"queue": name}
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "queue_depth",
			Help:        "Pending records in a background writer queue",
			ConstLabels: labels,
		}, depth),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "queue_dropped_total",
			Help:        "Records dropped because a background writer queue was full",
			ConstLabels: labels,
		}, dropped),
	)
}
