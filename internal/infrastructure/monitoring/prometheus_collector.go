package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	connectionsOpen prometheus.Gauge
	usersOnline     prometheus.Gauge

	// Counters
	connectionsTotal   prometheus.Counter
	handshakesRejected prometheus.Counter
	presenceBroadcasts prometheus.Counter
	pushFailuresTotal  prometheus.Counter
	eventsRouted       *prometheus.CounterVec
	framesDelivered    *prometheus.CounterVec

	// Histograms
	connectionDuration prometheus.Histogram
}

// NewPrometheusCollector registers relay metrics on the given registerer.
// Tests pass a fresh prometheus.NewRegistry to avoid duplicate registration.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_connections_open",
			Help: "Number of currently open WebSocket connections",
		}),

		usersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_users_online",
			Help: "Number of users with at least one open connection",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),

		handshakesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_handshakes_rejected_total",
			Help: "Total number of handshakes rejected by authentication",
		}),

		presenceBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_presence_broadcasts_total",
			Help: "Total number of presence snapshots broadcast",
		}),

		pushFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_push_failures_total",
			Help: "Total number of failed pushes that forced a disconnect",
		}),

		eventsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_events_routed_total",
			Help: "Total number of routed message events by outcome",
		}, []string{"status"}),

		framesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_frames_delivered_total",
			Help: "Total number of delivered message frames by audience",
		}, []string{"audience"}),

		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatrelay_connection_duration_seconds",
			Help:    "Lifetime of closed WebSocket connections",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
}

func (p *PrometheusCollector) RecordConnectionOpened() {
	p.connectionsOpen.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed(lifetimeSeconds float64) {
	p.connectionsOpen.Dec()
	p.connectionDuration.Observe(lifetimeSeconds)
}

func (p *PrometheusCollector) SetUsersOnline(n int) {
	p.usersOnline.Set(float64(n))
}

func (p *PrometheusCollector) RecordHandshakeRejected() {
	p.handshakesRejected.Inc()
}

func (p *PrometheusCollector) RecordPresenceBroadcast() {
	p.presenceBroadcasts.Inc()
}

func (p *PrometheusCollector) RecordPushFailure() {
	p.pushFailuresTotal.Inc()
}

func (p *PrometheusCollector) RecordEventRouted(status string) {
	p.eventsRouted.WithLabelValues(status).Inc()
}

func (p *PrometheusCollector) RecordFrameDelivered(audience string) {
	p.framesDelivered.WithLabelValues(audience).Inc()
}
