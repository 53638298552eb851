package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes gateway metrics. All methods are nil-safe so
// components can run without metrics in tests.
type PrometheusCollector struct {
	connectionsOpen prometheus.Gauge
	roomsOccupied   prometheus.Gauge
	sessionsLive    prometheus.Gauge

	commandsTotal   *prometheus.CounterVec
	commandDuration prometheus.Histogram

	broadcastsTotal        prometheus.Counter
	deliveryFailuresTotal  prometheus.Counter
	messagesBlockedTotal   prometheus.Counter
	signalsDroppedTotal    prometheus.Counter
	moderationOutagesTotal prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "edulive_connections_open",
			Help: "Number of open websocket connections",
		}),

		roomsOccupied: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "edulive_rooms_occupied",
			Help: "Number of rooms with at least one online user",
		}),

		sessionsLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "edulive_sessions_live",
			Help: "Number of video sessions with at least one participant",
		}),

		commandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "edulive_commands_total",
			Help: "Inbound commands processed, by command name and outcome",
		}, []string{"command", "outcome"}),

		commandDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "edulive_command_duration_seconds",
			Help:    "Time spent handling one inbound command",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}),

		broadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "edulive_broadcasts_total",
			Help: "Fan-out operations performed",
		}),

		deliveryFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "edulive_delivery_failures_total",
			Help: "Per-connection delivery failures during fan-out",
		}),

		messagesBlockedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "edulive_messages_blocked_total",
			Help: "Messages rejected by the moderation classifier",
		}),

		signalsDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "edulive_signals_dropped_total",
			Help: "WebRTC signals dropped because the target was offline",
		}),

		moderationOutagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "edulive_moderation_outages_total",
			Help: "Moderation calls rejected by the open circuit breaker",
		}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	if p != nil {
		p.connectionsOpen.Inc()
	}
}

func (p *PrometheusCollector) ConnectionClosed() {
	if p != nil {
		p.connectionsOpen.Dec()
	}
}

func (p *PrometheusCollector) SetRoomsOccupied(n int) {
	if p != nil {
		p.roomsOccupied.Set(float64(n))
	}
}

func (p *PrometheusCollector) SetSessionsLive(n int) {
	if p != nil {
		p.sessionsLive.Set(float64(n))
	}
}

func (p *PrometheusCollector) CommandHandled(command string, err error, elapsed time.Duration) {
	if p == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.commandsTotal.WithLabelValues(command, outcome).Inc()
	p.commandDuration.Observe(elapsed.Seconds())
}

func (p *PrometheusCollector) BroadcastSent() {
	if p != nil {
		p.broadcastsTotal.Inc()
	}
}

func (p *PrometheusCollector) DeliveryFailed() {
	if p != nil {
		p.deliveryFailuresTotal.Inc()
	}
}

func (p *PrometheusCollector) MessageBlocked() {
	if p != nil {
		p.messagesBlockedTotal.Inc()
	}
}

func (p *PrometheusCollector) SignalDropped() {
	if p != nil {
		p.signalsDroppedTotal.Inc()
	}
}

func (p *PrometheusCollector) ModerationOutage() {
	if p != nil {
		p.moderationOutagesTotal.Inc()
	}
}
