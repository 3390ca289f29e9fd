// Package metrics defines the Prometheus collectors exported by the chat server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing,
// which keeps call sites free of nil checks in tests.
type Metrics struct {
	Connections   prometheus.Gauge
	OccupiedRooms prometheus.Gauge
	FramesIn      *prometheus.CounterVec
	FramesOut     *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
	GroupEvents   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "groupchat",
			Name:      "connections",
			Help:      "Live websocket connections.",
		}),
		OccupiedRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "groupchat",
			Name:      "occupied_rooms",
			Help:      "Rooms with at least one joined connection.",
		}),
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupchat",
			Name:      "frames_received_total",
			Help:      "Client frames received, by event name.",
		}, []string{"event"}),
		FramesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupchat",
			Name:      "frames_sent_total",
			Help:      "Frames queued for delivery, by event name.",
		}, []string{"event"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupchat",
			Name:      "frames_dropped_total",
			Help:      "Client frames dropped, by reason.",
		}, []string{"reason"}),
		GroupEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupchat",
			Name:      "group_events_total",
			Help:      "Group membership domain events, by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.Connections, m.OccupiedRooms, m.FramesIn, m.FramesOut, m.FramesDropped, m.GroupEvents)
	return m
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.Connections.Set(float64(n))
	}
}

func (m *Metrics) SetOccupiedRooms(n int) {
	if m != nil {
		m.OccupiedRooms.Set(float64(n))
	}
}

func (m *Metrics) FrameReceived(event string) {
	if m != nil {
		m.FramesIn.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) FrameSent(event string, n int) {
	if m != nil && n > 0 {
		m.FramesOut.WithLabelValues(event).Add(float64(n))
	}
}

func (m *Metrics) FrameDropped(reason string) {
	if m != nil {
		m.FramesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) GroupEvent(kind string) {
	if m != nil {
		m.GroupEvents.WithLabelValues(kind).Inc()
	}
}
