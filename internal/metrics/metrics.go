// Package metrics exposes the messaging server counters in the Prometheus
// text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "palaver"

// Frame results recorded by FramesIn.
const (
	FrameOK       = "ok"
	FrameRejected = "rejected"
	FrameFailed   = "failed"
)

// Metrics groups every collector. Each instance owns its registry, so tests
// can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedClients   prometheus.Gauge
	Connections        prometheus.Counter
	Disconnects        prometheus.Counter
	FramesIn           *prometheus.CounterVec
	MessagesOut        prometheus.Counter
	DroppedSlowClients prometheus.Counter

	QueuePushed  prometheus.Counter
	QueueDrained prometheus.Counter
	QueueErrors  prometheus.Counter
	QueueDepth   prometheus.Gauge

	OnlineUsers prometheus.Gauge
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connected_clients",
			Help: "Live websocket connections held by this process.",
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections_total",
			Help: "Authorized websocket connections accepted.",
		}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "disconnects_total",
			Help: "Websocket connections closed.",
		}),
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "frames_in_total",
			Help: "Inbound frames by event type and result.",
		}, []string{"type", "result"}),
		MessagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "messages_out_total",
			Help: "Outbound frames queued on a connection.",
		}),
		DroppedSlowClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "dropped_slow_clients_total",
			Help: "Connections closed because their send buffer was full.",
		}),

		QueuePushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "signal_queue", Name: "pushed_total",
			Help: "Messages pushed onto the signal queue by this process.",
		}),
		QueueDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "signal_queue", Name: "drained_total",
			Help: "Messages popped from the signal queue and fanned out.",
		}),
		QueueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "signal_queue", Name: "errors_total",
			Help: "Signal queue store errors and malformed messages.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "signal_queue", Name: "depth",
			Help: "Messages waiting in the signal queue at the last sample.",
		}),

		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "online_users",
			Help: "Users in the shared presence set at the last sample.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ConnectedClients,
		m.Connections,
		m.Disconnects,
		m.FramesIn,
		m.MessagesOut,
		m.DroppedSlowClients,
		m.QueuePushed,
		m.QueueDrained,
		m.QueueErrors,
		m.QueueDepth,
		m.OnlineUsers,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
