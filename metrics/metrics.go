// Package metrics defines the prometheus collectors flowd and
// flowlookupd expose on /metrics, grounded on the reference broker's
// counter/gauge/histogram naming for publish rate, queue depth,
// in-flight count, and requeue/timeout activity.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// MessagesPublished counts every message accepted by a topic, by
	// topic name.
	MessagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmq",
			Subsystem: "broker",
			Name:      "messages_published_total",
			Help:      "Total messages published to a topic.",
		},
		[]string{"topic"},
	)

	// MessagesDelivered counts every message handed to a subscribed
	// client, by topic and channel.
	MessagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmq",
			Subsystem: "broker",
			Name:      "messages_delivered_total",
			Help:      "Total messages delivered to a channel's clients.",
		},
		[]string{"topic", "channel"},
	)

	// MessagesRequeued counts REQ and timeout-driven requeues, by topic
	// and channel and reason.
	MessagesRequeued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmq",
			Subsystem: "broker",
			Name:      "messages_requeued_total",
			Help:      "Total messages requeued, by reason (client or timeout).",
		},
		[]string{"topic", "channel", "reason"},
	)

	// QueueDepth reports the current buffered depth of a topic or
	// channel queue.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowmq",
			Subsystem: "broker",
			Name:      "queue_depth",
			Help:      "Current buffered message count.",
		},
		[]string{"topic", "channel"},
	)

	// InFlightCount reports the current number of unacknowledged
	// messages for a channel.
	InFlightCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowmq",
			Subsystem: "broker",
			Name:      "in_flight_count",
			Help:      "Current in-flight (delivered, unacknowledged) message count.",
		},
		[]string{"topic", "channel"},
	)

	// ConnectedClients reports the current client count per channel.
	ConnectedClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowmq",
			Subsystem: "broker",
			Name:      "connected_clients",
			Help:      "Current number of clients subscribed to a channel.",
		},
		[]string{"topic", "channel"},
	)

	// RegisteredProducers reports, on the registry side, the number of
	// live producers known for a topic.
	RegisteredProducers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowmq",
			Subsystem: "registry",
			Name:      "registered_producers",
			Help:      "Current number of live producers registered for a topic.",
		},
		[]string{"topic"},
	)
)

// MustRegister registers every collector in this package with reg.
// Called once at process startup by each binary's main.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		MessagesPublished,
		MessagesDelivered,
		MessagesRequeued,
		QueueDepth,
		InFlightCount,
		ConnectedClients,
		RegisteredProducers,
	)
}
