// Package metrics defines the Prometheus metrics exported by the dbqueue server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts messages enqueued through the API.
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbqueue_messages_sent_total",
			Help: "Total number of messages sent",
		},
		[]string{"queue"},
	)

	// MessagesReceived counts messages claimed through the API.
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbqueue_messages_received_total",
			Help: "Total number of messages received",
		},
		[]string{"queue"},
	)

	// MessagesAcked counts ack requests.
	MessagesAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbqueue_messages_acked_total",
			Help: "Total number of messages acknowledged",
		},
		[]string{"queue"},
	)

	// MessagesRejected counts reject requests.
	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbqueue_messages_rejected_total",
			Help: "Total number of messages rejected",
		},
		[]string{"queue"},
	)

	// PoisonMessages counts claimed messages that could not be decoded.
	PoisonMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbqueue_poison_messages_total",
			Help: "Total number of undecodable messages rejected on receive",
		},
		[]string{"queue"},
	)

	// TransportErrors counts store failures surfaced by the API.
	TransportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbqueue_transport_errors_total",
			Help: "Total number of transport errors",
		},
		[]string{"operation"},
	)
)
