package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendAttemptsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat_delivery",
			Name:      "send_attempts_total",
			Help:      "Outbound transmission attempts by result class.",
		},
		[]string{"class"}, // "ok" or an ErrorClass
	)

	sendResultsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat_delivery",
			Name:      "sends_total",
			Help:      "Outbound send calls by final result.",
		},
		[]string{"result"}, // ok, not_authenticated, invalid_number, failed
	)

	sendDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chat_delivery",
			Name:      "send_duration_seconds",
			Help:      "Duration of a full send call including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	inboundEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat_delivery",
			Name:      "inbound_events_total",
			Help:      "Inbound transport events by outcome.",
		},
		[]string{"outcome"}, // stored, duplicate, discarded, storage_error
	)

	dispatchOutcomesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chat_delivery",
			Name:      "dispatch_outcomes_total",
			Help:      "Conversation dispatch outcomes.",
		},
		[]string{"outcome"},
	)

	dispatchDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chat_delivery",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of decision-service calls.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
