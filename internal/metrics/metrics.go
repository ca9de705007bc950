package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wainbox",
	Name:      "webhook_events_total",
	Help:      "Webhook events processed, by event kind and outcome.",
}, []string{"kind", "outcome"})

var Sends = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wainbox",
	Name:      "sends_total",
	Help:      "Operator sends, by outcome.",
}, []string{"outcome"})
