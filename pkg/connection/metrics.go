package connection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_requests_total",
		Help: "Requests emitted on the channel, by event name.",
	}, []string{"event"})

	requestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_request_errors_total",
		Help: "Requests that failed to write or were rejected by the server.",
	}, []string{"event"})

	pushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_pushes_total",
		Help: "Subscription pushes routed to a local mirror.",
	})

	pushesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_pushes_dropped_total",
		Help: "Subscription pushes that arrived after their subscriber left.",
	})
)
