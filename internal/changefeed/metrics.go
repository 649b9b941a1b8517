package changefeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_changefeed_events_total",
		Help: "Change notifications received from PostgreSQL, by operation",
	}, []string{"op"})

	eventsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postfeed_changefeed_coalesced_total",
		Help: "Deliveries folded into an already pending one for a busy subscriber",
	})

	listenerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postfeed_changefeed_reconnects_total",
		Help: "Times the change listener lost its connection and had to reconnect",
	})

	listenerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postfeed_changefeed_connected",
		Help: "1 while the change listener holds a LISTEN connection",
	})

	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postfeed_changefeed_subscribers",
		Help: "Current number of change feed subscribers",
	})
)
