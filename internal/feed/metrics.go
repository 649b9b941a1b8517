package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_feed_fetches_total",
		Help: "Feed fetches by outcome: applied, stale (discarded) or error",
	}, []string{"result"})

	mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_feed_mutations_total",
		Help: "Post create, update and delete calls by outcome",
	}, []string{"op", "result"})

	imageUploadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postfeed_feed_image_upload_failures_total",
		Help: "Posts saved without their image because processing or upload failed",
	}, []string{"reason"})

	activeControllers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postfeed_feed_active_controllers",
		Help: "Feed controllers currently held by the session registry",
	})
)
