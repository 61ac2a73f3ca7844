package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topoquery_requests_total",
		Help: "Chat requests by terminal status",
	}, []string{"status"})

	AttemptsPerRequest = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "topoquery_attempts_per_request",
		Help:    "Synthesis attempts consumed per request",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "topoquery_stage_duration_seconds",
		Help:    "Duration of each workflow stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topoquery_cache_lookups_total",
		Help: "Cache lookups by outcome and cache type",
	}, []string{"cache_type", "outcome"})

	FeedbackPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topoquery_feedback_promotions_total",
		Help: "Feedback entries promoted into the example pool",
	})

	PoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "topoquery_pool_size",
		Help: "Example pool size by source",
	}, []string{"source"})
)

// Handler serves the Prometheus scrape endpoint inside fiber.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
