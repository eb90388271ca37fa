package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "estimate_uploads_total",
		Help: "Total number of estimate jobs uploaded.",
	})
	PaywallBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "estimate_paywall_blocked_total",
		Help: "Total number of uploads rejected by the free-tier paywall.",
	})
	PricingSuggestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estimate_pricing_suggestions_total",
		Help: "Total number of suggested prices computed, by lane.",
	}, []string{"lane"})
	PricingRedPenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estimate_pricing_red_pen_total",
		Help: "Total number of suggested prices flagged for review, by lane.",
	}, []string{"lane"})
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estimate_exports_total",
		Help: "Total number of bid tickets exported, by output format.",
	}, []string{"format"})
	SubscriptionsVerifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "estimate_subscriptions_verified_total",
		Help: "Total number of subscriptions verified.",
	})
	ExportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "estimate_export_duration_seconds",
		Help:    "Duration of a bid ticket export including PDF rendering.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
)
