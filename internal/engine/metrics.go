package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	selectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_selections_total",
			Help: "Campaign selections by outcome (selected, none)",
		},
		[]string{"outcome"},
	)

	ineligibleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_ineligible_total",
			Help: "Candidates rejected by the eligibility filter, by reason",
		},
		[]string{"reason"},
	)

	candidatesEvaluated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campaign_candidates_evaluated",
			Help:    "Number of eligible candidates priced per selection",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
	)
)
