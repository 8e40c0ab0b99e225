package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchTotal 分发批次结果 outcome: settled/aborted
	BatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stakex",
		Name:      "treasury_batch_total",
		Help:      "Distribution batches by outcome.",
	}, []string{"outcome", "reason"})

	// PayoutTotal 单笔发放结果 result: distributed/skipped/failed
	PayoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stakex",
		Name:      "treasury_payout_total",
		Help:      "Per-stake payouts by result.",
	}, []string{"result"})

	FundingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stakex",
		Name:      "treasury_funding_total",
		Help:      "Committed funding operations.",
	})

	AvailableBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stakex",
		Name:      "treasury_available_balance",
		Help:      "Available balance after the last committed ledger write (approximate float).",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stakex",
		Name:      "treasury_batch_duration_seconds",
		Help:      "Distribution batch latency.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	})
)
