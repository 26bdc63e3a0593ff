// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Distribution metrics
	DistributionRuns     *prometheus.CounterVec
	DistributionDuration prometheus.Histogram
	HoldersPaid          prometheus.Counter
	HoldersSkipped       prometheus.Counter
	HoldersFailed        prometheus.Counter
	TransferAttempts     prometheus.Counter
	TransferRetries      prometheus.Counter

	// Liquidity pool metrics
	PoolDeposits      *prometheus.CounterVec
	PoolWithdrawals   *prometheus.CounterVec
	PoolAvailableUSDC *prometheus.GaugeVec
	LPTokenSupply     *prometheus.GaugeVec
	RejectedPoolOps   *prometheus.CounterVec

	// Lending metrics
	LoansOriginated  prometheus.Counter
	LoansRepaid      prometheus.Counter
	LoansLiquidated  prometheus.Counter
	LoanHealthChecks prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Price feed metrics
	PriceFeedRequests prometheus.Counter
	PriceFeedErrors   prometheus.Counter
	PriceFeedLatency  prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "grovevault"
	}

	return &Metrics{
		// Distribution metrics
		DistributionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "runs_total",
			Help:      "Total number of distribution runs by outcome",
		}, []string{"outcome"}),
		DistributionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of distribution runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		HoldersPaid: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "holders_paid_total",
			Help:      "Total number of holder payouts settled",
		}),
		HoldersSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "holders_skipped_total",
			Help:      "Total number of zero-share holders recorded as skipped",
		}),
		HoldersFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "holders_failed_total",
			Help:      "Total number of holder payouts that exhausted retries",
		}),
		TransferAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "transfer_attempts_total",
			Help:      "Total number of asset mover transfer attempts",
		}),
		TransferRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "transfer_retries_total",
			Help:      "Total number of asset mover retry attempts",
		}),

		// Liquidity pool metrics
		PoolDeposits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "deposits_total",
			Help:      "Total number of liquidity deposits by asset",
		}, []string{"asset"}),
		PoolWithdrawals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "withdrawals_total",
			Help:      "Total number of liquidity withdrawals by asset",
		}, []string{"asset"}),
		PoolAvailableUSDC: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "available_usdc",
			Help:      "Available (unlent) pool liquidity in smallest USDC units",
		}, []string{"asset"}),
		LPTokenSupply: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "lp_token_supply",
			Help:      "Outstanding LP token supply",
		}, []string{"asset"}),
		RejectedPoolOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "rejected_operations_total",
			Help:      "Pool operations rejected by business rules, by reason",
		}, []string{"reason"}),

		// Lending metrics
		LoansOriginated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lending",
			Name:      "loans_originated_total",
			Help:      "Total number of loans originated",
		}),
		LoansRepaid: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lending",
			Name:      "loans_repaid_total",
			Help:      "Total number of loans fully repaid",
		}),
		LoansLiquidated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lending",
			Name:      "loans_liquidated_total",
			Help:      "Total number of loans liquidated",
		}),
		LoanHealthChecks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lending",
			Name:      "health_checks_total",
			Help:      "Total number of loan health factor evaluations",
		}),

		// Cache metrics
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of result cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of result cache misses",
		}),

		// Price feed metrics
		PriceFeedRequests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "requests_total",
			Help:      "Total number of price feed reads",
		}),
		PriceFeedErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "errors_total",
			Help:      "Total number of failed price feed reads",
		}),
		PriceFeedLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "request_duration_seconds",
			Help:      "Latency of price feed reads",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordDistributionRun records a completed distribution run.
func RecordDistributionRun(partialFailure bool, durationSeconds float64) {
	outcome := "complete"
	if partialFailure {
		outcome = "partial_failure"
	}
	DefaultMetrics.DistributionRuns.WithLabelValues(outcome).Inc()
	DefaultMetrics.DistributionDuration.Observe(durationSeconds)
}

// RecordTransferAttempt increments the transfer attempt counter, counting
// everything after the first attempt for a holder as a retry.
func RecordTransferAttempt(attempt int) {
	DefaultMetrics.TransferAttempts.Inc()
	if attempt > 1 {
		DefaultMetrics.TransferRetries.Inc()
	}
}

// RecordHolderOutcome records the terminal outcome for one holder payout.
func RecordHolderOutcome(skipped, failed bool) {
	switch {
	case skipped:
		DefaultMetrics.HoldersSkipped.Inc()
	case failed:
		DefaultMetrics.HoldersFailed.Inc()
	default:
		DefaultMetrics.HoldersPaid.Inc()
	}
}

// UpdatePoolGauges updates the per-asset pool gauges.
func UpdatePoolGauges(asset string, availableUSDC, lpSupply float64) {
	DefaultMetrics.PoolAvailableUSDC.WithLabelValues(asset).Set(availableUSDC)
	DefaultMetrics.LPTokenSupply.WithLabelValues(asset).Set(lpSupply)
}

// RecordPoolDeposit increments the deposit counter for an asset.
func RecordPoolDeposit(asset string) {
	DefaultMetrics.PoolDeposits.WithLabelValues(asset).Inc()
}

// RecordPoolWithdrawal increments the withdrawal counter for an asset.
func RecordPoolWithdrawal(asset string) {
	DefaultMetrics.PoolWithdrawals.WithLabelValues(asset).Inc()
}

// RecordRejectedPoolOp records a pool operation rejected by a business rule.
func RecordRejectedPoolOp(reason string) {
	DefaultMetrics.RejectedPoolOps.WithLabelValues(reason).Inc()
}

// RecordCacheLookup records a result cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		DefaultMetrics.CacheHits.Inc()
	} else {
		DefaultMetrics.CacheMisses.Inc()
	}
}

// RecordPriceFeedRequest records a price feed read.
func RecordPriceFeedRequest(seconds float64, err error) {
	DefaultMetrics.PriceFeedRequests.Inc()
	DefaultMetrics.PriceFeedLatency.Observe(seconds)
	if err != nil {
		DefaultMetrics.PriceFeedErrors.Inc()
	}
}
