package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "lotline_"

var (
	registerOnce sync.Once

	bidsTotal      *prometheus.CounterVec
	bidRetries     prometheus.Counter
	bidLatency     *prometheus.HistogramVec
	sweepCloses    prometheus.Counter
	sweepFailures  prometheus.Counter
	settlements    *prometheus.CounterVec
	settlementRuns *prometheus.CounterVec
	deltasTotal    *prometheus.CounterVec
	deltasDropped  prometheus.Counter
	watchToggles   *prometheus.CounterVec
)

// Init registers the engine metric set. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		bidsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bids_total",
				Help: "Bid attempts by outcome (accepted, rejected, conflict)",
			},
			[]string{"outcome"},
		)
		bidRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "bid_cas_retries_total",
				Help: "CAS retries during bid placement",
			},
		)
		bidLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bid_latency_seconds",
				Help:    "PlaceBid latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)
		sweepCloses = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_closes_total",
				Help: "Auctions transitioned to ended by the sweep loop",
			},
		)
		sweepFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_failures_total",
				Help: "Sweep close attempts that failed",
			},
		)
		settlements = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlements_total",
				Help: "Settlement outcomes (created, duplicate, no_sale, failed)",
			},
			[]string{"result"},
		)
		settlementRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_retry_runs_total",
				Help: "Settlement retry worker passes by result",
			},
			[]string{"result"},
		)
		deltasTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "deltas_published_total",
				Help: "Deltas published to the fanout by kind",
			},
			[]string{"kind"},
		)
		deltasDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "delta_subscribers_evicted_total",
				Help: "Subscribers evicted for falling behind",
			},
		)
		watchToggles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "watch_toggles_total",
				Help: "Watch toggles by new state (on, off)",
			},
			[]string{"state"},
		)

		prometheus.MustRegister(
			bidsTotal,
			bidRetries,
			bidLatency,
			sweepCloses,
			sweepFailures,
			settlements,
			settlementRuns,
			deltasTotal,
			deltasDropped,
			watchToggles,
		)
	})
}

func RecordBid(outcome string, seconds float64) {
	if bidsTotal == nil {
		return
	}
	bidsTotal.WithLabelValues(outcome).Inc()
	bidLatency.WithLabelValues(outcome).Observe(seconds)
}

func RecordBidRetry() {
	if bidRetries == nil {
		return
	}
	bidRetries.Inc()
}

func RecordSweepClose() {
	if sweepCloses == nil {
		return
	}
	sweepCloses.Inc()
}

func RecordSweepFailure() {
	if sweepFailures == nil {
		return
	}
	sweepFailures.Inc()
}

func RecordSettlement(result string) {
	if settlements == nil {
		return
	}
	settlements.WithLabelValues(result).Inc()
}

func RecordSettlementRetryRun(result string) {
	if settlementRuns == nil {
		return
	}
	settlementRuns.WithLabelValues(result).Inc()
}

func RecordDeltaPublished(kind string) {
	if deltasTotal == nil {
		return
	}
	deltasTotal.WithLabelValues(kind).Inc()
}

func RecordDeltaDropped() {
	if deltasDropped == nil {
		return
	}
	deltasDropped.Inc()
}

func RecordWatchToggle(on bool) {
	if watchToggles == nil {
		return
	}
	if on {
		watchToggles.WithLabelValues("on").Inc()
	} else {
		watchToggles.WithLabelValues("off").Inc()
	}
}
