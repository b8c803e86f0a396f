package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
)

var (
	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kubemend",
			Name:      "verdicts_total",
			Help:      "Classifier verdicts produced, partitioned by result.",
		},
		[]string{"result"},
	)

	remediationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kubemend",
			Name:      "remediation_actions_total",
			Help:      "Remediation actions executed, partitioned by token and outcome.",
		},
		[]string{"action", "outcome"},
	)

	adviceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kubemend",
			Name:      "advice_requests_total",
			Help:      "Advisory requests issued, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	ledgerFlushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kubemend",
			Name:      "ledger_flushes_total",
			Help:      "Alert batch flushes that carried at least one record.",
		},
	)

	ledgerFlushSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kubemend",
			Name:      "ledger_flush_records",
			Help:      "Number of failure records per flushed alert.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kubemend",
			Name:      "analysis_seconds",
			Help:      "Analysis run latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	ingestBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kubemend",
			Name:      "ingest_batches_total",
			Help:      "Metric batches fetched, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches the agent's collectors to the supplied Prometheus
// registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		verdictsTotal,
		remediationActionsTotal,
		adviceRequestsTotal,
		ledgerFlushesTotal,
		ledgerFlushSize,
		analysisDurationSeconds,
		ingestBatchesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveVerdict counts one classifier verdict.
func ObserveVerdict(failure bool) {
	result := "no_failure"
	if failure {
		result = "failure"
	}
	verdictsTotal.WithLabelValues(result).Inc()
}

// ObserveAction counts one executed remediation action.
func ObserveAction(action string, success bool) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeError
	}
	remediationActionsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveAdvice counts one advisory request.
func ObserveAdvice(outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	adviceRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFlush records one non-empty ledger flush.
func ObserveFlush(records int) {
	ledgerFlushesTotal.Inc()
	ledgerFlushSize.Observe(float64(records))
}

// ObserveAnalysis records one analysis run duration.
func ObserveAnalysis(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveIngest counts one ingestion cycle.
func ObserveIngest(outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	ingestBatchesTotal.WithLabelValues(outcome).Inc()
}
