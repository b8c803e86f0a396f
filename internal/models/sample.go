package models

import (
	"sort"
	"time"
)

// Metric column names produced by the ingestion layer. Columns suffixed
// _avg arrive pre-aggregated from the metrics source and are never
// re-averaged by the feature engine.
const (
	MetricCPUUsage         = "cpu_usage"
	MetricMemoryUsage      = "memory_usage"
	MetricNetworkRx        = "network_rx"
	MetricNetworkTx        = "network_tx"
	MetricFilesystemUsage  = "filesystem_usage"
	MetricRestartsAvg      = "container_restarts_avg"
	MetricCPUUsageAvg      = "cpu_usage_avg"
	MetricMemoryUsageAvg   = "memory_usage_avg"
	MetricNetworkRxAvg     = "network_rx_avg"
	MetricNetworkTxAvg     = "network_tx_avg"
	MetricFilesystemAvg    = "filesystem_usage_avg"
	RollingAverageSuffix   = "_avg"
	RollingAverageWindow   = 5
	FailureFlagWindow      = 2
	ThresholdSigmaMultiple = 2.0
)

// Sample is one timestamped row of named numeric metrics. Samples are
// immutable once ingested and ordered by timestamp within a batch.
type Sample struct {
	Timestamp time.Time
	Instance  string
	Container string
	Values    map[string]float64
}

// Clone returns a deep copy so feature computation never mutates the
// ingested batch.
func (s Sample) Clone() Sample {
	values := make(map[string]float64, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	return Sample{
		Timestamp: s.Timestamp,
		Instance:  s.Instance,
		Container: s.Container,
		Values:    values,
	}
}

// SortSamples orders a batch by ascending timestamp, the processing order
// guaranteed to the analysis pipeline.
func SortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}

// FeatureRow is a Sample extended with rolling-window averages and the
// three derived failure flags.
type FeatureRow struct {
	Sample

	CPUFailure     bool
	MemoryFailure  bool
	RestartFailure bool
}

// Target reports the failure verdict precursor for the row.
func (r FeatureRow) Target() bool {
	return r.CPUFailure || r.MemoryFailure || r.RestartFailure
}

// Thresholds holds the per-batch dynamic thresholds (mean + 2*stddev),
// computed once per batch and applied uniformly to every row. A metric
// with fewer than two samples has no entry.
type Thresholds map[string]float64
