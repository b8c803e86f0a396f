// Package engine turns raw metric batches into feature rows, dynamic
// thresholds, and classifier verdicts.
package engine

import (
	"math"
	"sort"
	"strings"

	"github.com/kubemendstack/kubemend/internal/models"
)

// ComputeFeatures converts a batch of samples into feature rows. For every
// numeric column without an _avg counterpart it adds a trailing moving
// average (window 5, minimum period 1), then derives per-batch thresholds
// and the three failure flags. Pure function of the batch: identical input
// yields identical output.
func ComputeFeatures(samples []models.Sample) ([]models.FeatureRow, models.Thresholds) {
	if len(samples) == 0 {
		return nil, models.Thresholds{}
	}

	rows := make([]models.FeatureRow, len(samples))
	for i, sample := range samples {
		rows[i] = models.FeatureRow{Sample: sample.Clone()}
	}

	addRollingAverages(rows)
	thresholds := computeThresholds(rows)
	applyFailureFlags(rows, thresholds)

	return rows, thresholds
}

// addRollingAverages fills <col>_avg for every column that is neither an
// average itself nor already has an average column somewhere in the batch.
// The first row's average equals its own value; later rows average over
// min(window, available) trailing values.
func addRollingAverages(rows []models.FeatureRow) {
	columns := batchColumns(rows)

	for _, col := range columns {
		if strings.HasSuffix(col, models.RollingAverageSuffix) {
			continue
		}
		avgCol := col + models.RollingAverageSuffix
		if containsColumn(columns, avgCol) {
			continue
		}

		// Trailing values present in the current window.
		window := make([]float64, 0, models.RollingAverageWindow)
		for i := range rows {
			if v, ok := rows[i].Values[col]; ok {
				window = append(window, v)
				if len(window) > models.RollingAverageWindow {
					window = window[1:]
				}
			}
			if len(window) == 0 {
				continue
			}
			sum := 0.0
			for _, v := range window {
				sum += v
			}
			rows[i].Values[avgCol] = sum / float64(len(window))
		}
	}
}

// computeThresholds derives mean + 2*stddev once over the whole batch for
// each tracked metric. Metrics with fewer than two samples get no
// threshold, which leaves their failure flags false.
func computeThresholds(rows []models.FeatureRow) models.Thresholds {
	tracked := []string{
		models.MetricCPUUsage,
		models.MetricMemoryUsage,
		models.MetricRestartsAvg,
	}

	thresholds := make(models.Thresholds, len(tracked))
	for _, metric := range tracked {
		values := make([]float64, 0, len(rows))
		for i := range rows {
			if v, ok := rows[i].Values[metric]; ok {
				values = append(values, v)
			}
		}
		if len(values) < 2 {
			continue
		}

		mean := 0.0
		for _, v := range values {
			mean += v
		}
		mean /= float64(len(values))

		// Sample standard deviation, matching the source data's
		// statistics conventions.
		variance := 0.0
		for _, v := range values {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(values) - 1)

		thresholds[metric] = mean + models.ThresholdSigmaMultiple*math.Sqrt(variance)
	}
	return thresholds
}

// applyFailureFlags marks a row failing when itself or its immediate
// predecessor exceeds the metric threshold. The first row of a batch is
// never flagged: its 2-row window is incomplete.
func applyFailureFlags(rows []models.FeatureRow, thresholds models.Thresholds) {
	for i := 1; i < len(rows); i++ {
		rows[i].CPUFailure = windowExceeds(rows, i, models.MetricCPUUsage, thresholds)
		rows[i].MemoryFailure = windowExceeds(rows, i, models.MetricMemoryUsage, thresholds)
		rows[i].RestartFailure = windowExceeds(rows, i, models.MetricRestartsAvg, thresholds)
	}
}

func windowExceeds(rows []models.FeatureRow, i int, metric string, thresholds models.Thresholds) bool {
	threshold, ok := thresholds[metric]
	if !ok {
		return false
	}
	for _, j := range []int{i, i - 1} {
		if v, present := rows[j].Values[metric]; present && v > threshold {
			return true
		}
	}
	return false
}

// batchColumns returns every column name appearing in the batch, sorted so
// feature computation is deterministic regardless of map order.
func batchColumns(rows []models.FeatureRow) []string {
	seen := make(map[string]struct{})
	for i := range rows {
		for col := range rows[i].Values {
			seen[col] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for col := range seen {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

func containsColumn(columns []string, name string) bool {
	for _, col := range columns {
		if col == name {
			return true
		}
	}
	return false
}
