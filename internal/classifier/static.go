package classifier

import (
	"context"

	"github.com/kubemendstack/kubemend/internal/models"
)

// StaticThresholdClassifier predicts failure when any tracked metric
// exceeds a fixed cutoff. It stands in when no model endpoint is
// configured; the live remediation path still derives its failure flags
// from the dynamic per-batch thresholds upstream.
type StaticThresholdClassifier struct {
	CPUThreshold     float64
	MemoryThreshold  float64
	RestartThreshold float64
}

// NewStaticThresholdClassifier returns a classifier with the cutoffs used
// when the model was trained offline: 80% CPU, 100MB memory, 3 restarts.
func NewStaticThresholdClassifier() *StaticThresholdClassifier {
	return &StaticThresholdClassifier{
		CPUThreshold:     0.8,
		MemoryThreshold:  100_000_000,
		RestartThreshold: 3,
	}
}

// Predict applies the fixed cutoffs to each row.
func (c *StaticThresholdClassifier) Predict(_ context.Context, rows []map[string]float64) ([]int, error) {
	predictions := make([]int, len(rows))
	for i, row := range rows {
		if row[models.MetricCPUUsage] > c.CPUThreshold ||
			row[models.MetricMemoryUsage] > c.MemoryThreshold ||
			row[models.MetricRestartsAvg] > c.RestartThreshold {
			predictions[i] = 1
		}
	}
	return predictions, nil
}
