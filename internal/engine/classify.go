package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kubemendstack/kubemend/internal/models"
)

// ErrClassifierUnavailable signals that the injected classification
// capability is absent or failed. The whole batch is skipped, never
// defaulted to failure.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// Classifier is the injected binary-classification capability. It receives
// the full imputed feature vector, including _avg columns, and returns one
// 0/1 decision per row.
type Classifier interface {
	Predict(ctx context.Context, rows []map[string]float64) ([]int, error)
}

// Gateway prepares feature rows for classification and interprets the
// classifier's output. It does not implement or retrain a model.
type Gateway struct {
	classifier Classifier
}

// NewGateway wraps the injected classifier capability.
func NewGateway(classifier Classifier) *Gateway {
	return &Gateway{classifier: classifier}
}

// Classify imputes missing values and produces one Verdict per row.
func (g *Gateway) Classify(ctx context.Context, rows []models.FeatureRow) ([]models.Verdict, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if g == nil || g.classifier == nil {
		return nil, ErrClassifierUnavailable
	}

	vectors := ImputeMean(rows)
	predictions, err := g.classifier.Predict(ctx, vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	if len(predictions) != len(rows) {
		return nil, fmt.Errorf("%w: got %d predictions for %d rows", ErrClassifierUnavailable, len(predictions), len(rows))
	}

	verdicts := make([]models.Verdict, len(rows))
	for i := range rows {
		verdicts[i] = models.Verdict{
			RowIndex:         i,
			FailurePredicted: predictions[i] == 1,
			Snapshot:         snapshotOf(rows[i]),
		}
	}
	return verdicts, nil
}

// ImputeMean fills each missing value with the per-column mean over the
// batch. A column with no values at all becomes a column of zeros.
func ImputeMean(rows []models.FeatureRow) []map[string]float64 {
	columns := batchColumns(rows)

	means := make(map[string]float64, len(columns))
	for _, col := range columns {
		sum, count := 0.0, 0
		for i := range rows {
			if v, ok := rows[i].Values[col]; ok {
				sum += v
				count++
			}
		}
		if count > 0 {
			means[col] = sum / float64(count)
		}
	}

	vectors := make([]map[string]float64, len(rows))
	for i := range rows {
		vector := make(map[string]float64, len(columns))
		for _, col := range columns {
			if v, ok := rows[i].Values[col]; ok {
				vector[col] = v
			} else {
				vector[col] = means[col]
			}
		}
		vectors[i] = vector
	}
	return vectors
}

// FeatureColumns lists the imputed vector's columns in deterministic
// order, for classifiers that need a stable feature layout.
func FeatureColumns(rows []models.FeatureRow) []string {
	columns := batchColumns(rows)
	sort.Strings(columns)
	return columns
}

func snapshotOf(row models.FeatureRow) models.MetricsSnapshot {
	return models.MetricsSnapshot{
		CPUUsage:    row.Values[models.MetricCPUUsage],
		MemoryUsage: row.Values[models.MetricMemoryUsage],
		RestartsAvg: row.Values[models.MetricRestartsAvg],
	}
}
