package classifier

import (
	"context"
	"log/slog"
)

type predictor interface {
	Predict(ctx context.Context, rows []map[string]float64) ([]int, error)
}

// Fallback tries the primary classifier and falls back to the backup on
// any error. Both sides see the same imputed rows.
type Fallback struct {
	primary predictor
	backup  predictor
	logger  *slog.Logger
}

// NewFallback chains two classifiers. A nil primary means the backup is
// used directly.
func NewFallback(primary, backup predictor, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, backup: backup, logger: logger}
}

// Predict delegates to the primary, then the backup.
func (f *Fallback) Predict(ctx context.Context, rows []map[string]float64) ([]int, error) {
	if f.primary != nil {
		predictions, err := f.primary.Predict(ctx, rows)
		if err == nil {
			return predictions, nil
		}
		f.logger.Warn("primary classifier failed, using static thresholds",
			slog.String("error", err.Error()))
	}
	return f.backup.Predict(ctx, rows)
}
