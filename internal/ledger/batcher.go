package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/kubemendstack/kubemend/internal/metrics"
)

const alertSubject = "Kubernetes Deployment Failure Report"

// Batcher drains the ledger on a fixed interval and dispatches one
// consolidated alert per non-empty drain. It runs independently of the
// ingestion and analysis loops and never blocks on them.
type Batcher struct {
	ledger   *Ledger
	sink     AlertSink
	interval time.Duration
	logger   *slog.Logger
}

// NewBatcher constructs a batcher flushing the given ledger to the sink.
func NewBatcher(l *Ledger, sink AlertSink, interval time.Duration, logger *slog.Logger) *Batcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{ledger: l, sink: sink, interval: interval, logger: logger}
}

// Run flushes on every tick until ctx is cancelled. A final flush on
// shutdown delivers any records accumulated since the last tick.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

// Flush drains the ledger and, if any records were pending, delivers one
// alert. Delivery failure is logged, not retried; the drained records are
// considered consumed either way.
func (b *Batcher) Flush() {
	records := b.ledger.Drain()
	if len(records) == 0 {
		return
	}

	metrics.ObserveFlush(len(records))
	body := FormatReport(records)
	if err := b.sink.Deliver(alertSubject, body); err != nil {
		b.logger.Error("alert delivery failed", slog.Int("records", len(records)), slog.Any("error", err))
		return
	}
	b.logger.Info("alert sent", slog.Int("records", len(records)))
}
