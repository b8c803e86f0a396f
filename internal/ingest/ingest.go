// Package ingest periodically collects the watched metrics from the
// metrics source and persists each merged batch for analysis.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/kubemendstack/kubemend/internal/metrics"
	"github.com/kubemendstack/kubemend/internal/models"
	"github.com/kubemendstack/kubemend/internal/repo"
)

// metricQueries maps each metric column to the instant query that
// produces it. Columns suffixed _avg are cluster-wide aggregates and
// carry no instance or container labels.
var metricQueries = []struct {
	Name  string
	Query string
}{
	{models.MetricCPUUsage, `rate(container_cpu_usage_seconds_total[1m])`},
	{models.MetricMemoryUsage, `container_memory_usage_bytes`},
	{models.MetricNetworkRx, `rate(container_network_receive_bytes_total[1m])`},
	{models.MetricNetworkTx, `rate(container_network_transmit_bytes_total[1m])`},
	{models.MetricFilesystemUsage, `container_fs_usage_bytes`},
	{models.MetricCPUUsageAvg, `avg(rate(container_cpu_usage_seconds_total[1m]))`},
	{models.MetricMemoryUsageAvg, `avg(container_memory_usage_bytes)`},
	{models.MetricNetworkRxAvg, `avg(rate(container_network_receive_bytes_total[1m]))`},
	{models.MetricNetworkTxAvg, `avg(rate(container_network_transmit_bytes_total[1m]))`},
	{models.MetricFilesystemAvg, `avg(container_fs_usage_bytes)`},
	{models.MetricRestartsAvg, `avg(kube_pod_container_status_restarts_total)`},
}

// BatchStore persists merged batches.
type BatchStore interface {
	SaveBatch(samples []models.Sample) (int64, error)
}

// Collector fetches every configured metric, merges the results into
// timestamped samples and writes the batch to the store.
type Collector struct {
	prom   *repo.PrometheusClient
	store  BatchStore
	logger *slog.Logger
}

// NewCollector wires the metrics client to the batch store.
func NewCollector(prom *repo.PrometheusClient, store BatchStore, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{prom: prom, store: store, logger: logger}
}

// CollectOnce runs every metric query, merges the results and persists a
// batch. A metric that fails to fetch is skipped; the cycle only fails
// when nothing at all was collected or the store write fails.
func (c *Collector) CollectOnce(ctx context.Context) (int, error) {
	merged := map[sampleKey]*models.Sample{}
	fetched := 0

	for _, mq := range metricQueries {
		results, err := c.prom.Query(ctx, mq.Query)
		if err != nil {
			c.logger.Warn("metric fetch failed",
				slog.String("metric", mq.Name), slog.String("error", err.Error()))
			continue
		}
		if len(results) == 0 {
			c.logger.Debug("no data for metric", slog.String("metric", mq.Name))
			continue
		}
		fetched++
		mergeMetric(merged, mq.Name, results)
	}

	if fetched == 0 {
		metrics.ObserveIngest(metrics.OutcomeSuccess)
		return 0, nil
	}

	samples := make([]models.Sample, 0, len(merged))
	for _, s := range merged {
		samples = append(samples, *s)
	}
	models.SortSamples(samples)

	if _, err := c.store.SaveBatch(samples); err != nil {
		metrics.ObserveIngest(metrics.OutcomeError)
		return 0, err
	}
	metrics.ObserveIngest(metrics.OutcomeSuccess)
	c.logger.Info("metrics batch persisted",
		slog.Int("rows", len(samples)), slog.Int("metrics", fetched))
	return len(samples), nil
}

// Run fetches on the interval until the context is cancelled. The first
// collection happens immediately.
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if _, err := c.CollectOnce(ctx); err != nil {
		c.logger.Error("initial collection failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.CollectOnce(ctx); err != nil {
				c.logger.Error("collection failed", slog.String("error", err.Error()))
			}
		}
	}
}

type sampleKey struct {
	ts        int64
	instance  string
	container string
}

// mergeMetric folds one metric's series into the batch under
// construction. Series sharing timestamp, instance and container land in
// the same row, an outer join across metrics.
func mergeMetric(merged map[sampleKey]*models.Sample, name string, results []repo.MetricSample) {
	for _, r := range results {
		key := sampleKey{ts: r.Timestamp.Unix(), instance: r.Instance, container: r.Container}
		row, ok := merged[key]
		if !ok {
			row = &models.Sample{
				Timestamp: r.Timestamp,
				Instance:  r.Instance,
				Container: r.Container,
				Values:    map[string]float64{},
			}
			merged[key] = row
		}
		row.Values[name] = r.Value
	}
}
