// Package services hosts the analysis runner that drives a persisted
// metrics batch through classification, advice and remediation.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kubemendstack/kubemend/internal/engine"
	"github.com/kubemendstack/kubemend/internal/events"
	"github.com/kubemendstack/kubemend/internal/metrics"
	"github.com/kubemendstack/kubemend/internal/models"
	"github.com/kubemendstack/kubemend/internal/remediator"
	"github.com/kubemendstack/kubemend/internal/resolver"
	"github.com/kubemendstack/kubemend/internal/utils"
)

// ErrAnalysisBusy is returned when a trigger arrives while a run is in
// flight. The trigger is dropped, not queued.
var ErrAnalysisBusy = errors.New("analysis already running")

// BatchSource yields the most recent persisted metrics batch.
type BatchSource interface {
	LatestBatch() ([]models.Sample, error)
}

// AdviceProvider produces remediation advice for a failing sample.
type AdviceProvider interface {
	GetAdvice(ctx context.Context, snapshot models.MetricsSnapshot) (string, error)
}

// Remediator resolves the target pod and applies resolved actions.
type Remediator interface {
	ResolvePod(ctx context.Context, deployment, namespace string) (string, error)
	Execute(ctx context.Context, actions []models.ResolvedAction, target remediator.Target) []models.RemediationOutcome
}

// Runner executes one full analysis pass over the latest batch. At most
// one run is in flight at a time; concurrent triggers return
// ErrAnalysisBusy.
type Runner struct {
	source     BatchSource
	gateway    *engine.Gateway
	advisor    AdviceProvider
	resolver   *resolver.Resolver
	remediator Remediator
	emitter    *events.Emitter
	latency    *utils.LatencyTracker
	logger     *slog.Logger

	deployment       string
	namespace        string
	sampleDelay      time.Duration
	remediationDelay time.Duration

	busy atomic.Bool

	mu        sync.Mutex
	lastStats *models.RunStats
}

// RunnerConfig carries the static run parameters.
type RunnerConfig struct {
	Deployment       string
	Namespace        string
	SampleDelay      time.Duration
	RemediationDelay time.Duration
}

// NewRunner wires the pipeline stages together.
func NewRunner(source BatchSource, gateway *engine.Gateway, adv AdviceProvider, res *resolver.Resolver, rem Remediator, emitter *events.Emitter, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		source:           source,
		gateway:          gateway,
		advisor:          adv,
		resolver:         res,
		remediator:       rem,
		emitter:          emitter,
		latency:          utils.NewLatencyTracker(256),
		logger:           logger,
		deployment:       cfg.Deployment,
		namespace:        cfg.Namespace,
		sampleDelay:      cfg.SampleDelay,
		remediationDelay: cfg.RemediationDelay,
	}
}

// Trigger starts an analysis run in the background. A second trigger
// while one is running returns ErrAnalysisBusy and has no other effect.
func (r *Runner) Trigger(ctx context.Context) (string, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return "", ErrAnalysisBusy
	}
	runID := uuid.NewString()
	// The run outlives the triggering request; only values carry over.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer r.busy.Store(false)
		r.run(runCtx, runID)
	}()
	return runID, nil
}

// RunOnce executes a run synchronously, honouring the same busy guard.
func (r *Runner) RunOnce(ctx context.Context) (*models.RunStats, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrAnalysisBusy
	}
	defer r.busy.Store(false)
	return r.run(ctx, uuid.NewString()), nil
}

// LastStats returns the summary of the most recent completed run, or nil
// before the first run finishes.
func (r *Runner) LastStats() *models.RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastStats == nil {
		return nil
	}
	stats := *r.lastStats
	return &stats
}

// Running reports whether a run is currently in flight.
func (r *Runner) Running() bool {
	return r.busy.Load()
}

func (r *Runner) run(ctx context.Context, runID string) *models.RunStats {
	started := time.Now()
	defer func() {
		elapsed := time.Since(started)
		r.latency.Observe(elapsed)
		metrics.ObserveAnalysis(elapsed)
	}()

	logger := r.logger.With(slog.String("run_id", runID))
	logger.Info("analysis run starting")

	samples, err := r.source.LatestBatch()
	if err != nil {
		logger.Error("load batch failed", slog.String("error", err.Error()))
		return r.finish(runID, 0, 0)
	}
	if len(samples) == 0 {
		logger.Info("no batch available, nothing to analyze")
		return r.finish(runID, 0, 0)
	}

	rows, thresholds := engine.ComputeFeatures(samples)
	logger.Info("features computed",
		slog.Int("rows", len(rows)), slog.Int("thresholds", len(thresholds)))

	verdicts, err := r.gateway.Classify(ctx, rows)
	if err != nil {
		logger.Error("classification failed", slog.String("error", err.Error()))
		return r.finish(runID, len(rows), 0)
	}

	failures := 0
	for _, v := range verdicts {
		if v.FailurePredicted {
			failures++
		}
	}
	r.emitter.Emit(events.Event{
		Kind:    events.KindRunSummary,
		RunID:   runID,
		Message: fmt.Sprintf("analyzing %d samples, %d predicted failures", len(verdicts), failures),
		Fields: map[string]any{
			"total_samples": len(verdicts),
			"failures":      failures,
		},
	})

	for i, verdict := range verdicts {
		if i > 0 && !r.pause(ctx, r.sampleDelay) {
			logger.Warn("run cancelled", slog.Int("sample", i+1))
			break
		}
		metrics.ObserveVerdict(verdict.FailurePredicted)
		r.emitVerdict(runID, i+1, verdict)
		if !verdict.FailurePredicted {
			continue
		}
		r.remediate(ctx, logger, runID, i+1, verdict)
		if !r.pause(ctx, r.remediationDelay) {
			logger.Warn("run cancelled", slog.Int("sample", i+1))
			break
		}
	}

	logger.Info("analysis run complete",
		slog.Int("total_samples", len(verdicts)), slog.Int("failures", failures))
	return r.finish(runID, len(verdicts), failures)
}

// remediate drives one failing sample through advice, resolution and
// execution. Nothing here returns an error; every failure mode is
// recorded and the run continues with the next sample.
func (r *Runner) remediate(ctx context.Context, logger *slog.Logger, runID string, sample int, verdict models.Verdict) {
	advice, err := r.advisor.GetAdvice(ctx, verdict.Snapshot)
	if err != nil {
		logger.Warn("no advice for failing sample",
			slog.Int("sample", sample), slog.String("error", err.Error()))
		r.emitter.Emit(events.Event{
			Kind:    events.KindAdvisory,
			RunID:   runID,
			Sample:  sample,
			Message: "no remediation advice available, skipping sample",
		})
		return
	}

	steps := resolver.SplitSteps(advice)
	r.emitter.Emit(events.Event{
		Kind:    events.KindAdvisory,
		RunID:   runID,
		Sample:  sample,
		Message: fmt.Sprintf("received %d advisory steps", len(steps)),
		Fields:  map[string]any{"steps": steps},
	})

	actions := r.resolver.Resolve(advice)
	tokens := make([]string, 0, len(actions))
	for _, a := range actions {
		tokens = append(tokens, string(a.Token))
	}
	r.emitter.Emit(events.Event{
		Kind:    events.KindResolution,
		RunID:   runID,
		Sample:  sample,
		Message: fmt.Sprintf("resolved %d actions", len(actions)),
		Fields:  map[string]any{"actions": tokens},
	})

	target := remediator.Target{
		Deployment: r.deployment,
		Namespace:  r.namespace,
	}
	pod, err := r.remediator.ResolvePod(ctx, r.deployment, r.namespace)
	if err != nil {
		logger.Warn("pod resolution failed",
			slog.Int("sample", sample), slog.String("error", err.Error()))
	} else {
		target.Pod = pod
	}

	outcomes := r.remediator.Execute(ctx, actions, target)
	for _, outcome := range outcomes {
		r.emitter.Emit(events.Event{
			Kind:    events.KindOutcome,
			RunID:   runID,
			Sample:  sample,
			Message: outcome.Message,
			Fields: map[string]any{
				"action":  string(outcome.Action),
				"target":  outcome.Target,
				"success": outcome.Success,
			},
		})
	}
}

func (r *Runner) emitVerdict(runID string, sample int, verdict models.Verdict) {
	message := "no failure"
	if verdict.FailurePredicted {
		message = "failure predicted"
	}
	r.emitter.Emit(events.Event{
		Kind:    events.KindVerdict,
		RunID:   runID,
		Sample:  sample,
		Message: message,
		Fields: map[string]any{
			"cpu_usage":              verdict.Snapshot.CPUUsage,
			"memory_usage":           verdict.Snapshot.MemoryUsage,
			"container_restarts_avg": verdict.Snapshot.RestartsAvg,
		},
	})
}

// pause sleeps for d unless the context is cancelled first. Returns
// false on cancellation.
func (r *Runner) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) finish(runID string, total, failures int) *models.RunStats {
	stats := &models.RunStats{
		RunID:        runID,
		TotalSamples: total,
		Failures:     failures,
	}
	if total > 0 {
		stats.SuccessRate = float64(total-failures) / float64(total) * 100
	}
	r.mu.Lock()
	r.lastStats = stats
	r.mu.Unlock()
	return stats
}
