package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kubemendstack/kubemend/internal/advisor"
	"github.com/kubemendstack/kubemend/internal/engine"
	"github.com/kubemendstack/kubemend/internal/events"
	"github.com/kubemendstack/kubemend/internal/models"
	"github.com/kubemendstack/kubemend/internal/remediator"
	"github.com/kubemendstack/kubemend/internal/resolver"
)

type fakeSource struct {
	samples []models.Sample
	err     error
	block   chan struct{}
}

func (f *fakeSource) LatestBatch() ([]models.Sample, error) {
	if f.block != nil {
		<-f.block
	}
	return f.samples, f.err
}

type fakeBatchClassifier struct {
	predictions []int
	err         error
}

func (f *fakeBatchClassifier) Predict(_ context.Context, rows []map[string]float64) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.predictions != nil {
		return f.predictions, nil
	}
	return make([]int, len(rows)), nil
}

type fakeAdvisor struct {
	advice string
	err    error
	calls  int
}

func (f *fakeAdvisor) GetAdvice(_ context.Context, _ models.MetricsSnapshot) (string, error) {
	f.calls++
	return f.advice, f.err
}

type fakeRemediator struct {
	pod        string
	podErr     error
	gotActions [][]models.ResolvedAction
	gotTargets []remediator.Target
}

func (f *fakeRemediator) ResolvePod(_ context.Context, _, _ string) (string, error) {
	return f.pod, f.podErr
}

func (f *fakeRemediator) Execute(_ context.Context, actions []models.ResolvedAction, target remediator.Target) []models.RemediationOutcome {
	f.gotActions = append(f.gotActions, actions)
	f.gotTargets = append(f.gotTargets, target)
	outcomes := make([]models.RemediationOutcome, len(actions))
	for i, a := range actions {
		outcomes[i] = models.RemediationOutcome{Action: a.Token, Target: target.Deployment, Success: true}
	}
	return outcomes
}

func testBatch(n int) []models.Sample {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := make([]models.Sample, n)
	for i := range samples {
		samples[i] = models.Sample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Values: map[string]float64{
				models.MetricCPUUsage:    0.2,
				models.MetricMemoryUsage: 1e8,
				models.MetricRestartsAvg: 1,
			},
		}
	}
	return samples
}

func quietEmitter() *events.Emitter {
	return events.NewEmitter(slog.New(slog.NewTextHandler(io.Discard, nil)), 64)
}

func newTestRunner(source BatchSource, cls engine.Classifier, adv AdviceProvider, rem Remediator) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(source, engine.NewGateway(cls), adv, resolver.New(), rem, quietEmitter(), RunnerConfig{
		Deployment: "demo-deployment",
		Namespace:  "default",
	}, logger)
}

func TestRunOnceRemediatesFailingSamples(t *testing.T) {
	source := &fakeSource{samples: testBatch(3)}
	cls := &fakeBatchClassifier{predictions: []int{0, 1, 0}}
	adv := &fakeAdvisor{advice: "* Restart the container\n* Scale up the deployment"}
	rem := &fakeRemediator{pod: "demo-pod"}

	runner := newTestRunner(source, cls, adv, rem)
	stats, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	if stats.TotalSamples != 3 || stats.Failures != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if adv.calls != 1 {
		t.Fatalf("advice requested %d times, want once", adv.calls)
	}
	if len(rem.gotActions) != 1 {
		t.Fatalf("remediation ran %d times, want once", len(rem.gotActions))
	}

	actions := rem.gotActions[0]
	if len(actions) != 2 ||
		actions[0].Token != models.ActionRestartContainer ||
		actions[1].Token != models.ActionScaleDeployment {
		t.Fatalf("unexpected actions: %+v", actions)
	}
	target := rem.gotTargets[0]
	if target.Pod != "demo-pod" || target.Deployment != "demo-deployment" || target.Namespace != "default" {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestRunOnceSuccessRate(t *testing.T) {
	source := &fakeSource{samples: testBatch(4)}
	cls := &fakeBatchClassifier{predictions: []int{1, 0, 0, 0}}
	adv := &fakeAdvisor{err: advisor.ErrAdviceUnavailable}

	runner := newTestRunner(source, cls, adv, &fakeRemediator{pod: "p"})
	stats, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.SuccessRate != 75 {
		t.Fatalf("success rate = %f, want 75", stats.SuccessRate)
	}
}

func TestRunOnceNoAdviceSkipsRemediation(t *testing.T) {
	source := &fakeSource{samples: testBatch(2)}
	cls := &fakeBatchClassifier{predictions: []int{0, 1}}
	adv := &fakeAdvisor{err: advisor.ErrAdviceUnavailable}
	rem := &fakeRemediator{pod: "p"}

	runner := newTestRunner(source, cls, adv, rem)
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(rem.gotActions) != 0 {
		t.Fatalf("remediation must be skipped without advice")
	}
}

func TestRunOncePodResolutionFailureStillExecutes(t *testing.T) {
	// Without a pod the executor records the skip itself; the runner
	// still hands it the action list with an empty pod.
	source := &fakeSource{samples: testBatch(2)}
	cls := &fakeBatchClassifier{predictions: []int{0, 1}}
	adv := &fakeAdvisor{advice: "* Restart the container"}
	rem := &fakeRemediator{podErr: remediator.ErrNoPodFound}

	runner := newTestRunner(source, cls, adv, rem)
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(rem.gotTargets) != 1 || rem.gotTargets[0].Pod != "" {
		t.Fatalf("expected execution with empty pod, got %+v", rem.gotTargets)
	}
}

func TestRunOnceEmptyBatch(t *testing.T) {
	runner := newTestRunner(&fakeSource{}, &fakeBatchClassifier{}, &fakeAdvisor{}, &fakeRemediator{})
	stats, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.TotalSamples != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRunOnceClassifierFailure(t *testing.T) {
	source := &fakeSource{samples: testBatch(2)}
	cls := &fakeBatchClassifier{err: errors.New("model server down")}
	rem := &fakeRemediator{pod: "p"}

	runner := newTestRunner(source, cls, &fakeAdvisor{}, rem)
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("classifier failure must not fail the run: %v", err)
	}
	if len(rem.gotActions) != 0 {
		t.Fatalf("no remediation without verdicts")
	}
}

func TestTriggerRejectsConcurrentRuns(t *testing.T) {
	source := &fakeSource{samples: testBatch(1), block: make(chan struct{})}
	runner := newTestRunner(source, &fakeBatchClassifier{}, &fakeAdvisor{}, &fakeRemediator{})

	runID, err := runner.Trigger(context.Background())
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if runID == "" {
		t.Fatalf("expected a run id")
	}

	if _, err := runner.Trigger(context.Background()); !errors.Is(err, ErrAnalysisBusy) {
		t.Fatalf("expected ErrAnalysisBusy, got %v", err)
	}

	close(source.block)
	deadline := time.After(2 * time.Second)
	for runner.Running() {
		select {
		case <-deadline:
			t.Fatalf("run did not finish")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Once the run finished, a new trigger is accepted again.
	if _, err := runner.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger after completion: %v", err)
	}
}

func TestLastStatsIsCopied(t *testing.T) {
	runner := newTestRunner(&fakeSource{samples: testBatch(1)}, &fakeBatchClassifier{}, &fakeAdvisor{}, &fakeRemediator{})
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	stats := runner.LastStats()
	if stats == nil {
		t.Fatalf("expected stats after a run")
	}
	stats.TotalSamples = 999
	if runner.LastStats().TotalSamples == 999 {
		t.Fatalf("LastStats must return a copy")
	}
}
