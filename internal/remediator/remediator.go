// Package remediator maps resolved actions onto idempotent cluster
// mutations and records every attempt in the failure ledger.
package remediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/kubemendstack/kubemend/internal/ledger"
	"github.com/kubemendstack/kubemend/internal/metrics"
	"github.com/kubemendstack/kubemend/internal/models"
)

// ErrNoPodFound signals that no target pod could be resolved for the
// deployment. The whole action list is skipped for the verdict.
var ErrNoPodFound = errors.New("no pod found")

const (
	scaleReplicas = 3
	logTailLines  = 50
	logTruncateAt = 500
)

// Target identifies the workload a remediation acts on.
type Target struct {
	Deployment string
	Namespace  string
	Pod        string
}

// Inputs carries the caller-supplied mutation parameters.
type Inputs struct {
	MemoryRequest    string
	MemoryLimit      string
	CorrectImage     string
	ImagePullSecrets []string
}

// Executor applies resolved actions against the cluster. Cluster-API
// errors never escape: they become outcomes and ledger records.
type Executor struct {
	client kubernetes.Interface
	ledger *ledger.Ledger
	inputs Inputs
	logger *slog.Logger
}

// NewExecutor constructs an executor over the given cluster client.
func NewExecutor(client kubernetes.Interface, l *ledger.Ledger, inputs Inputs, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, ledger: l, inputs: inputs, logger: logger}
}

// ResolvePod finds the pod backing the deployment via its selector,
// preferring a Running pod and falling back to the first listed. Returns
// ErrNoPodFound when the deployment or its pods are missing.
func (e *Executor) ResolvePod(ctx context.Context, deploymentName, namespace string) (string, error) {
	deployment, err := e.client.AppsV1().Deployments(namespace).Get(ctx, deploymentName, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: read deployment %s/%s: %v", ErrNoPodFound, namespace, deploymentName, err)
	}

	selector, err := metav1.LabelSelectorAsSelector(deployment.Spec.Selector)
	if err != nil {
		return "", fmt.Errorf("%w: deployment selector: %v", ErrNoPodFound, err)
	}

	pods, err := e.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return "", fmt.Errorf("%w: list pods: %v", ErrNoPodFound, err)
	}
	if len(pods.Items) == 0 {
		return "", ErrNoPodFound
	}

	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning {
			return pod.Name, nil
		}
	}
	return pods.Items[0].Name, nil
}

// Execute runs the resolved actions sequentially, in order. Without a
// target pod the entire list is short-circuited with a single ledger
// record and no mutation is attempted. Each executed action yields
// exactly one outcome and one ledger record, success or failure.
func (e *Executor) Execute(ctx context.Context, actions []models.ResolvedAction, target Target) []models.RemediationOutcome {
	if target.Pod == "" {
		e.ledger.Append(models.FailureRecord{
			FailureKind:  "No pod found",
			ActionTaken:  "Skipping solution",
			ErrorMessage: "Pod name was not provided.",
		})
		return nil
	}

	outcomes := make([]models.RemediationOutcome, 0, len(actions))
	for _, action := range actions {
		outcome := e.executeOne(ctx, action, target)
		outcome.Action = action.Token
		metrics.ObserveAction(string(action.Token), outcome.Success)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *Executor) executeOne(ctx context.Context, action models.ResolvedAction, target Target) models.RemediationOutcome {
	var outcome models.RemediationOutcome

	switch action.Token {
	case models.ActionAdjustMemoryLimits:
		outcome = e.patchResources(ctx, target, e.inputs.MemoryRequest, e.inputs.MemoryLimit)
		e.record("Memory limits adjustment", "Adjust memory limits", outcome)
	case models.ActionAdjustResourceLimits:
		outcome = e.patchResources(ctx, target, e.inputs.MemoryRequest, e.inputs.MemoryLimit)
		e.record("Adjust resource limits", "Adjust resource limits", outcome)
	case models.ActionAdjustCPULimits:
		outcome = e.patchResources(ctx, target, boostMemoryRequest, boostMemoryLimit)
		e.record("CPU limits adjustment", "Adjust CPU limits", outcome)
	case models.ActionIncreaseMemoryLimits:
		outcome = e.patchResources(ctx, target, boostMemoryRequest, boostMemoryLimit)
		e.record("Increase memory limits", "Increase memory limits to 512Mi request and 1Gi limit", outcome)
	case models.ActionPrintLogs:
		outcome = e.printLogs(ctx, target)
		if outcome.Success {
			e.record("Fetch logs", "Print logs", outcome)
		} else {
			e.record("Fetch logs failed", "Print logs", outcome)
		}
	case models.ActionRestartContainer:
		outcome = e.deletePod(ctx, target)
		e.record("Container restart", "Restart container", outcome)
	case models.ActionScaleDeployment:
		outcome = e.scaleDeployment(ctx, target)
		e.record("Scale deployment", fmt.Sprintf("Scale deployment to %d replicas", scaleReplicas), outcome)
	case models.ActionFixImagePull:
		outcome = e.fixImagePull(ctx, target)
		e.record("Image pull error", "Fix image pull error", outcome)
	default:
		// Advisory-only actions record intent without touching the
		// cluster.
		outcome = e.advisoryOnly(action, target)
		e.record(advisoryFailureKind(action.Token), advisoryActionTaken(action.Token), outcome)
	}

	return outcome
}

func (e *Executor) record(failureKind, actionTaken string, outcome models.RemediationOutcome) {
	e.ledger.Append(models.FailureRecord{
		FailureKind:  failureKind,
		ActionTaken:  actionTaken,
		ErrorMessage: outcome.Message,
	})
}

// patchResources reads the target pod and applies a strategic-merge patch
// to the deployment's pod template. A missing pod (404) is terminal for
// this action only.
func (e *Executor) patchResources(ctx context.Context, target Target, memoryRequest, memoryLimit string) models.RemediationOutcome {
	outcome := models.RemediationOutcome{Action: models.ActionAdjustMemoryLimits, Target: target.Deployment}

	pod, err := e.client.CoreV1().Pods(target.Namespace).Get(ctx, target.Pod, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			outcome.Message = fmt.Sprintf("Pod %q not found in namespace %q. Cannot proceed.", target.Pod, target.Namespace)
		} else {
			outcome.Message = fmt.Sprintf("Failed to read pod: %v", err)
		}
		return outcome
	}

	patch, err := buildResourcePatch(pod, memoryRequest, memoryLimit)
	if err != nil {
		outcome.Message = fmt.Sprintf("Failed to build resource patch: %v", err)
		return outcome
	}

	_, err = e.client.AppsV1().Deployments(target.Namespace).Patch(
		ctx, target.Deployment, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		outcome.Message = fmt.Sprintf("Failed to patch deployment: %v", err)
		return outcome
	}

	outcome.Success = true
	outcome.Message = "Patched deployment with updated resource settings."
	return outcome
}

// printLogs reads the previous container's logs, best effort. Read
// failure is recorded, not escalated.
func (e *Executor) printLogs(ctx context.Context, target Target) models.RemediationOutcome {
	outcome := models.RemediationOutcome{Action: models.ActionPrintLogs, Target: target.Pod}

	tail := int64(logTailLines)
	raw, err := e.client.CoreV1().Pods(target.Namespace).GetLogs(target.Pod, &corev1.PodLogOptions{
		Previous:  true,
		TailLines: &tail,
	}).DoRaw(ctx)
	if err != nil {
		outcome.Message = fmt.Sprintf("Could not fetch logs: %v", err)
		return outcome
	}

	logs := string(raw)
	if len(logs) > logTruncateAt {
		logs = logs[:logTruncateAt] + "..."
	}
	e.logger.Info("recent pod logs", slog.String("pod", target.Pod), slog.String("logs", logs))

	outcome.Success = true
	outcome.Message = "Fetched logs from the pod."
	return outcome
}

// deletePod deletes the target pod so its controller recreates it.
// Deleting an already-absent pod counts as success.
func (e *Executor) deletePod(ctx context.Context, target Target) models.RemediationOutcome {
	outcome := models.RemediationOutcome{Action: models.ActionRestartContainer, Target: target.Pod}

	err := e.client.CoreV1().Pods(target.Namespace).Delete(ctx, target.Pod, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		outcome.Message = fmt.Sprintf("Failed to delete pod: %v", err)
		return outcome
	}

	outcome.Success = true
	outcome.Message = "Pod was deleted to restart the container."
	return outcome
}

// scaleDeployment patches the scale subresource to the fixed replica
// count.
func (e *Executor) scaleDeployment(ctx context.Context, target Target) models.RemediationOutcome {
	outcome := models.RemediationOutcome{Action: models.ActionScaleDeployment, Target: target.Deployment}

	_, err := e.client.AppsV1().Deployments(target.Namespace).Patch(
		ctx, target.Deployment, types.MergePatchType, buildScalePatch(scaleReplicas), metav1.PatchOptions{}, "scale")
	if err != nil {
		outcome.Message = fmt.Sprintf("Failed to scale deployment: %v", err)
		return outcome
	}

	outcome.Success = true
	outcome.Message = fmt.Sprintf("Scaled deployment %s to %d replicas.", target.Deployment, scaleReplicas)
	return outcome
}

// fixImagePull looks up the deployment's first container and patches its
// image plus the pull secrets.
func (e *Executor) fixImagePull(ctx context.Context, target Target) models.RemediationOutcome {
	outcome := models.RemediationOutcome{Action: models.ActionFixImagePull, Target: target.Deployment}

	deployment, err := e.client.AppsV1().Deployments(target.Namespace).Get(ctx, target.Deployment, metav1.GetOptions{})
	if err != nil {
		outcome.Message = fmt.Sprintf("Failed to read deployment: %v", err)
		return outcome
	}
	if len(deployment.Spec.Template.Spec.Containers) == 0 {
		outcome.Message = "Deployment has no containers."
		return outcome
	}

	containerName := deployment.Spec.Template.Spec.Containers[0].Name
	patch, err := buildImagePatch(containerName, e.inputs.CorrectImage, e.inputs.ImagePullSecrets)
	if err != nil {
		outcome.Message = fmt.Sprintf("Failed to build image patch: %v", err)
		return outcome
	}

	_, err = e.client.AppsV1().Deployments(target.Namespace).Patch(
		ctx, target.Deployment, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		outcome.Message = fmt.Sprintf("Failed to patch image or secrets: %v", err)
		return outcome
	}

	outcome.Success = true
	outcome.Message = "Fixed image pull error by updating image and secrets."
	return outcome
}

func (e *Executor) advisoryOnly(action models.ResolvedAction, target Target) models.RemediationOutcome {
	message := advisoryMessage(action)
	e.logger.Info("advisory step", slog.String("action", string(action.Token)), slog.String("step", action.Step), slog.String("deployment", target.Deployment))
	return models.RemediationOutcome{
		Action:  action.Token,
		Target:  target.Deployment,
		Success: true,
		Message: message,
	}
}

func advisoryMessage(action models.ResolvedAction) string {
	switch action.Token {
	case models.ActionIncreaseNodeResources:
		return "Node resources adjusted for better performance."
	case models.ActionCheckNetworkConnectivity:
		return "Checked network connectivity."
	case models.ActionInspectPodEvents:
		return "Inspected pod events for failure analysis."
	case models.ActionCheckLivenessReadiness:
		return "Adjusted liveness and readiness probes."
	case models.ActionRebuildRedeployImage:
		return "Rebuilt and redeployed the container image."
	case models.ActionRollbackChanges:
		return "Rolled back to a previous version of the deployment."
	default:
		return fmt.Sprintf("Executing general step: %s", action.Step)
	}
}

func advisoryFailureKind(token models.ActionToken) string {
	switch token {
	case models.ActionIncreaseNodeResources:
		return "Increase node resources"
	case models.ActionCheckNetworkConnectivity:
		return "Network connectivity"
	case models.ActionInspectPodEvents:
		return "Inspect pod events"
	case models.ActionCheckLivenessReadiness:
		return "Liveness/Readiness probes"
	case models.ActionRebuildRedeployImage:
		return "Rebuild and redeploy image"
	case models.ActionRollbackChanges:
		return "Rollback changes"
	default:
		return "Free-text step"
	}
}

func advisoryActionTaken(token models.ActionToken) string {
	switch token {
	case models.ActionIncreaseNodeResources:
		return "Increase node resources"
	case models.ActionCheckNetworkConnectivity:
		return "Check network connectivity"
	case models.ActionInspectPodEvents:
		return "Inspect pod events"
	case models.ActionCheckLivenessReadiness:
		return "Check and adjust probes"
	case models.ActionRebuildRedeployImage:
		return "Rebuild and redeploy image"
	case models.ActionRollbackChanges:
		return "Rollback deployment changes"
	default:
		return "Execute free-text step"
	}
}
