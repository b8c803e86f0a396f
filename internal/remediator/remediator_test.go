package remediator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kubemendstack/kubemend/internal/ledger"
	"github.com/kubemendstack/kubemend/internal/models"
)

const (
	testNamespace  = "default"
	testDeployment = "demo-deployment"
	testPod        = "demo-deployment-abc123"
)

func testLabels() map[string]string {
	return map[string]string{"app": "demo"}
}

func newDeployment() *appsv1.Deployment {
	replicas := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: testDeployment, Namespace: testNamespace},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: testLabels()},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: testLabels()},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{Name: "app", Image: "demo:1.0"},
						{Name: "sidecar", Image: "sidecar:2.0"},
					},
				},
			},
		},
	}
}

func newPod(name string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
			Labels:    testLabels(),
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{
				{
					Name:  "app",
					Image: "demo:1.0",
					Resources: corev1.ResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceMemory: resource.MustParse("128Mi"),
						},
						Limits: corev1.ResourceList{
							corev1.ResourceMemory: resource.MustParse("256Mi"),
						},
					},
				},
				{Name: "sidecar", Image: "sidecar:2.0"},
			},
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

func testTarget() Target {
	return Target{Deployment: testDeployment, Namespace: testNamespace, Pod: testPod}
}

func TestResolvePodPrefersRunning(t *testing.T) {
	client := fake.NewSimpleClientset(
		newDeployment(),
		newPod("pending-pod", corev1.PodPending),
		newPod("running-pod", corev1.PodRunning),
	)
	executor := NewExecutor(client, ledger.New(), Inputs{}, nil)

	pod, err := executor.ResolvePod(context.Background(), testDeployment, testNamespace)
	require.NoError(t, err)
	require.Equal(t, "running-pod", pod)
}

func TestResolvePodFallsBackToFirst(t *testing.T) {
	client := fake.NewSimpleClientset(
		newDeployment(),
		newPod("pending-pod", corev1.PodPending),
	)
	executor := NewExecutor(client, ledger.New(), Inputs{}, nil)

	pod, err := executor.ResolvePod(context.Background(), testDeployment, testNamespace)
	require.NoError(t, err)
	require.Equal(t, "pending-pod", pod)
}

func TestResolvePodNoPods(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment())
	executor := NewExecutor(client, ledger.New(), Inputs{}, nil)

	_, err := executor.ResolvePod(context.Background(), testDeployment, testNamespace)
	require.ErrorIs(t, err, ErrNoPodFound)
}

func TestResolvePodMissingDeployment(t *testing.T) {
	client := fake.NewSimpleClientset()
	executor := NewExecutor(client, ledger.New(), Inputs{}, nil)

	_, err := executor.ResolvePod(context.Background(), testDeployment, testNamespace)
	require.ErrorIs(t, err, ErrNoPodFound)
}

func TestExecuteWithoutPodSkipsEverything(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment())
	failureLedger := ledger.New()
	executor := NewExecutor(client, failureLedger, Inputs{}, nil)

	actions := []models.ResolvedAction{
		{Token: models.ActionRestartContainer, Step: "Restart the container"},
		{Token: models.ActionScaleDeployment, Step: "Scale up the deployment"},
	}
	outcomes := executor.Execute(context.Background(), actions, Target{
		Deployment: testDeployment,
		Namespace:  testNamespace,
	})

	require.Nil(t, outcomes)
	require.Empty(t, client.Actions(), "no cluster call may happen without a pod")

	records := failureLedger.Drain()
	require.Len(t, records, 1)
	require.Equal(t, "No pod found", records[0].FailureKind)
}

func TestExecuteAdjustMemoryLimitsUsesCurrentValuesAndDefaults(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment(), newPod(testPod, corev1.PodRunning))
	failureLedger := ledger.New()
	executor := NewExecutor(client, failureLedger, Inputs{}, nil)

	outcomes := executor.Execute(context.Background(), []models.ResolvedAction{
		{Token: models.ActionAdjustMemoryLimits, Step: "Adjust the memory limit"},
	}, testTarget())

	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Success, outcomes[0].Message)

	deployment, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), testDeployment, metav1.GetOptions{})
	require.NoError(t, err)

	containers := deployment.Spec.Template.Spec.Containers
	require.Len(t, containers, 2)
	byName := map[string]corev1.Container{}
	for _, c := range containers {
		byName[c.Name] = c
	}

	// The app container keeps its current 128Mi/256Mi settings, the
	// bare sidecar gets the 256Mi/512Mi defaults. Images survive the
	// patch.
	app := byName["app"]
	sidecar := byName["sidecar"]
	require.Equal(t, "128Mi", app.Resources.Requests.Memory().String())
	require.Equal(t, "256Mi", app.Resources.Limits.Memory().String())
	require.Equal(t, "256Mi", sidecar.Resources.Requests.Memory().String())
	require.Equal(t, "512Mi", sidecar.Resources.Limits.Memory().String())
	require.Equal(t, "demo:1.0", app.Image)
	require.Equal(t, "sidecar:2.0", sidecar.Image)

	require.Len(t, failureLedger.Drain(), 1)
}

func TestExecuteIncreaseMemoryLimitsAppliesBoost(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment(), newPod(testPod, corev1.PodRunning))
	executor := NewExecutor(client, ledger.New(), Inputs{}, nil)

	outcomes := executor.Execute(context.Background(), []models.ResolvedAction{
		{Token: models.ActionIncreaseMemoryLimits, Step: "Increase resource limits (memory)"},
	}, testTarget())
	require.True(t, outcomes[0].Success, outcomes[0].Message)

	deployment, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), testDeployment, metav1.GetOptions{})
	require.NoError(t, err)
	for _, c := range deployment.Spec.Template.Spec.Containers {
		require.Equal(t, "512Mi", c.Resources.Requests.Memory().String())
		require.Equal(t, "1Gi", c.Resources.Limits.Memory().String())
	}
}

func TestExecuteRestartDeletesPod(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment(), newPod(testPod, corev1.PodRunning))
	executor := NewExecutor(client, ledger.New(), Inputs{}, nil)

	outcomes := executor.Execute(context.Background(), []models.ResolvedAction{
		{Token: models.ActionRestartContainer, Step: "Restart the container"},
	}, testTarget())
	require.True(t, outcomes[0].Success)

	_, err := client.CoreV1().Pods(testNamespace).Get(context.Background(), testPod, metav1.GetOptions{})
	require.Error(t, err, "pod should be gone")
}

func TestExecuteRestartAbsentPodIsSuccess(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment())
	executor := NewExecutor(client, ledger.New(), Inputs{}, nil)

	outcomes := executor.Execute(context.Background(), []models.ResolvedAction{
		{Token: models.ActionRestartContainer, Step: "Restart the container"},
	}, testTarget())
	require.True(t, outcomes[0].Success, "deleting an absent pod is the desired end state")
}

func TestExecuteScaleDeployment(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment(), newPod(testPod, corev1.PodRunning))
	executor := NewExecutor(client, ledger.New(), Inputs{}, nil)

	outcomes := executor.Execute(context.Background(), []models.ResolvedAction{
		{Token: models.ActionScaleDeployment, Step: "Scale up the deployment"},
	}, testTarget())
	require.True(t, outcomes[0].Success, outcomes[0].Message)

	deployment, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), testDeployment, metav1.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(scaleReplicas), *deployment.Spec.Replicas)
}

func TestExecuteFixImagePull(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment(), newPod(testPod, corev1.PodRunning))
	executor := NewExecutor(client, ledger.New(), Inputs{
		CorrectImage:     "nginx:latest",
		ImagePullSecrets: []string{"regcred", "backup-regcred"},
	}, nil)

	outcomes := executor.Execute(context.Background(), []models.ResolvedAction{
		{Token: models.ActionFixImagePull, Step: "Fix the image pull error"},
	}, testTarget())
	require.True(t, outcomes[0].Success, outcomes[0].Message)

	deployment, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), testDeployment, metav1.GetOptions{})
	require.NoError(t, err)

	spec := deployment.Spec.Template.Spec
	require.Equal(t, "nginx:latest", spec.Containers[0].Image)
	require.Equal(t, "sidecar:2.0", spec.Containers[1].Image, "only the first container is repointed")

	require.Len(t, spec.ImagePullSecrets, 2)
	require.Equal(t, "regcred", spec.ImagePullSecrets[0].Name)
	require.Equal(t, "backup-regcred", spec.ImagePullSecrets[1].Name)
}

func TestExecutePrintLogs(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment(), newPod(testPod, corev1.PodRunning))
	failureLedger := ledger.New()
	executor := NewExecutor(client, failureLedger, Inputs{}, nil)

	outcomes := executor.Execute(context.Background(), []models.ResolvedAction{
		{Token: models.ActionPrintLogs, Step: "Check the container logs"},
	}, testTarget())

	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Success, outcomes[0].Message)
	require.Len(t, failureLedger.Drain(), 1)
}

func TestExecuteAdvisoryActionsDoNotTouchCluster(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment(), newPod(testPod, corev1.PodRunning))
	failureLedger := ledger.New()
	executor := NewExecutor(client, failureLedger, Inputs{}, nil)

	actions := []models.ResolvedAction{
		{Token: models.ActionInspectPodEvents, Step: "Inspect the pod events"},
		{Token: models.ActionCheckNetworkConnectivity, Step: "Check network connectivity"},
		{Token: models.ActionFreeTextStep, Step: "Review the runbook"},
	}
	outcomes := executor.Execute(context.Background(), actions, testTarget())

	require.Len(t, outcomes, 3)
	for _, outcome := range outcomes {
		require.True(t, outcome.Success)
	}
	require.Empty(t, client.Actions(), "advisory actions must not reach the cluster")
	require.Len(t, failureLedger.Drain(), 3)
}

func TestExecuteResumesAfterActionFailure(t *testing.T) {
	// No deployment in the cluster: the resource patch fails, the
	// restart that follows still runs.
	client := fake.NewSimpleClientset(newPod(testPod, corev1.PodRunning))
	failureLedger := ledger.New()
	executor := NewExecutor(client, failureLedger, Inputs{}, nil)

	actions := []models.ResolvedAction{
		{Token: models.ActionScaleDeployment, Step: "Scale up the deployment"},
		{Token: models.ActionRestartContainer, Step: "Restart the container"},
	}
	outcomes := executor.Execute(context.Background(), actions, testTarget())

	require.Len(t, outcomes, 2)
	require.False(t, outcomes[0].Success)
	require.True(t, outcomes[1].Success)
	require.Len(t, failureLedger.Drain(), 2)
}

func TestExecuteAdjustMemoryLimitsTwiceIsIdempotent(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment(), newPod(testPod, corev1.PodRunning))
	executor := NewExecutor(client, ledger.New(), Inputs{}, nil)

	actions := []models.ResolvedAction{
		{Token: models.ActionAdjustMemoryLimits, Step: "Adjust the memory limit"},
	}

	outcomes := executor.Execute(context.Background(), actions, testTarget())
	require.True(t, outcomes[0].Success, outcomes[0].Message)
	first, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), testDeployment, metav1.GetOptions{})
	require.NoError(t, err)

	outcomes = executor.Execute(context.Background(), actions, testTarget())
	require.True(t, outcomes[0].Success, outcomes[0].Message)
	second, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), testDeployment, metav1.GetOptions{})
	require.NoError(t, err)

	require.Equal(t, first.Spec.Template, second.Spec.Template, "repeating the patch must not change the template again")
}

func TestExecuteFixImagePullTwiceIsIdempotent(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment(), newPod(testPod, corev1.PodRunning))
	executor := NewExecutor(client, ledger.New(), Inputs{
		CorrectImage:     "nginx:latest",
		ImagePullSecrets: []string{"regcred"},
	}, nil)

	actions := []models.ResolvedAction{
		{Token: models.ActionFixImagePull, Step: "Fix the image pull error"},
	}

	outcomes := executor.Execute(context.Background(), actions, testTarget())
	require.True(t, outcomes[0].Success, outcomes[0].Message)
	first, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), testDeployment, metav1.GetOptions{})
	require.NoError(t, err)

	outcomes = executor.Execute(context.Background(), actions, testTarget())
	require.True(t, outcomes[0].Success, outcomes[0].Message)
	second, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), testDeployment, metav1.GetOptions{})
	require.NoError(t, err)

	require.Equal(t, first.Spec.Template, second.Spec.Template)
	require.Len(t, second.Spec.Template.Spec.ImagePullSecrets, 1, "secrets are replaced, never accumulated")
}

func TestBuildImagePatchForcesSecretReplacement(t *testing.T) {
	patch, err := buildImagePatch("app", "nginx:latest", []string{"regcred"})
	require.NoError(t, err)
	require.Contains(t, string(patch), `"$patch":"replace"`)
	require.Contains(t, string(patch), `"name":"regcred"`)
}

func TestBuildResourcePatchRejectsEmptyPod(t *testing.T) {
	_, err := buildResourcePatch(&corev1.Pod{}, "", "")
	require.Error(t, err)
}
