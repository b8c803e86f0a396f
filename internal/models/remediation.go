package models

// ActionToken enumerates the closed set of remediation actions an advisory
// text can resolve to.
type ActionToken string

const (
	ActionAdjustMemoryLimits       ActionToken = "adjust_memory_limits"
	ActionAdjustCPULimits          ActionToken = "adjust_cpu_limits"
	ActionPrintLogs                ActionToken = "print_logs"
	ActionRestartContainer         ActionToken = "restart_container"
	ActionScaleDeployment          ActionToken = "scale_deployment"
	ActionFixImagePull             ActionToken = "fix_image_pull_error"
	ActionAdjustResourceLimits     ActionToken = "adjust_resource_limits"
	ActionIncreaseNodeResources    ActionToken = "increase_node_resources"
	ActionCheckNetworkConnectivity ActionToken = "check_network_connectivity"
	ActionInspectPodEvents         ActionToken = "inspect_pod_events"
	ActionCheckLivenessReadiness   ActionToken = "check_liveness_readiness"
	ActionRebuildRedeployImage     ActionToken = "rebuild_and_redeploy_image"
	ActionRollbackChanges          ActionToken = "rollback_changes"
	ActionIncreaseMemoryLimits     ActionToken = "increase_memory_limits"
	ActionFreeTextStep             ActionToken = "free_text_step"
)

// ResolvedAction pairs a token with the advisory line it was resolved
// from, so advisory-only actions can report the original step text.
type ResolvedAction struct {
	Token ActionToken
	Step  string
}

// RemediationOutcome is the result of attempting one ActionToken against
// the cluster. Produced once per executed action, never retried within
// the same cycle.
type RemediationOutcome struct {
	Action  ActionToken
	Target  string
	Success bool
	Message string
}

// FailureRecord is one audit entry in the process-wide ledger.
type FailureRecord struct {
	FailureKind  string
	ActionTaken  string
	ErrorMessage string
}

// RunStats summarises one analysis run for downstream observers.
type RunStats struct {
	RunID        string
	TotalSamples int
	Failures     int
	SuccessRate  float64
}
