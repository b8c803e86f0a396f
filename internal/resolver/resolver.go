// Package resolver turns free-form advisory text into a bounded, ordered
// sequence of remediation actions.
package resolver

import (
	"strings"

	"github.com/kubemendstack/kubemend/internal/models"
)

// KeywordMapping binds one advisory keyword to an action token. Order in
// the table matters: the first keyword found in a line wins.
type KeywordMapping struct {
	Keyword string
	Token   models.ActionToken
}

// DefaultKeywordTable is the canonical ordered keyword table.
func DefaultKeywordTable() []KeywordMapping {
	return []KeywordMapping{
		{"high memory usage", models.ActionAdjustMemoryLimits},
		{"memory limit", models.ActionAdjustMemoryLimits},
		{"container logs", models.ActionPrintLogs},
		{"restart", models.ActionRestartContainer},
		{"scale up", models.ActionScaleDeployment},
		{"image pull", models.ActionFixImagePull},
		{"access denied", models.ActionFixImagePull},
		{"cpu limit", models.ActionAdjustCPULimits},
		{"container resource limits", models.ActionAdjustResourceLimits},
		{"node resources", models.ActionIncreaseNodeResources},
		{"network connectivity", models.ActionCheckNetworkConnectivity},
		{"pod events", models.ActionInspectPodEvents},
		{"liveness readiness", models.ActionCheckLivenessReadiness},
		{"rebuild image", models.ActionRebuildRedeployImage},
		{"rollback", models.ActionRollbackChanges},
		{"increase resource limits (memory)", models.ActionIncreaseMemoryLimits},
	}
}

var bulletMarkers = []string{"* ", "- ", "• "}

// Resolver maps advisory text to action tokens using an injectable ordered
// keyword table. Resolution is pure and total: it never fails, and
// unresolvable lines degrade to FreeTextStep.
type Resolver struct {
	table      []KeywordMapping
	maxActions int
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithKeywordTable replaces the default keyword table.
func WithKeywordTable(table []KeywordMapping) Option {
	return func(r *Resolver) { r.table = table }
}

// WithMaxActions bounds the resolved action count.
func WithMaxActions(n int) Option {
	return func(r *Resolver) { r.maxActions = n }
}

// New constructs a Resolver with the default table and a bound of 10
// actions per advisory.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		table:      DefaultKeywordTable(),
		maxActions: 10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve parses the advisory text into an ordered action sequence. Each
// token appears at most once, keeping its first position; the result is
// capped at the configured bound. Empty text resolves to nothing.
func (r *Resolver) Resolve(advice string) []models.ResolvedAction {
	steps := SplitSteps(advice)
	if len(steps) == 0 {
		return nil
	}

	actions := make([]models.ResolvedAction, 0, len(steps))
	seen := make(map[models.ActionToken]struct{})
	for _, step := range steps {
		token := r.resolveLine(step)
		if _, dup := seen[token]; dup && token != models.ActionFreeTextStep {
			continue
		}
		seen[token] = struct{}{}
		actions = append(actions, models.ResolvedAction{Token: token, Step: step})
		if len(actions) == r.maxActions {
			break
		}
	}
	return actions
}

func (r *Resolver) resolveLine(step string) models.ActionToken {
	lowered := strings.ToLower(step)
	for _, mapping := range r.table {
		if strings.Contains(lowered, mapping.Keyword) {
			return mapping.Token
		}
	}
	return models.ActionFreeTextStep
}

// SplitSteps extracts bullet lines from the advisory text. When no
// bulleted lines are found, the whole trimmed text is treated as a single
// unstructured step so advice is never silently dropped.
func SplitSteps(advice string) []string {
	trimmed := strings.TrimSpace(advice)
	if trimmed == "" {
		return nil
	}

	steps := make([]string, 0)
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		for _, marker := range bulletMarkers {
			if strings.HasPrefix(line, marker) {
				if step := strings.TrimSpace(line[len(marker):]); step != "" {
					steps = append(steps, step)
				}
				break
			}
		}
	}
	if len(steps) == 0 {
		steps = append(steps, trimmed)
	}
	return steps
}
