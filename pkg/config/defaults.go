package config

import "time"

// Built-in fallback values applied when the user config omits them
// (see builtin.go / loader.go load()).
const (
	DefaultMaxConcurrentAgents       = 10
	DefaultReconciliationInterval    = 300 * time.Second
	DefaultWorktreeDir               = "./worktrees"
	DefaultMaxIterations             = 50
	DefaultMaxToolCalls              = 100
	DefaultMaxTurns                  = 200
	DefaultMaxActiveDuration         = 30 * time.Minute
	DefaultMaxSleepDuration          = 0 // 0 = unbounded sleep
	DefaultWarningThreshold          = 0.8
	DefaultMaxIssueDepth             = 3
	DefaultBranchFeatureTemplate     = "feature/issue-{issue_number}"
	DefaultBranchBugfixTemplate      = "bugfix/issue-{issue_number}"
	DefaultBranchSecurityTemplate    = "security/issue-{issue_number}"
	DefaultBranchDocsTemplate        = "docs/issue-{issue_number}"
	DefaultBranchInfraTemplate       = "infra/issue-{issue_number}"
	DefaultBranchHotfixTemplate      = "hotfix/issue-{issue_number}"
)

// DefaultCircuitBreakers returns the built-in system-wide circuit-breaker
// defaults applied before any user override.
func DefaultCircuitBreakers() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxIterations:     DefaultMaxIterations,
		MaxToolCalls:      DefaultMaxToolCalls,
		MaxTurns:          DefaultMaxTurns,
		MaxActiveDuration: DefaultMaxActiveDuration.String(),
		MaxSleepDuration:  "0s",
		WarningThreshold:  DefaultWarningThreshold,
	}
}

// DefaultBranchNaming returns the built-in branch name templates.
func DefaultBranchNaming() BranchNamingConfig {
	return BranchNamingConfig{
		Feature:  DefaultBranchFeatureTemplate,
		Bugfix:   DefaultBranchBugfixTemplate,
		Security: DefaultBranchSecurityTemplate,
		Docs:     DefaultBranchDocsTemplate,
		Infra:    DefaultBranchInfraTemplate,
		Hotfix:   DefaultBranchHotfixTemplate,
	}
}

// DefaultRuntime returns the built-in runtime tunables.
func DefaultRuntime() RuntimeConfig {
	return RuntimeConfig{
		MaxConcurrentAgents:    DefaultMaxConcurrentAgents,
		ReconciliationInterval: DefaultReconciliationInterval.String(),
		WorktreeDir:            DefaultWorktreeDir,
	}
}

// DefaultEscalation returns the built-in escalation policy.
func DefaultEscalation() EscalationConfig {
	return EscalationConfig{
		EscalationLabels: []string{"escalated"},
		MaxIssueDepth:    DefaultMaxIssueDepth,
	}
}
