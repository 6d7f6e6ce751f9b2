package config

// Shared leaf types used across the configuration structs.

// ProjectConfig names the source-hosting project this server drives agents
// against. The platform API collaborator is configured separately; this is
// metadata used for branch templates and self-loop detection.
type ProjectConfig struct {
	Name          string `yaml:"name" validate:"required"`
	Owner         string `yaml:"owner" validate:"required"`
	Repo          string `yaml:"repo" validate:"required"`
	DefaultBranch string `yaml:"default_branch,omitempty"`
	BotUsername   string `yaml:"bot_username" validate:"required"`
}

// RuntimeConfig groups server-wide execution tunables.
type RuntimeConfig struct {
	// MaxConcurrentAgents caps the global ACTIVE-agent semaphore. 0 = unlimited.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`
	// ReconciliationInterval is parsed as a Go duration string (e.g. "300s").
	ReconciliationInterval string `yaml:"reconciliation_interval,omitempty"`
	SparseCheckout         bool   `yaml:"sparse_checkout,omitempty"`
	WorktreeDir            string `yaml:"worktree_dir,omitempty"`
	DefaultModel           string `yaml:"default_model,omitempty"`
	Provider               string `yaml:"provider,omitempty"`
}

// BranchNamingConfig holds the per-kind branch name templates. Every template
// accepts a `{issue_number}` placeholder.
type BranchNamingConfig struct {
	Feature  string `yaml:"feature,omitempty"`
	Bugfix   string `yaml:"bugfix,omitempty"`
	Security string `yaml:"security,omitempty"`
	Docs     string `yaml:"docs,omitempty"`
	Infra    string `yaml:"infra,omitempty"`
	Hotfix   string `yaml:"hotfix,omitempty"`
}

// ReviewRule conditionally adds reviewer roles to a PR based on its labels or
// changed-file globs. Evaluated in declaration order; all matching rules
// contribute to the required-roles set.
type ReviewRule struct {
	Label      string   `yaml:"label,omitempty"`
	PathGlob   string   `yaml:"path_glob,omitempty"`
	AddRoles   []string `yaml:"add_roles"`
	Sequential bool     `yaml:"sequential,omitempty"`
}

// ReviewPolicyConfig controls PR review-requirement derivation and merge gating.
type ReviewPolicyConfig struct {
	Enabled             bool         `yaml:"enabled"`
	DefaultRequirements []string     `yaml:"default_requirements,omitempty"`
	Rules               []ReviewRule `yaml:"rules,omitempty"`
	AutoMerge           bool         `yaml:"auto_merge,omitempty"`
	OnSynchronize       string       `yaml:"on_synchronize,omitempty"` // "invalidate_approvals" (default) | "ignore"
}

// EscalationConfig controls how ESCALATED agents are surfaced.
type EscalationConfig struct {
	DefaultNotify    []string `yaml:"default_notify,omitempty"`
	EscalationLabels []string `yaml:"escalation_labels,omitempty"`
	MaxIssueDepth    int      `yaml:"max_issue_depth,omitempty"`
}
