package config

// Config is the umbrella configuration object returned by Initialize and
// threaded through the Lifecycle Manager, Pipeline Engine, and Reconciliation
// Loop.
type Config struct {
	configDir string

	Project    ProjectConfig
	Runtime    RuntimeConfig
	BranchNaming BranchNamingConfig
	ReviewPolicy ReviewPolicyConfig
	Escalation EscalationConfig

	CircuitBreakerDefaults CircuitBreakerConfig

	Roles     *AgentRoleRegistry
	Pipelines *PipelineRegistry
}

// ConfigStats summarizes loaded configuration for a single startup log line.
type ConfigStats struct {
	Roles     int
	Pipelines int
}

// Stats returns configuration statistics for logging.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Roles:     c.Roles.Len(),
		Pipelines: len(c.Pipelines.GetAll()),
	}
}

// ConfigDir returns the configuration directory path the config was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetRole retrieves a role configuration by name.
func (c *Config) GetRole(name string) (*AgentRoleConfig, error) {
	return c.Roles.Get(name)
}

// GetPipeline retrieves a pipeline definition by name.
func (c *Config) GetPipeline(name string) (*PipelineDefinition, error) {
	return c.Pipelines.Get(name)
}

// CircuitBreakersFor resolves the effective circuit-breaker limits for a role.
func (c *Config) CircuitBreakersFor(roleName string) CircuitBreakerConfig {
	role, err := c.Roles.Get(roleName)
	if err != nil {
		return c.CircuitBreakerDefaults
	}
	return ResolveCircuitBreakers(c.CircuitBreakerDefaults, role.CircuitBreakers)
}

// NewForTest builds a Config directly from in-memory values, bypassing YAML
// loading and validation. Exported for other packages' tests that need a
// Config without a squadron.yaml fixture on disk.
func NewForTest(configDir string, project ProjectConfig, runtime RuntimeConfig, branchNaming BranchNamingConfig,
	circuitBreakerDefaults CircuitBreakerConfig, roles *AgentRoleRegistry) *Config {
	return &Config{
		configDir:              configDir,
		Project:                project,
		Runtime:                runtime,
		BranchNaming:           branchNaming,
		CircuitBreakerDefaults: circuitBreakerDefaults,
		Roles:                  roles,
		Pipelines:              NewPipelineRegistry(nil),
	}
}
