package config

import "sync"

// BuiltinConfig holds the configuration shipped with the server before any
// user YAML is merged on top — empty role/pipeline sets, but non-zero
// system-wide defaults (branch naming, circuit breakers, runtime, escalation).
type BuiltinConfig struct {
	Runtime                RuntimeConfig
	BranchNaming           BranchNamingConfig
	CircuitBreakerDefaults CircuitBreakerConfig
	Escalation             EscalationConfig
	Roles                  map[string]AgentRoleConfig
	Pipelines              map[string]PipelineDefinition
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe,
// lazily initialized), the way the teacher's config package memoizes its
// built-in agent/MCP-server catalog.
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Runtime:                DefaultRuntime(),
		BranchNaming:           DefaultBranchNaming(),
		CircuitBreakerDefaults: DefaultCircuitBreakers(),
		Escalation:             DefaultEscalation(),
		Roles:                  map[string]AgentRoleConfig{},
		Pipelines:              map[string]PipelineDefinition{},
	}
}
