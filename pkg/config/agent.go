// Package config provides configuration loading and validation for Squadron:
// project/runtime settings, agent-role definitions, branch templates, review
// policy, escalation policy, and inline pipeline (workflow) definitions.
package config

import (
	"fmt"
	"sync"
)

// TriggerConfig binds a webhook event type (and optionally a label) to a
// Lifecycle Manager action.
type TriggerConfig struct {
	Event     string        `yaml:"event" validate:"required"`
	Label     string        `yaml:"label,omitempty"`
	Action    TriggerAction `yaml:"action" validate:"required"`
	Condition string        `yaml:"condition,omitempty"`
}

// AgentRoleConfig is one entry of `agent_roles` in the YAML config.
type AgentRoleConfig struct {
	AgentDefinition string                `yaml:"agent_definition" validate:"required"`
	Singleton       bool                  `yaml:"singleton,omitempty"`
	Lifecycle       Lifecycle             `yaml:"lifecycle" validate:"required"`
	Triggers        []TriggerConfig       `yaml:"triggers,omitempty"`
	Subagents       []string              `yaml:"subagents,omitempty"`
	BranchTemplate  string                `yaml:"branch_template,omitempty"`
	CircuitBreakers *CircuitBreakerConfig `yaml:"circuit_breakers,omitempty"`
}

// AgentRoleRegistry stores named role configurations in memory with
// thread-safe access, mirroring the read-mostly registries the teacher builds
// per configuration concern.
type AgentRoleRegistry struct {
	mu    sync.RWMutex
	roles map[string]*AgentRoleConfig
}

// NewAgentRoleRegistry defensively copies roles into a new registry.
func NewAgentRoleRegistry(roles map[string]*AgentRoleConfig) *AgentRoleRegistry {
	copied := make(map[string]*AgentRoleConfig, len(roles))
	for k, v := range roles {
		copied[k] = v
	}
	return &AgentRoleRegistry{roles: copied}
}

// Get retrieves a role configuration by name.
func (r *AgentRoleRegistry) Get(name string) (*AgentRoleConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	return role, nil
}

// Has reports whether a role exists.
func (r *AgentRoleRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[name]
	return ok
}

// GetAll returns a defensive copy of every configured role keyed by name.
func (r *AgentRoleRegistry) GetAll() map[string]*AgentRoleConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*AgentRoleConfig, len(r.roles))
	for k, v := range r.roles {
		result[k] = v
	}
	return result
}

// TriggersFor returns, per role name, the triggers configured for the given
// event type.
func (r *AgentRoleRegistry) TriggersFor(event string) map[string][]TriggerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string][]TriggerConfig)
	for name, role := range r.roles {
		for _, t := range role.Triggers {
			if t.Event == event {
				result[name] = append(result[name], t)
			}
		}
	}
	return result
}

// Len returns the number of configured roles.
func (r *AgentRoleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles)
}
