package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSquadronYAML(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "squadron.yaml"), []byte(content), 0o644))
}

func TestInitialize_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	writeSquadronYAML(t, dir, `
project:
  name: demo
  owner: acme
  repo: widgets
  bot_username: squadron-bot
runtime:
  max_concurrent_agents: 4
agent_roles:
  feat-dev:
    agent_definition: feat-dev.md
    lifecycle: persistent
    triggers:
      - event: issues.assigned
        action: spawn
workflows:
  release:
    name: release
    trigger:
      event: pull_request.opened
    stages:
      - id: develop
        type: agent
        role: feat-dev
      - id: gate
        type: gate
        checks:
          - type: command
      - id: deploy
        type: action
        action_name: merge_pr
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, 4, cfg.Runtime.MaxConcurrentAgents)
	assert.True(t, cfg.Roles.Has("feat-dev"))
	p, err := cfg.GetPipeline("release")
	require.NoError(t, err)
	assert.Len(t, p.Stages, 3)
}

func TestInitialize_MissingProjectFields(t *testing.T) {
	dir := t.TempDir()
	writeSquadronYAML(t, dir, `
project:
  name: demo
`)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitialize_UnknownGateCheckType(t *testing.T) {
	dir := t.TempDir()
	writeSquadronYAML(t, dir, `
project:
  name: demo
  owner: acme
  repo: widgets
  bot_username: bot
agent_roles:
  feat-dev:
    agent_definition: feat-dev.md
    lifecycle: persistent
workflows:
  release:
    name: release
    trigger:
      event: pull_request.opened
    stages:
      - id: gate
        type: gate
        checks:
          - type: not_a_real_check
`)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_a_real_check")
}

func TestInitialize_DanglingTransitionTarget(t *testing.T) {
	dir := t.TempDir()
	writeSquadronYAML(t, dir, `
project:
  name: demo
  owner: acme
  repo: widgets
  bot_username: bot
agent_roles:
  feat-dev:
    agent_definition: feat-dev.md
    lifecycle: persistent
workflows:
  release:
    name: release
    trigger:
      event: pull_request.opened
    stages:
      - id: develop
        type: agent
        role: feat-dev
        transitions:
          on_complete: nonexistent-stage
`)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestMergeRoles_UserOverridesBuiltin(t *testing.T) {
	builtin := map[string]AgentRoleConfig{
		"feat-dev": {AgentDefinition: "builtin.md", Lifecycle: LifecycleEphemeral},
	}
	user := map[string]AgentRoleConfig{
		"feat-dev": {AgentDefinition: "user.md", Lifecycle: LifecyclePersistent},
	}
	merged := mergeRoles(builtin, user)
	require.Contains(t, merged, "feat-dev")
	assert.Equal(t, "user.md", merged["feat-dev"].AgentDefinition)
	assert.Equal(t, LifecyclePersistent, merged["feat-dev"].Lifecycle)
}

func TestResolveCircuitBreakers_OverrideFallsBackToDefault(t *testing.T) {
	defaults := CircuitBreakerConfig{MaxToolCalls: 100, MaxTurns: 200, WarningThreshold: 0.8}
	override := &CircuitBreakerConfig{MaxToolCalls: 5}
	resolved := ResolveCircuitBreakers(defaults, override)
	assert.Equal(t, 5, resolved.MaxToolCalls)
	assert.Equal(t, 200, resolved.MaxTurns)
	assert.Equal(t, 0.8, resolved.WarningThreshold)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SQUADRON_TEST_VAR", "value")
	out := ExpandEnv([]byte("x: ${SQUADRON_TEST_VAR}"))
	assert.Equal(t, "x: value", string(out))
}
