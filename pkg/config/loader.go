package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// SquadronYAMLConfig represents the complete squadron.yaml file structure.
type SquadronYAMLConfig struct {
	Project      ProjectConfig                  `yaml:"project"`
	Runtime      *RuntimeConfig                 `yaml:"runtime"`
	CircuitBreakers *CircuitBreakersConfig      `yaml:"circuit_breakers"`
	AgentRoles   map[string]AgentRoleConfig     `yaml:"agent_roles"`
	BranchNaming *BranchNamingConfig            `yaml:"branch_naming"`
	ReviewPolicy *ReviewPolicyConfig            `yaml:"review_policy"`
	Escalation   *EscalationConfig              `yaml:"escalation"`
	Workflows    map[string]PipelineDefinition  `yaml:"workflows"`
}

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the primary entry point called from cmd/squadron/main.go.
//
// Steps performed:
//  1. Load squadron.yaml from configDir.
//  2. Expand environment variables (${VAR} / $VAR).
//  3. Merge built-in defaults with user-defined roles/pipelines/policy.
//  4. Build in-memory registries.
//  5. Validate all configuration (fails fast with every problem listed).
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.InfoContext(ctx, "initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.InfoContext(ctx, "configuration initialized",
		"roles", stats.Roles,
		"pipelines", stats.Pipelines)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	userCfg, err := loader.loadSquadronYAML()
	if err != nil {
		return nil, NewLoadError("squadron.yaml", err)
	}

	builtin := GetBuiltinConfig()

	roles := mergeRoles(builtin.Roles, userCfg.AgentRoles)
	pipelines := mergePipelines(builtin.Pipelines, userCfg.Workflows)

	runtime := builtin.Runtime
	if userCfg.Runtime != nil {
		if err := mergo.Merge(&runtime, *userCfg.Runtime, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge runtime config: %w", err)
		}
	}

	circuitBreakers := builtin.CircuitBreakerDefaults
	if userCfg.CircuitBreakers != nil {
		circuitBreakers = ResolveCircuitBreakers(circuitBreakers, &userCfg.CircuitBreakers.Defaults)
		for name, override := range userCfg.CircuitBreakers.Overrides {
			if role, ok := roles[name]; ok {
				o := override
				role.CircuitBreakers = &o
			}
		}
	}

	branchNaming := builtin.BranchNaming
	if userCfg.BranchNaming != nil {
		mergeBranchNaming(&branchNaming, userCfg.BranchNaming)
	}

	escalation := builtin.Escalation
	if userCfg.Escalation != nil {
		escalation = *userCfg.Escalation
	}

	reviewPolicy := ReviewPolicyConfig{}
	if userCfg.ReviewPolicy != nil {
		reviewPolicy = *userCfg.ReviewPolicy
	}

	return &Config{
		configDir:              configDir,
		Project:                userCfg.Project,
		Runtime:                runtime,
		BranchNaming:           branchNaming,
		ReviewPolicy:           reviewPolicy,
		Escalation:             escalation,
		CircuitBreakerDefaults: circuitBreakers,
		Roles:                  NewAgentRoleRegistry(roles),
		Pipelines:              NewPipelineRegistry(pipelines),
	}, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadSquadronYAML() (*SquadronYAMLConfig, error) {
	cfg := &SquadronYAMLConfig{
		AgentRoles: make(map[string]AgentRoleConfig),
		Workflows:  make(map[string]PipelineDefinition),
	}
	if err := l.loadYAML("squadron.yaml", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeBranchNaming(base *BranchNamingConfig, override *BranchNamingConfig) {
	if override.Feature != "" {
		base.Feature = override.Feature
	}
	if override.Bugfix != "" {
		base.Bugfix = override.Bugfix
	}
	if override.Security != "" {
		base.Security = override.Security
	}
	if override.Docs != "" {
		base.Docs = override.Docs
	}
	if override.Infra != "" {
		base.Infra = override.Infra
	}
	if override.Hotfix != "" {
		base.Hotfix = override.Hotfix
	}
}
