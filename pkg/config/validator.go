package config

import (
	"errors"
	"fmt"
	"time"
)

// knownGateCheckTypes is the closed set of built-in gate check names (see
// pkg/gatecheck). Listed here so config validation can catch an unknown
// check type at startup rather than at first gate evaluation.
var knownGateCheckTypes = map[string]bool{
	"command":       true,
	"file_exists":   true,
	"label_present": true,
	"pr_approval":   true,
	"ci_status":     true,
}

const (
	sentinelComplete = "__complete__"
	sentinelEscalate = "__escalate__"
	sentinelNext     = "__next__"
	maxPipelineNestingDepth = 3
)

// Validator performs startup configuration validation. Unlike a single
// first-error return, ValidateAll accumulates every problem it finds and
// returns them joined, so a misconfigured deployment gets one complete report
// instead of a fix-rerun-fix loop (spec's "Config error (startup)" policy:
// fail fast with a list of errors).
type Validator struct {
	cfg    *Config
	errs   []error
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

func (v *Validator) fail(err error) { v.errs = append(v.errs, err) }

// ValidateAll validates project settings, runtime tunables, circuit
// breakers, agent roles, and pipeline definitions, in that dependency order.
func (v *Validator) ValidateAll() error {
	v.validateProject()
	v.validateRuntime()
	v.validateCircuitBreakers(v.cfg.CircuitBreakerDefaults, "defaults", "")
	v.validateRoles()
	v.validatePipelines()

	if len(v.errs) == 0 {
		return nil
	}
	return errors.Join(v.errs...)
}

func (v *Validator) validateProject() {
	p := v.cfg.Project
	if p.Name == "" {
		v.fail(NewValidationError("project", "project", "name", ErrMissingRequiredField))
	}
	if p.Owner == "" {
		v.fail(NewValidationError("project", "project", "owner", ErrMissingRequiredField))
	}
	if p.Repo == "" {
		v.fail(NewValidationError("project", "project", "repo", ErrMissingRequiredField))
	}
	if p.BotUsername == "" {
		v.fail(NewValidationError("project", "project", "bot_username", ErrMissingRequiredField))
	}
}

func (v *Validator) validateRuntime() {
	r := v.cfg.Runtime
	if r.MaxConcurrentAgents < 0 {
		v.fail(NewValidationError("runtime", "runtime", "max_concurrent_agents", ErrInvalidValue))
	}
	if r.ReconciliationInterval != "" {
		if _, err := time.ParseDuration(r.ReconciliationInterval); err != nil {
			v.fail(NewValidationError("runtime", "runtime", "reconciliation_interval", fmt.Errorf("%w: %v", ErrInvalidValue, err)))
		}
	}
}

func (v *Validator) validateCircuitBreakers(cb CircuitBreakerConfig, component, id string) {
	if cb.MaxToolCalls < 0 {
		v.fail(NewValidationError(component, id, "max_tool_calls", ErrInvalidValue))
	}
	if cb.WarningThreshold < 0 || cb.WarningThreshold > 1 {
		v.fail(NewValidationError(component, id, "warning_threshold", ErrInvalidValue))
	}
	if cb.MaxActiveDuration != "" {
		if _, err := time.ParseDuration(cb.MaxActiveDuration); err != nil {
			v.fail(NewValidationError(component, id, "max_active_duration", fmt.Errorf("%w: %v", ErrInvalidValue, err)))
		}
	}
	if cb.MaxSleepDuration != "" {
		if _, err := time.ParseDuration(cb.MaxSleepDuration); err != nil {
			v.fail(NewValidationError(component, id, "max_sleep_duration", fmt.Errorf("%w: %v", ErrInvalidValue, err)))
		}
	}
}

func (v *Validator) validateRoles() {
	for name, role := range v.cfg.Roles.GetAll() {
		if role.AgentDefinition == "" {
			v.fail(NewValidationError("agent_role", name, "agent_definition", ErrMissingRequiredField))
		}
		if !role.Lifecycle.IsValid() {
			v.fail(NewValidationError("agent_role", name, "lifecycle", ErrInvalidValue))
		}
		for _, t := range role.Triggers {
			if !t.Action.IsValid() {
				v.fail(NewValidationError("agent_role", name, "triggers.action", ErrInvalidValue))
			}
			if t.Event == "" {
				v.fail(NewValidationError("agent_role", name, "triggers.event", ErrMissingRequiredField))
			}
		}
		for _, sub := range role.Subagents {
			if !v.cfg.Roles.Has(sub) {
				v.fail(NewValidationError("agent_role", name, "subagents", fmt.Errorf("%w: %s", ErrInvalidReference, sub)))
			}
		}
		if role.CircuitBreakers != nil {
			v.validateCircuitBreakers(*role.CircuitBreakers, "agent_role", name)
		}
	}
}

func (v *Validator) validatePipelines() {
	for name, p := range v.cfg.Pipelines.GetAll() {
		if p.Trigger.Event == "" {
			v.fail(NewValidationError("pipeline", name, "trigger.event", ErrMissingRequiredField))
		}
		if len(p.Stages) == 0 {
			v.fail(NewValidationError("pipeline", name, "stages", ErrMissingRequiredField))
			continue
		}

		stageIDs := make(map[string]bool, len(p.Stages))
		for _, s := range p.Stages {
			stageIDs[s.ID] = true
		}

		for _, s := range p.Stages {
			v.validateStage(name, p, s, stageIDs)
		}
	}
}

func (v *Validator) validateStage(pipelineName string, p *PipelineDefinition, s StageDefinition, stageIDs map[string]bool) {
	if !s.Type.IsValid() {
		v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "type", ErrInvalidValue))
		return
	}

	switch s.Type {
	case StageTypeAgent:
		if s.Role == "" {
			v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "role", ErrMissingRequiredField))
		} else if !v.cfg.Roles.Has(s.Role) {
			v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "role", fmt.Errorf("%w: %s", ErrInvalidReference, s.Role)))
		}
	case StageTypeGate:
		if len(s.Checks) == 0 {
			v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "checks", ErrMissingRequiredField))
		}
		for _, c := range s.Checks {
			if !knownGateCheckTypes[c.Type] {
				v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "checks.type", fmt.Errorf("%w: %s", ErrInvalidReference, c.Type)))
			}
		}
		if !s.SuccessPolicy.IsValid() {
			v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "success_policy", ErrInvalidValue))
		}
	case StageTypeAction:
		if s.ActionName == "" {
			v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "action_name", ErrMissingRequiredField))
		}
	case StageTypeDelay:
		if _, err := time.ParseDuration(s.Duration); err != nil {
			v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "duration", fmt.Errorf("%w: %v", ErrInvalidValue, err)))
		}
	case StageTypeParallel:
		if len(s.Branches) == 0 {
			v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "branches", ErrMissingRequiredField))
		}
	case StageTypeSubPipeline:
		if s.Pipeline == "" {
			v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "pipeline", ErrMissingRequiredField))
		} else if _, err := v.cfg.Pipelines.Get(s.Pipeline); err != nil {
			v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "pipeline", fmt.Errorf("%w: %s", ErrInvalidReference, s.Pipeline)))
		}
	}

	if s.Transitions != nil {
		v.validateTransitionTarget(pipelineName, s.ID, "on_complete", s.Transitions.OnComplete, stageIDs)
		v.validateTransitionTarget(pipelineName, s.ID, "on_pass", s.Transitions.OnPass, stageIDs)
		v.validateTransitionTarget(pipelineName, s.ID, "on_fail", s.Transitions.OnFail, stageIDs)
		v.validateTransitionTarget(pipelineName, s.ID, "skip_to", s.Transitions.SkipTo, stageIDs)
		v.validateTransitionTarget(pipelineName, s.ID, "then", s.Transitions.Then, stageIDs)
		if s.Transitions.OnError != nil {
			v.validateTransitionTarget(pipelineName, s.ID, "on_error.then", s.Transitions.OnError.Then, stageIDs)
			if s.Transitions.OnError.Retry < 0 {
				v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+s.ID, "on_error.retry", ErrInvalidValue))
			}
		}
	}

	for _, h := range p.OnEvents {
		if !h.Action.IsValid() {
			v.fail(NewValidationError("pipeline", pipelineName, "on_events.action", ErrInvalidValue))
		}
		if h.Action == ReactiveActionInvalidateRestart && h.RestartFrom != "" && h.RestartFrom != "current" {
			v.validateTransitionTarget(pipelineName, "on_events", "restart_from", h.RestartFrom, stageIDs)
		}
	}
}

func (v *Validator) validateTransitionTarget(pipelineName, stageID, field, target string, stageIDs map[string]bool) {
	if target == "" || target == sentinelNext || target == sentinelComplete || target == sentinelEscalate {
		return
	}
	if !stageIDs[target] {
		v.fail(NewValidationError("pipeline_stage", pipelineName+"/"+stageID, field, fmt.Errorf("%w: %s", ErrInvalidReference, target)))
	}
}
