package config

import (
	"fmt"
	"sync"
)

// TriggerMatch declares when a pipeline definition fires. Condition supports
// the trigger-time checks named in spec §4.7: a specific label on label
// events, any-of labels on an issue, or a PR base branch.
type TriggerMatch struct {
	Event        string   `yaml:"event" validate:"required"`
	Label        string   `yaml:"label,omitempty"`
	AnyOfLabels  []string `yaml:"any_of_labels,omitempty"`
	BaseBranch   string   `yaml:"base_branch,omitempty"`
}

// StageCondition gates whether a stage executes. Exactly one of LabelsInclude,
// Any, or All should be set.
type StageCondition struct {
	LabelsInclude string           `yaml:"labels_include,omitempty"`
	Any           []StageCondition `yaml:"any,omitempty"`
	All           []StageCondition `yaml:"all,omitempty"`
}

// StageTransitions maps stage outcomes to the next stage id. A target is
// either a declared stage id, `__next__`, or `__complete__`/`__escalate__`.
type StageTransitions struct {
	OnComplete string           `yaml:"on_complete,omitempty"`
	OnPass     string           `yaml:"on_pass,omitempty"`
	OnFail     string           `yaml:"on_fail,omitempty"`
	OnError    *ErrorTransition `yaml:"on_error,omitempty"`
	SkipTo     string           `yaml:"skip_to,omitempty"`

	// MaxIterations bounds how many times a transition target may be taken
	// for this stage across the run's lifetime before Then is forced instead.
	MaxIterations int    `yaml:"max_iterations,omitempty"`
	Then          string `yaml:"then,omitempty"`
}

// ErrorTransition declares a bounded retry policy for a failing stage.
type ErrorTransition struct {
	Retry int    `yaml:"retry,omitempty"`
	Then  string `yaml:"then,omitempty"`
}

// GateCheckConfig is one named check invocation within a gate stage.
type GateCheckConfig struct {
	Type     string         `yaml:"type" validate:"required"`
	Config   map[string]any `yaml:"config,omitempty"`
	Reactive []string       `yaml:"reactive,omitempty"`
}

// ParallelBranch is one branch of a parallel stage: an inline sub-sequence
// identified by a branch id, sharing the parent run's stage-id namespace.
type ParallelBranch struct {
	ID      string             `yaml:"id" validate:"required"`
	Stage   StageDefinition    `yaml:"stage" validate:"required"`
}

// StageDefinition is one node of a pipeline's static stage graph.
type StageDefinition struct {
	ID        string          `yaml:"id" validate:"required"`
	Type      StageType       `yaml:"type" validate:"required"`
	Condition *StageCondition `yaml:"condition,omitempty"`

	// agent stage
	Role            string `yaml:"role,omitempty"`
	Action          string `yaml:"action,omitempty"`
	ContinueSession bool   `yaml:"continue_session,omitempty"`

	// gate stage
	Checks       []GateCheckConfig `yaml:"checks,omitempty"`
	SuccessPolicy SuccessPolicy    `yaml:"success_policy,omitempty"`

	// action stage
	ActionName string         `yaml:"action_name,omitempty"`
	ActionArgs map[string]any `yaml:"action_args,omitempty"`
	OnConflict string         `yaml:"on_conflict,omitempty"`

	// delay stage
	Duration string `yaml:"duration,omitempty"`

	// human stage
	AssignedUsers []string `yaml:"assigned_users,omitempty"`

	// parallel stage
	Branches    []ParallelBranch `yaml:"branches,omitempty"`
	OnAnyReject string           `yaml:"on_any_reject,omitempty"`

	// sub-pipeline stage
	Pipeline string `yaml:"pipeline,omitempty"`

	Transitions *StageTransitions `yaml:"transitions,omitempty"`
}

// ReactiveHandler is one `on_events` entry of a pipeline definition.
type ReactiveHandler struct {
	Event         string         `yaml:"event" validate:"required"`
	Action        ReactiveAction `yaml:"action" validate:"required"`
	RestartFrom   string         `yaml:"restart_from,omitempty"`
	InvalidateIDs []string       `yaml:"invalidate,omitempty"`
}

// PipelineDefinition is the static, immutable shape of a `workflows[name]`
// entry. A PipelineRun snapshots this value at trigger time.
type PipelineDefinition struct {
	Name           string            `yaml:"name" validate:"required"`
	Description    string            `yaml:"description,omitempty"`
	Trigger        TriggerMatch      `yaml:"trigger" validate:"required"`
	Scope          PipelineScope     `yaml:"scope,omitempty"`
	DefaultContext map[string]any    `yaml:"default_context,omitempty"`
	Stages         []StageDefinition `yaml:"stages" validate:"required,min=1"`
	OnEvents       []ReactiveHandler `yaml:"on_events,omitempty"`
}

// StageByID returns the stage with the given id, or false if absent.
func (p *PipelineDefinition) StageByID(id string) (StageDefinition, bool) {
	for _, s := range p.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// NextStageID resolves the implicit `__next__` target relative to fromID; the
// empty string return means there is no further stage (pipeline completes).
func (p *PipelineDefinition) NextStageID(fromID string) string {
	for i, s := range p.Stages {
		if s.ID == fromID && i+1 < len(p.Stages) {
			return p.Stages[i+1].ID
		}
	}
	return ""
}

// PipelineRegistry stores named pipeline definitions in memory.
type PipelineRegistry struct {
	mu        sync.RWMutex
	pipelines map[string]*PipelineDefinition
}

// NewPipelineRegistry defensively copies pipelines into a new registry.
func NewPipelineRegistry(pipelines map[string]*PipelineDefinition) *PipelineRegistry {
	copied := make(map[string]*PipelineDefinition, len(pipelines))
	for k, v := range pipelines {
		copied[k] = v
	}
	return &PipelineRegistry{pipelines: copied}
}

// Get retrieves a pipeline definition by name.
func (r *PipelineRegistry) Get(name string) (*PipelineDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
	}
	return p, nil
}

// GetAll returns every configured pipeline definition.
func (r *PipelineRegistry) GetAll() map[string]*PipelineDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*PipelineDefinition, len(r.pipelines))
	for k, v := range r.pipelines {
		result[k] = v
	}
	return result
}

// TriggeredBy returns every pipeline definition whose trigger matches event.
func (r *PipelineRegistry) TriggeredBy(event string) []*PipelineDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*PipelineDefinition
	for _, p := range r.pipelines {
		if p.Trigger.Event == event {
			result = append(result, p)
		}
	}
	return result
}
