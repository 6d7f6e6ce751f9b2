package config

// Lifecycle determines how an agent role's process is managed across turns.
type Lifecycle string

const (
	// LifecycleEphemeral agents get no worktree of their own. The Lifecycle
	// Manager does not end them after a turn; like other agents they stay
	// ACTIVE until they complete, sleep, or are escalated.
	LifecycleEphemeral Lifecycle = "ephemeral"
	// LifecyclePersistent agents survive across sleep/wake and are keyed by
	// (role, issue).
	LifecyclePersistent Lifecycle = "persistent"
	// LifecycleStateful is handled exactly like persistent; nothing resumes
	// its LLM session across process restarts.
	LifecycleStateful Lifecycle = "stateful"
)

// IsValid reports whether the lifecycle value is one of the closed set.
func (l Lifecycle) IsValid() bool {
	switch l {
	case LifecycleEphemeral, LifecyclePersistent, LifecycleStateful:
		return true
	default:
		return false
	}
}

// TriggerAction is the action a matching trigger drives on the Lifecycle Manager.
type TriggerAction string

const (
	TriggerActionSpawn    TriggerAction = "spawn"
	TriggerActionWake     TriggerAction = "wake"
	TriggerActionComplete TriggerAction = "complete"
	TriggerActionSleep    TriggerAction = "sleep"
)

func (a TriggerAction) IsValid() bool {
	switch a {
	case TriggerActionSpawn, TriggerActionWake, TriggerActionComplete, TriggerActionSleep:
		return true
	default:
		return false
	}
}

// StageType is the closed set of pipeline stage kinds.
type StageType string

const (
	StageTypeAgent       StageType = "agent"
	StageTypeGate        StageType = "gate"
	StageTypeAction      StageType = "action"
	StageTypeDelay       StageType = "delay"
	StageTypeHuman       StageType = "human"
	StageTypeParallel    StageType = "parallel"
	StageTypeSubPipeline StageType = "pipeline"
)

func (t StageType) IsValid() bool {
	switch t {
	case StageTypeAgent, StageTypeGate, StageTypeAction, StageTypeDelay,
		StageTypeHuman, StageTypeParallel, StageTypeSubPipeline:
		return true
	default:
		return false
	}
}

// SuccessPolicy controls gate/parallel join semantics.
type SuccessPolicy string

const (
	SuccessPolicyAll SuccessPolicy = "all"
	SuccessPolicyAny SuccessPolicy = "any"
)

func (p SuccessPolicy) IsValid() bool {
	return p == SuccessPolicyAll || p == SuccessPolicyAny || p == ""
}

// ReactiveAction is the closed set of on_events handler actions.
type ReactiveAction string

const (
	ReactiveActionCancel            ReactiveAction = "cancel"
	ReactiveActionReevaluateGates   ReactiveAction = "reevaluate_gates"
	ReactiveActionInvalidateRestart ReactiveAction = "invalidate_and_restart"
	ReactiveActionNotify            ReactiveAction = "notify"
)

func (a ReactiveAction) IsValid() bool {
	switch a {
	case ReactiveActionCancel, ReactiveActionReevaluateGates, ReactiveActionInvalidateRestart, ReactiveActionNotify:
		return true
	default:
		return false
	}
}

// PipelineScope controls duplicate-run suppression.
type PipelineScope string

const (
	PipelineScopeSinglePR PipelineScope = "single-pr"
	PipelineScopeOther    PipelineScope = "other"
)

func (s PipelineScope) IsValid() bool {
	return s == PipelineScopeSinglePR || s == PipelineScopeOther || s == ""
}
