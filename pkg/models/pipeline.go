package models

import (
	"encoding/json"
	"time"

	"github.com/nbaertsch/squadron/pkg/config"
)

// PipelineRunStatus is the closed set of PipelineRun states.
type PipelineRunStatus string

const (
	PipelineRunPending   PipelineRunStatus = "PENDING"
	PipelineRunRunning   PipelineRunStatus = "RUNNING"
	PipelineRunCompleted PipelineRunStatus = "COMPLETED"
	PipelineRunFailed    PipelineRunStatus = "FAILED"
	PipelineRunEscalated PipelineRunStatus = "ESCALATED"
	PipelineRunCancelled PipelineRunStatus = "CANCELLED"
)

// IsTerminal reports whether the run has finished advancing.
func (s PipelineRunStatus) IsTerminal() bool {
	switch s {
	case PipelineRunCompleted, PipelineRunFailed, PipelineRunEscalated, PipelineRunCancelled:
		return true
	default:
		return false
	}
}

// PipelineRun is the persisted record of one pipeline trigger, per spec §3.
// Definition is an immutable snapshot taken at trigger time so that live
// edits to the YAML config never affect an in-flight run.
type PipelineRun struct {
	ID                string
	PipelineName      string
	Definition        config.PipelineDefinition
	TriggerEvent      string
	TriggerDeliveryID string

	IssueID *int64
	PRID    *int64
	Scope   config.PipelineScope

	ParentRunID   *string
	ParentStageID *string
	NestingDepth  int

	Status        PipelineRunStatus
	CurrentStageID string
	Context       map[string]any

	// IterationCounts tracks, per stage id, how many times a
	// max_iterations-bounded transition target has been taken.
	IterationCounts map[string]int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ErrorMessage string
	ErrorStageID string
}

// StageByID is a convenience accessor over the run's immutable snapshot.
func (r *PipelineRun) StageByID(id string) (config.StageDefinition, bool) {
	return r.Definition.StageByID(id)
}

// ContextJSON marshals the run's free-form context map for persistence.
func (r *PipelineRun) ContextJSON() ([]byte, error) {
	if r.Context == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Context)
}

// StageRunStatus is the closed set of StageRun states.
type StageRunStatus string

const (
	StageRunPending   StageRunStatus = "PENDING"
	StageRunRunning   StageRunStatus = "RUNNING"
	StageRunWaiting   StageRunStatus = "WAITING"
	StageRunCompleted StageRunStatus = "COMPLETED"
	StageRunFailed    StageRunStatus = "FAILED"
	StageRunSkipped   StageRunStatus = "SKIPPED"
	StageRunCancelled StageRunStatus = "CANCELLED"
)

// IsTerminal reports whether the stage run has reached a final state.
func (s StageRunStatus) IsTerminal() bool {
	switch s {
	case StageRunCompleted, StageRunFailed, StageRunSkipped, StageRunCancelled:
		return true
	default:
		return false
	}
}

// StageRun is one attempt at executing a stage within a PipelineRun, per
// spec §3. Retries create a new row rather than mutating the prior attempt.
type StageRun struct {
	ID       int64
	RunID    string
	StageID  string
	Status   StageRunStatus

	AgentID string

	BranchID      string
	ParentStageID string

	ChildPipelineRunID string

	Outputs      map[string]any
	ErrorMessage string

	AttemptNumber int
	MaxAttempts   int

	StartedAt   *time.Time
	CompletedAt *time.Time
}

// GateCheckRecord is a per-condition evaluation audit row, per spec §4.8.
type GateCheckRecord struct {
	ID          int64
	StageRunID  int64
	CheckType   string
	CheckConfig map[string]any
	Passed      bool
	Message     string
	Data        map[string]any
	CheckedAt   time.Time
}

// HumanStageState tracks a human-checkpoint stage's wait state.
type HumanStageState struct {
	ID              int64
	StageRunID      int64
	EntryNotifiedAt time.Time
	LastReminderAt  *time.Time
	ReminderCount   int
	AssignedUsers   []string
	CompletedBy     string
	CompletedAction string
}
