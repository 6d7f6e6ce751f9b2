package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

// dispatchStage evaluates a stage's condition, then executes it by type
// (spec §4.7's "Stage execution").
func (e *Engine) dispatchStage(ctx context.Context, run *models.PipelineRun, stageID string) error {
	stage, ok := run.StageByID(stageID)
	if !ok {
		return fmt.Errorf("pipeline %s: unknown stage %s", run.PipelineName, stageID)
	}

	if !evalCondition(stage.Condition, run.Context) {
		sr := &models.StageRun{RunID: run.ID, StageID: stage.ID, Status: models.StageRunSkipped, AttemptNumber: 1, MaxAttempts: 1}
		now := time.Now()
		sr.StartedAt, sr.CompletedAt = &now, &now
		if _, err := e.reg.CreateStageRun(ctx, sr); err != nil {
			return fmt.Errorf("recording skipped stage %s: %w", stage.ID, err)
		}
		target := "__next__"
		if stage.Transitions != nil && stage.Transitions.SkipTo != "" {
			target = stage.Transitions.SkipTo
		}
		return e.advanceTo(ctx, run, stage, target)
	}

	maxAttempts := 1
	if stage.Transitions != nil && stage.Transitions.OnError != nil {
		maxAttempts = 1 + stage.Transitions.OnError.Retry
	}

	sr := &models.StageRun{
		RunID: run.ID, StageID: stage.ID, Status: models.StageRunRunning,
		AttemptNumber: 1, MaxAttempts: maxAttempts,
	}
	now := time.Now()
	sr.StartedAt = &now
	id, err := e.reg.CreateStageRun(ctx, sr)
	if err != nil {
		return fmt.Errorf("creating stage run for %s: %w", stage.ID, err)
	}
	sr.ID = id

	return e.execute(ctx, run, stage, sr)
}

// execute runs one stage-run attempt against its type-specific handler.
func (e *Engine) execute(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, sr *models.StageRun) error {
	switch stage.Type {
	case config.StageTypeAgent:
		return e.executeAgentStage(ctx, run, stage, sr)
	case config.StageTypeGate:
		return e.executeGateStage(ctx, run, stage, sr)
	case config.StageTypeAction:
		return e.executeActionStage(ctx, run, stage, sr)
	case config.StageTypeDelay:
		return e.executeDelayStage(ctx, run, stage, sr)
	case config.StageTypeHuman:
		return e.executeHumanStage(ctx, run, stage, sr)
	case config.StageTypeParallel:
		return e.executeParallelStage(ctx, run, stage, sr)
	case config.StageTypeSubPipeline:
		return e.executeSubPipelineStage(ctx, run, stage, sr)
	default:
		return fmt.Errorf("stage %s: unsupported type %s", stage.ID, stage.Type)
	}
}

// executeAgentStage spawns a workflow agent and parks the stage run in
// WAITING; resumption happens via OnAgentTerminal.
func (e *Engine) executeAgentStage(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, sr *models.StageRun) error {
	var issueID, prID int64
	if run.IssueID != nil {
		issueID = *run.IssueID
	}
	if run.PRID != nil {
		prID = *run.PRID
	}

	a, err := e.agents.SpawnWorkflowAgent(ctx, stage.Role, issueID, prID, run.ID, stage.ID, stage.Action)
	if err != nil {
		return e.handleStageFailure(ctx, run, stage, sr, fmt.Sprintf("spawning agent: %v", err))
	}

	sr.Status = models.StageRunWaiting
	sr.AgentID = a.ID
	return e.reg.UpdateStageRun(ctx, sr)
}

// executeGateStage evaluates every configured check and advances on pass;
// on fail the stage remains WAITING for a reactive re-evaluation.
func (e *Engine) executeGateStage(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, sr *models.StageRun) error {
	passed, failures, err := e.evaluateGates(ctx, run, stage, sr)
	if err != nil {
		return e.handleStageFailure(ctx, run, stage, sr, err.Error())
	}

	if passed {
		sr.Status = models.StageRunCompleted
		now := time.Now()
		sr.CompletedAt = &now
		if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
			return err
		}
		return e.advance(ctx, run, stage, "pass")
	}

	sr.Status = models.StageRunWaiting
	sr.Outputs = map[string]any{"unmet_checks": failures}
	return e.reg.UpdateStageRun(ctx, sr)
}

func (e *Engine) evaluateGates(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, sr *models.StageRun) (bool, []string, error) {
	anyMode := stage.SuccessPolicy == config.SuccessPolicyAny
	overallPass := !anyMode
	var failures []string

	for _, check := range stage.Checks {
		res, err := e.gates.Evaluate(ctx, check.Type, check.Config, run.Context)
		if err != nil {
			return false, nil, fmt.Errorf("evaluating check %s: %w", check.Type, err)
		}
		if err := e.reg.RecordGateCheck(ctx, &models.GateCheckRecord{
			StageRunID: sr.ID, CheckType: check.Type, CheckConfig: check.Config,
			Passed: res.Passed, Message: res.Message, Data: res.Data,
		}); err != nil {
			return false, nil, fmt.Errorf("recording gate check: %w", err)
		}

		if res.Passed && anyMode {
			return true, nil, nil
		}
		if !res.Passed {
			failures = append(failures, check.Type)
			if !anyMode {
				overallPass = false
			}
		}
	}
	if anyMode {
		return false, failures, nil
	}
	return overallPass, failures, nil
}

// executeActionStage invokes the pluggable action callback.
func (e *Engine) executeActionStage(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, sr *models.StageRun) error {
	fn, ok := e.actions[stage.ActionName]
	if !ok {
		return e.handleStageFailure(ctx, run, stage, sr, fmt.Sprintf("unknown action %s", stage.ActionName))
	}
	res, err := fn(ctx, stage, run)
	if err != nil {
		return e.handleStageFailure(ctx, run, stage, sr, err.Error())
	}
	if res.Conflict && stage.OnConflict != "" {
		sr.Status = models.StageRunFailed
		sr.ErrorMessage = "conflict"
		now := time.Now()
		sr.CompletedAt = &now
		if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
			return err
		}
		return e.advanceTo(ctx, run, stage, stage.OnConflict)
	}
	if !res.Success {
		return e.handleStageFailure(ctx, run, stage, sr, res.Error)
	}

	sr.Status = models.StageRunCompleted
	sr.Outputs = res.Data
	now := time.Now()
	sr.CompletedAt = &now
	if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
		return err
	}
	return e.advance(ctx, run, stage, "complete")
}

// executeDelayStage sleeps for the configured duration as a cancellable
// task, advancing on completion.
func (e *Engine) executeDelayStage(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, sr *models.StageRun) error {
	d, err := time.ParseDuration(stage.Duration)
	if err != nil {
		return e.handleStageFailure(ctx, run, stage, sr, fmt.Sprintf("invalid delay duration %q: %v", stage.Duration, err))
	}

	sr.Status = models.StageRunWaiting
	if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
		return err
	}

	delayCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.delays[run.ID+"/"+stage.ID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.delays, run.ID+"/"+stage.ID)
			e.mu.Unlock()
		}()
		select {
		case <-delayCtx.Done():
			return
		case <-time.After(d):
		}
		sr.Status = models.StageRunCompleted
		now := time.Now()
		sr.CompletedAt = &now
		if err := e.reg.UpdateStageRun(context.Background(), sr); err != nil {
			return
		}
		_ = e.advance(context.Background(), run, stage, "complete")
	}()
	return nil
}

// executeHumanStage enters WAITING and records a Human Stage State row;
// advances only via explicit completion from the (out-of-scope) human
// interface.
func (e *Engine) executeHumanStage(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, sr *models.StageRun) error {
	sr.Status = models.StageRunWaiting
	if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
		return err
	}
	now := time.Now()
	return e.reg.UpsertHumanStageState(ctx, &models.HumanStageState{
		StageRunID: sr.ID, EntryNotifiedAt: now, AssignedUsers: stage.AssignedUsers,
	})
}

// CompleteHumanStage is called by the (out-of-scope) human interface when an
// assigned user resolves a human checkpoint.
func (e *Engine) CompleteHumanStage(ctx context.Context, runID string, stageID string, completedBy, action string) error {
	run, err := e.reg.GetPipelineRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", runID, err)
	}
	stage, ok := run.StageByID(stageID)
	if !ok {
		return fmt.Errorf("run %s: unknown stage %s", runID, stageID)
	}
	runs, err := e.reg.ListStageRuns(ctx, runID)
	if err != nil {
		return err
	}
	var sr *models.StageRun
	for _, candidate := range runs {
		if candidate.StageID == stageID && candidate.Status == models.StageRunWaiting {
			sr = candidate
		}
	}
	if sr == nil {
		return fmt.Errorf("run %s: no waiting stage run for %s", runID, stageID)
	}

	sr.Status = models.StageRunCompleted
	now := time.Now()
	sr.CompletedAt = &now
	if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
		return err
	}
	if err := e.reg.UpsertHumanStageState(ctx, &models.HumanStageState{
		StageRunID: sr.ID, ReminderCount: 0, CompletedBy: completedBy, CompletedAction: action,
	}); err != nil {
		return err
	}
	return e.advance(ctx, run, stage, "complete")
}

func evalCondition(cond *config.StageCondition, runCtx map[string]any) bool {
	if cond == nil {
		return true
	}
	if cond.LabelsInclude != "" {
		labels, _ := runCtx["labels"].([]string)
		return containsString(labels, cond.LabelsInclude)
	}
	if len(cond.Any) > 0 {
		for _, sub := range cond.Any {
			if evalCondition(&sub, runCtx) {
				return true
			}
		}
		return false
	}
	if len(cond.All) > 0 {
		for _, sub := range cond.All {
			if !evalCondition(&sub, runCtx) {
				return false
			}
		}
		return true
	}
	return true
}
