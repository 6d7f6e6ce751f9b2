package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

// advance resolves a semantic outcome ("complete", "pass", "fail", "skip")
// against stage's transitions into a concrete target, then moves the run
// there. Use advanceTo instead when the caller already holds a concrete
// target (a raw stage id, or an on_error/on_conflict/skip_to override).
func (e *Engine) advance(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, outcome string) error {
	return e.advanceTo(ctx, run, stage, e.resolveTarget(stage, outcome))
}

// advanceTo moves the run to target: a declared stage id, `__next__`,
// or `__complete__`/`__escalate__`. MaxIterations/Then bounding applies to
// any non-sentinel target.
func (e *Engine) advanceTo(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, target string) error {
	if !isSentinel(target) && stage.Transitions != nil && stage.Transitions.MaxIterations > 0 {
		count := run.IterationCounts[stage.ID] + 1
		run.IterationCounts[stage.ID] = count
		if count > stage.Transitions.MaxIterations && stage.Transitions.Then != "" {
			target = stage.Transitions.Then
		}
	}

	if target == "__next__" {
		if next := run.Definition.NextStageID(stage.ID); next != "" {
			target = next
		} else {
			target = "__complete__"
		}
	}

	switch target {
	case "__complete__":
		return e.finishRun(ctx, run, models.PipelineRunCompleted, "", "")
	case "__escalate__":
		return e.finishRun(ctx, run, models.PipelineRunEscalated, stage.ID, fmt.Sprintf("stage %s escalated", stage.ID))
	default:
		run.CurrentStageID = target
		if err := e.reg.UpdatePipelineRun(ctx, run); err != nil {
			return fmt.Errorf("advancing run %s to %s: %w", run.ID, target, err)
		}
		return e.dispatchStage(ctx, run, target)
	}
}

// resolveTarget maps a semantic outcome keyword to the declared transition
// target, defaulting to `__next__` when the stage names no override.
func (e *Engine) resolveTarget(stage config.StageDefinition, outcome string) string {
	if stage.Transitions == nil {
		return "__next__"
	}
	switch outcome {
	case "complete":
		if stage.Transitions.OnComplete != "" {
			return stage.Transitions.OnComplete
		}
	case "pass":
		if stage.Transitions.OnPass != "" {
			return stage.Transitions.OnPass
		}
	case "fail":
		if stage.Transitions.OnFail != "" {
			return stage.Transitions.OnFail
		}
	case "skip":
		if stage.Transitions.SkipTo != "" {
			return stage.Transitions.SkipTo
		}
	}
	return "__next__"
}

func (e *Engine) finishRun(ctx context.Context, run *models.PipelineRun, status models.PipelineRunStatus, errStage, errMsg string) error {
	run.Status = status
	run.ErrorStageID = errStage
	run.ErrorMessage = errMsg
	now := time.Now()
	run.CompletedAt = &now
	if err := e.reg.UpdatePipelineRun(ctx, run); err != nil {
		return fmt.Errorf("finishing run %s as %s: %w", run.ID, status, err)
	}
	if status == models.PipelineRunEscalated {
		slog.Warn("pipeline run escalated", "run", run.ID, "pipeline", run.PipelineName, "stage", errStage)
	}
	if run.ParentRunID != nil {
		return e.resumeParentAfterChild(ctx, run)
	}
	return nil
}

// handleStageFailure applies a stage's bounded retry policy: re-attempt up
// to on_error.retry times, else take on_error.then (default __escalate__).
func (e *Engine) handleStageFailure(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, sr *models.StageRun, errMsg string) error {
	sr.Status = models.StageRunFailed
	sr.ErrorMessage = errMsg
	now := time.Now()
	sr.CompletedAt = &now
	if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
		return fmt.Errorf("recording failed stage run: %w", err)
	}

	if sr.AttemptNumber < sr.MaxAttempts {
		retry := &models.StageRun{
			RunID: run.ID, StageID: stage.ID, Status: models.StageRunRunning,
			ParentStageID: sr.ParentStageID, AttemptNumber: sr.AttemptNumber + 1, MaxAttempts: sr.MaxAttempts,
		}
		retryStart := time.Now()
		retry.StartedAt = &retryStart
		id, err := e.reg.CreateStageRun(ctx, retry)
		if err != nil {
			return fmt.Errorf("creating retry stage run for %s: %w", stage.ID, err)
		}
		retry.ID = id
		return e.execute(ctx, run, stage, retry)
	}

	target := "__escalate__"
	if stage.Transitions != nil && stage.Transitions.OnError != nil && stage.Transitions.OnError.Then != "" {
		target = stage.Transitions.OnError.Then
	}
	return e.advanceTo(ctx, run, stage, target)
}
