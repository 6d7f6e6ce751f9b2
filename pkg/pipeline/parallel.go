package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

// branchStageID namespaces a branch's stage run under its parent stage id so
// ListStageRuns can recover the join set.
func branchStageID(parent config.StageDefinition, branch config.ParallelBranch) string {
	return parent.ID + ":" + branch.ID
}

// executeParallelStage dispatches every branch as its own stage-run row;
// completion of each branch (synchronous types immediately, agent/delay
// types via their own callbacks) triggers tryJoinParallel.
func (e *Engine) executeParallelStage(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, sr *models.StageRun) error {
	sr.Status = models.StageRunWaiting
	if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
		return err
	}

	for _, branch := range stage.Branches {
		if err := e.dispatchBranch(ctx, run, stage, branch); err != nil {
			return fmt.Errorf("dispatching branch %s of %s: %w", branch.ID, stage.ID, err)
		}
	}
	return e.tryJoinParallel(ctx, run, stage)
}

func (e *Engine) dispatchBranch(ctx context.Context, run *models.PipelineRun, parent config.StageDefinition, branch config.ParallelBranch) error {
	bsr := &models.StageRun{
		RunID: run.ID, StageID: branchStageID(parent, branch), Status: models.StageRunRunning,
		ParentStageID: parent.ID, AttemptNumber: 1, MaxAttempts: 1,
	}
	now := time.Now()
	bsr.StartedAt = &now
	id, err := e.reg.CreateStageRun(ctx, bsr)
	if err != nil {
		return fmt.Errorf("creating branch stage run: %w", err)
	}
	bsr.ID = id
	return e.execute(ctx, run, branch.Stage, bsr)
}

// tryJoinParallel advances the parent stage once every branch stage run for
// it has reached a terminal status.
func (e *Engine) tryJoinParallel(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition) error {
	runs, err := e.reg.ListStageRuns(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("listing stage runs for join on %s: %w", stage.ID, err)
	}

	var parentRun *models.StageRun
	anyFailed := false
	for _, candidate := range runs {
		if candidate.StageID == stage.ID && candidate.ParentStageID == "" {
			parentRun = candidate
		}
		if candidate.ParentStageID != stage.ID {
			continue
		}
		if !candidate.Status.IsTerminal() {
			return nil // at least one branch still in flight
		}
		if candidate.Status == models.StageRunFailed {
			anyFailed = true
		}
	}
	if parentRun == nil {
		return fmt.Errorf("join on %s: parent stage run not found", stage.ID)
	}
	if parentRun.Status.IsTerminal() {
		return nil // already joined
	}

	parentRun.Status = models.StageRunCompleted
	now := time.Now()
	parentRun.CompletedAt = &now
	if err := e.reg.UpdateStageRun(ctx, parentRun); err != nil {
		return fmt.Errorf("completing parallel stage %s: %w", stage.ID, err)
	}
	if anyFailed && stage.OnAnyReject != "" {
		return e.advanceTo(ctx, run, stage, stage.OnAnyReject)
	}
	return e.advance(ctx, run, stage, "complete")
}
