package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

// executeSubPipelineStage starts a child run one nesting level deeper and
// parks the stage run in WAITING until the child reaches a terminal state.
//
// The child id is minted here, not inside startRun, so it can be persisted
// onto this stage run before the child's first stage has any chance to
// complete synchronously and look it up via GetStageRunByChildRun.
func (e *Engine) executeSubPipelineStage(ctx context.Context, run *models.PipelineRun, stage config.StageDefinition, sr *models.StageRun) error {
	child, err := e.cfg.Pipelines.Get(stage.Pipeline)
	if err != nil {
		return e.handleStageFailure(ctx, run, stage, sr, fmt.Sprintf("unknown sub-pipeline %s: %v", stage.Pipeline, err))
	}

	childID := uuid.NewString()
	sr.Status = models.StageRunWaiting
	sr.ChildPipelineRunID = childID
	if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
		return fmt.Errorf("recording sub-pipeline linkage: %w", err)
	}

	evt := models.Event{
		Type:       models.EventWorkflowInternal,
		DeliveryID: run.ID + "/" + stage.ID,
		IssueID:    run.IssueID,
		PRID:       run.PRID,
	}

	if _, err := e.startRunWithID(ctx, child, evt, &run.ID, stage.ID, run.NestingDepth+1, childID); err != nil {
		return e.handleStageFailure(ctx, run, stage, sr, fmt.Sprintf("starting sub-pipeline %s: %v", stage.Pipeline, err))
	}
	return nil
}

// resumeParentAfterChild advances the parent pipeline once a sub-pipeline
// run it is waiting on reaches a terminal state.
func (e *Engine) resumeParentAfterChild(ctx context.Context, child *models.PipelineRun) error {
	sr, err := e.reg.GetStageRunByChildRun(ctx, child.ID)
	if err != nil {
		return fmt.Errorf("finding parent stage run for child %s: %w", child.ID, err)
	}
	parent, err := e.reg.GetPipelineRun(ctx, sr.RunID)
	if err != nil {
		return fmt.Errorf("loading parent run %s: %w", sr.RunID, err)
	}
	stage, ok := parent.StageByID(sr.StageID)
	if !ok {
		return fmt.Errorf("parent run %s: unknown stage %s", parent.ID, sr.StageID)
	}

	outcome := "complete"
	if child.Status != models.PipelineRunCompleted {
		outcome = "fail"
	}
	sr.Status = fromPipelineStatus(child.Status)
	if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
		return fmt.Errorf("completing sub-pipeline stage run: %w", err)
	}
	if outcome == "fail" {
		return e.handleStageFailure(ctx, parent, stage, sr, fmt.Sprintf("sub-pipeline %s ended %s", child.PipelineName, child.Status))
	}
	return e.advance(ctx, parent, stage, outcome)
}

func fromPipelineStatus(s models.PipelineRunStatus) models.StageRunStatus {
	switch s {
	case models.PipelineRunCompleted:
		return models.StageRunCompleted
	case models.PipelineRunCancelled:
		return models.StageRunCancelled
	default:
		return models.StageRunFailed
	}
}
