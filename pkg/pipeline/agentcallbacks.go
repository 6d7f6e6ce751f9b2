package pipeline

import (
	"context"
	"fmt"

	"github.com/nbaertsch/squadron/pkg/models"
	"github.com/nbaertsch/squadron/pkg/registry"
)

// OnAgentTerminal is invoked by the Lifecycle Manager (or the Reconciliation
// Loop recovering a missed transition) whenever a workflow agent it spawned
// for a pipeline stage reaches a terminal status. It resumes whichever stage
// — a plain agent stage, or one branch of a parallel stage — was waiting on it.
func (e *Engine) OnAgentTerminal(ctx context.Context, agentID string, status models.AgentStatus) error {
	sr, err := e.reg.GetStageRunByAgentID(ctx, agentID)
	if err != nil {
		if err == registry.ErrStageRunNotFound {
			return nil // agent wasn't spawned by a pipeline stage
		}
		return fmt.Errorf("finding stage run for agent %s: %w", agentID, err)
	}
	if sr.Status != models.StageRunWaiting {
		return nil // already resumed
	}

	run, err := e.reg.GetPipelineRun(ctx, sr.RunID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", sr.RunID, err)
	}

	parentStageID := sr.StageID
	if sr.ParentStageID != "" {
		parentStageID = sr.ParentStageID
	}
	stage, ok := run.StageByID(parentStageID)
	if !ok {
		return fmt.Errorf("run %s: unknown stage %s", run.ID, parentStageID)
	}

	if status != models.AgentStatusCompleted {
		if sr.ParentStageID != "" {
			sr.Status = models.StageRunFailed
			sr.ErrorMessage = fmt.Sprintf("agent ended %s", status)
			if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
				return fmt.Errorf("failing branch stage run for agent %s: %w", agentID, err)
			}
			return e.tryJoinParallel(ctx, run, stage)
		}
		return e.handleStageFailure(ctx, run, stage, sr, fmt.Sprintf("agent ended %s", status))
	}

	sr.Status = models.StageRunCompleted
	if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
		return fmt.Errorf("completing stage run for agent %s: %w", agentID, err)
	}
	if sr.ParentStageID != "" {
		return e.tryJoinParallel(ctx, run, stage)
	}
	return e.advance(ctx, run, stage, "complete")
}
