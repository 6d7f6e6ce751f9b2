package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nbaertsch/squadron/pkg/models"
)

// Recover runs at process startup: every run still RUNNING survived an
// unclean shutdown. Stages already WAITING (on an agent, a gate, a human
// checkpoint, a delay, a sub-pipeline) stay waiting — the next relevant
// event or reconciliation sweep resumes them normally. A stage caught
// mid-RUNNING has no record of what its in-flight attempt did, so it is
// logged for manual inspection rather than blindly re-dispatched.
func (e *Engine) Recover(ctx context.Context) error {
	runs, err := e.reg.ListRunningPipelineRuns(ctx)
	if err != nil {
		return fmt.Errorf("listing running pipeline runs for recovery: %w", err)
	}

	for _, run := range runs {
		stageRuns, err := e.reg.ListStageRuns(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("listing stage runs for run %s: %w", run.ID, err)
		}
		for _, sr := range stageRuns {
			if sr.Status == models.StageRunRunning {
				slog.Warn("pipeline stage was RUNNING at restart, needs manual recovery",
					"run", run.ID, "pipeline", run.PipelineName, "stage", sr.StageID, "attempt", sr.AttemptNumber)
			}
		}
	}
	return nil
}
