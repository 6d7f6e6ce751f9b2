package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

// dispatchReactive runs every currently-RUNNING pipeline's on_events handlers
// against evt, per spec §4.7's reactive-event handling (a PR synchronize
// invalidating a stale approval, a label change cancelling a run, and so on).
func (e *Engine) dispatchReactive(ctx context.Context, evt models.Event) error {
	runs, err := e.reg.ListRunningPipelineRuns(ctx)
	if err != nil {
		return fmt.Errorf("listing running runs for reactive dispatch: %w", err)
	}

	for _, run := range runs {
		for _, handler := range run.Definition.OnEvents {
			if handler.Event != string(evt.Type) {
				continue
			}
			if !eventScopedToRun(run, evt) {
				continue
			}
			if err := e.applyReactive(ctx, run, handler, evt); err != nil {
				slog.Error("reactive handler failed", "run", run.ID, "pipeline", run.PipelineName,
					"action", handler.Action, "error", err)
			}
		}
	}
	return nil
}

func eventScopedToRun(run *models.PipelineRun, evt models.Event) bool {
	if run.PRID != nil && evt.PRID != nil {
		return *run.PRID == *evt.PRID
	}
	if run.IssueID != nil && evt.IssueID != nil {
		return *run.IssueID == *evt.IssueID
	}
	return true
}

func (e *Engine) applyReactive(ctx context.Context, run *models.PipelineRun, handler config.ReactiveHandler, evt models.Event) error {
	switch handler.Action {
	case config.ReactiveActionCancel:
		return e.cancelRun(ctx, run)
	case config.ReactiveActionReevaluateGates:
		return e.reevaluateWaitingGates(ctx, run, evt)
	case config.ReactiveActionInvalidateRestart:
		return e.invalidateAndRestart(ctx, run, handler)
	case config.ReactiveActionNotify:
		slog.Info("pipeline notify", "run", run.ID, "pipeline", run.PipelineName, "event", evt.Type)
		return nil
	default:
		return fmt.Errorf("unknown reactive action %q", handler.Action)
	}
}

func (e *Engine) cancelRun(ctx context.Context, run *models.PipelineRun) error {
	run.Status = models.PipelineRunCancelled
	now := time.Now()
	run.CompletedAt = &now
	if err := e.reg.UpdatePipelineRun(ctx, run); err != nil {
		return fmt.Errorf("cancelling run %s: %w", run.ID, err)
	}
	if run.ParentRunID != nil {
		return e.resumeParentAfterChild(ctx, run)
	}
	return nil
}

// reevaluateWaitingGates re-runs every WAITING gate stage whose checks
// declared themselves reactive to evt's type.
func (e *Engine) reevaluateWaitingGates(ctx context.Context, run *models.PipelineRun, evt models.Event) error {
	stageRuns, err := e.reg.ListStageRuns(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("listing stage runs for gate re-evaluation: %w", err)
	}

	for _, sr := range stageRuns {
		if sr.Status != models.StageRunWaiting {
			continue
		}
		stage, ok := run.StageByID(sr.StageID)
		if !ok || stage.Type != config.StageTypeGate {
			continue
		}
		if !anyCheckReactiveTo(e.gates, stage, string(evt.Type)) {
			continue
		}
		if err := e.executeGateStage(ctx, run, stage, sr); err != nil {
			return fmt.Errorf("re-evaluating gate stage %s: %w", stage.ID, err)
		}
	}
	return nil
}

type reactiveGateChecker interface {
	IsReactiveTo(checkType, eventType string) bool
}

func anyCheckReactiveTo(gates reactiveGateChecker, stage config.StageDefinition, eventType string) bool {
	for _, check := range stage.Checks {
		if gates.IsReactiveTo(check.Type, eventType) {
			return true
		}
	}
	return false
}

// invalidateAndRestart marks the stage runs named by handler.InvalidateIDs
// (e.g. a gate stage whose approval just went stale) CANCELLED in place,
// then rewinds run.CurrentStageID to handler.RestartFrom (or "current" /
// unset, meaning stay at the run's current stage) and redispatches from
// there — all within the same run id, so prior stage history and context
// stay attached to the one run a reviewer is looking at.
func (e *Engine) invalidateAndRestart(ctx context.Context, run *models.PipelineRun, handler config.ReactiveHandler) error {
	restartFrom := handler.RestartFrom
	if restartFrom == "" || restartFrom == "current" {
		restartFrom = run.CurrentStageID
	}
	if _, ok := run.StageByID(restartFrom); !ok {
		return fmt.Errorf("run %s: invalidate_and_restart target %q is not a known stage", run.ID, restartFrom)
	}

	stageRuns, err := e.reg.ListStageRuns(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("listing stage runs for invalidate on %s: %w", run.ID, err)
	}
	invalidate := make(map[string]bool, len(handler.InvalidateIDs))
	for _, id := range handler.InvalidateIDs {
		invalidate[id] = true
	}
	now := time.Now()
	for _, sr := range stageRuns {
		if !invalidate[sr.StageID] {
			continue
		}
		sr.Status = models.StageRunCancelled
		sr.CompletedAt = &now
		if err := e.reg.UpdateStageRun(ctx, sr); err != nil {
			return fmt.Errorf("cancelling stage run %s on invalidate: %w", sr.StageID, err)
		}
	}

	run.CurrentStageID = restartFrom
	if err := e.reg.UpdatePipelineRun(ctx, run); err != nil {
		return fmt.Errorf("rewinding run %s to %s: %w", run.ID, restartFrom, err)
	}
	slog.Info("pipeline invalidated and restarted", "run", run.ID, "pipeline", run.PipelineName,
		"from_stage", restartFrom, "invalidated", handler.InvalidateIDs)
	return e.dispatchStage(ctx, run, restartFrom)
}
