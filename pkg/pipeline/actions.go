package pipeline

import (
	"context"
	"fmt"

	"github.com/nbaertsch/squadron/pkg/collaborators"
	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

// BuiltinActions returns the action-stage callbacks every pipeline
// definition can name as action_name out of the box: merge_pr,
// comment_on_issue, delete_branch. A caller wiring an engine is free to
// add more entries to the map New returns its input unmodified from.
func BuiltinActions(platform collaborators.PlatformAPI) map[string]ActionFunc {
	return map[string]ActionFunc{
		"merge_pr":        mergePRAction(platform),
		"comment_on_issue": commentOnIssueAction(platform),
		"delete_branch":   deleteBranchAction(platform),
	}
}

// mergePRAction merges run.PRID, reporting a conflict result (rather than
// an error) on an unmergeable PR so stage.OnConflict can route around it.
func mergePRAction(platform collaborators.PlatformAPI) ActionFunc {
	return func(ctx context.Context, stage config.StageDefinition, run *models.PipelineRun) (ActionResult, error) {
		if run.PRID == nil {
			return ActionResult{}, fmt.Errorf("merge_pr: run carries no pr id")
		}
		if err := platform.MergePR(ctx, *run.PRID); err != nil {
			return ActionResult{Conflict: true, Error: err.Error()}, nil
		}
		return ActionResult{Success: true, Data: map[string]any{"pr_number": *run.PRID}}, nil
	}
}

// commentOnIssueAction posts action_args["message"] to the run's issue (or
// PR, if the run carries no issue id).
func commentOnIssueAction(platform collaborators.PlatformAPI) ActionFunc {
	return func(ctx context.Context, stage config.StageDefinition, run *models.PipelineRun) (ActionResult, error) {
		target := run.IssueID
		if target == nil {
			target = run.PRID
		}
		if target == nil {
			return ActionResult{}, fmt.Errorf("comment_on_issue: run carries no issue or pr id")
		}
		message, _ := stage.ActionArgs["message"].(string)
		if message == "" {
			return ActionResult{}, fmt.Errorf("comment_on_issue: missing action_args.message")
		}
		comment, err := platform.CreateComment(ctx, *target, message)
		if err != nil {
			return ActionResult{}, fmt.Errorf("posting comment: %w", err)
		}
		return ActionResult{Success: true, Data: map[string]any{"comment_id": comment.ID}}, nil
	}
}

// deleteBranchAction removes the branch named by action_args["branch"], or
// run.Context["branch"] when the stage doesn't override it.
func deleteBranchAction(platform collaborators.PlatformAPI) ActionFunc {
	return func(ctx context.Context, stage config.StageDefinition, run *models.PipelineRun) (ActionResult, error) {
		branch, _ := stage.ActionArgs["branch"].(string)
		if branch == "" {
			branch, _ = run.Context["branch"].(string)
		}
		if branch == "" {
			return ActionResult{}, fmt.Errorf("delete_branch: no branch in action_args or run context")
		}
		if err := platform.DeleteBranch(ctx, branch); err != nil {
			return ActionResult{}, fmt.Errorf("deleting branch %s: %w", branch, err)
		}
		return ActionResult{Success: true, Data: map[string]any{"branch": branch}}, nil
	}
}
