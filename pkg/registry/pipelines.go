package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

// CreatePipelineRun inserts a new run with its immutable definition snapshot.
func (r *Registry) CreatePipelineRun(ctx context.Context, run *models.PipelineRun) error {
	def, err := json.Marshal(run.Definition)
	if err != nil {
		return fmt.Errorf("marshalling pipeline definition snapshot: %w", err)
	}
	ctxJSON, err := run.ContextJSON()
	if err != nil {
		return fmt.Errorf("marshalling pipeline run context: %w", err)
	}
	iterJSON, err := json.Marshal(run.IterationCounts)
	if err != nil {
		return fmt.Errorf("marshalling iteration counts: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (run_id, pipeline_name, definition_snapshot, trigger_event,
			trigger_delivery_id, issue_number, pr_number, scope, parent_run_id, parent_stage_id,
			nesting_depth, status, current_stage_id, context, iteration_counts, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		run.ID, run.PipelineName, def, run.TriggerEvent, run.TriggerDeliveryID,
		run.IssueID, run.PRID, string(run.Scope), run.ParentRunID, run.ParentStageID,
		run.NestingDepth, string(run.Status), run.CurrentStageID, ctxJSON, iterJSON, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("inserting pipeline run %s: %w", run.ID, err)
	}
	return nil
}

// GetPipelineRun loads a run by id.
func (r *Registry) GetPipelineRun(ctx context.Context, runID string) (*models.PipelineRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, pipeline_name, definition_snapshot, trigger_event, trigger_delivery_id,
			issue_number, pr_number, scope, parent_run_id, parent_stage_id, nesting_depth,
			status, current_stage_id, context, iteration_counts, created_at, started_at,
			completed_at, error_message, error_stage_id
		FROM pipeline_runs WHERE run_id = $1`, runID)
	run, err := scanPipelineRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPipelineRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning pipeline run %s: %w", runID, err)
	}
	return run, nil
}

// FindRunningByPR returns a RUNNING run for pipelineName scoped to prID, used
// for single-pr duplicate-trigger suppression.
func (r *Registry) FindRunningByPR(ctx context.Context, pipelineName string, prID int64) (*models.PipelineRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT run_id, pipeline_name, definition_snapshot, trigger_event, trigger_delivery_id,
			issue_number, pr_number, scope, parent_run_id, parent_stage_id, nesting_depth,
			status, current_stage_id, context, iteration_counts, created_at, started_at,
			completed_at, error_message, error_stage_id
		FROM pipeline_runs
		WHERE pipeline_name = $1 AND pr_number = $2 AND status = 'RUNNING'
		LIMIT 1`, pipelineName, prID)
	run, err := scanPipelineRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPipelineRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding running run for pipeline %s pr %d: %w", pipelineName, prID, err)
	}
	return run, nil
}

// ListRunningPipelineRuns supports startup recovery: all runs still in RUNNING.
func (r *Registry) ListRunningPipelineRuns(ctx context.Context) ([]*models.PipelineRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, pipeline_name, definition_snapshot, trigger_event, trigger_delivery_id,
			issue_number, pr_number, scope, parent_run_id, parent_stage_id, nesting_depth,
			status, current_stage_id, context, iteration_counts, created_at, started_at,
			completed_at, error_message, error_stage_id
		FROM pipeline_runs WHERE status = 'RUNNING'`)
	if err != nil {
		return nil, fmt.Errorf("listing running pipeline runs: %w", err)
	}
	defer rows.Close()

	var out []*models.PipelineRun
	for rows.Next() {
		run, err := scanPipelineRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning running pipeline run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdatePipelineRun persists status, current stage, context, iteration
// counts, and terminal fields atomically.
func (r *Registry) UpdatePipelineRun(ctx context.Context, run *models.PipelineRun) error {
	ctxJSON, err := run.ContextJSON()
	if err != nil {
		return fmt.Errorf("marshalling pipeline run context: %w", err)
	}
	iterJSON, err := json.Marshal(run.IterationCounts)
	if err != nil {
		return fmt.Errorf("marshalling iteration counts: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET
			status = $2, current_stage_id = $3, context = $4, iteration_counts = $5,
			started_at = $6, completed_at = $7, error_message = $8, error_stage_id = $9
		WHERE run_id = $1`,
		run.ID, string(run.Status), run.CurrentStageID, ctxJSON, iterJSON,
		run.StartedAt, run.CompletedAt, nullString(run.ErrorMessage), nullString(run.ErrorStageID),
	)
	if err != nil {
		return fmt.Errorf("updating pipeline run %s: %w", run.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrPipelineRunNotFound
	}
	return nil
}

// CreateStageRun inserts a new attempt row for a stage.
func (r *Registry) CreateStageRun(ctx context.Context, sr *models.StageRun) (int64, error) {
	outputs, err := json.Marshal(sr.Outputs)
	if err != nil {
		return 0, fmt.Errorf("marshalling stage run outputs: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO pipeline_stage_runs (run_id, stage_id, status, agent_id, branch_id,
			parent_stage_id, child_pipeline_run_id, outputs, error_message, attempt_number,
			max_attempts, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		sr.RunID, sr.StageID, string(sr.Status), nullString(sr.AgentID), nullString(sr.BranchID),
		nullString(sr.ParentStageID), nullString(sr.ChildPipelineRunID), outputs,
		nullString(sr.ErrorMessage), sr.AttemptNumber, sr.MaxAttempts, sr.StartedAt, sr.CompletedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting stage run for %s/%s: %w", sr.RunID, sr.StageID, err)
	}
	return id, nil
}

// UpdateStageRun persists status, outputs, agent/branch linkage, and
// terminal fields for an existing stage run attempt.
func (r *Registry) UpdateStageRun(ctx context.Context, sr *models.StageRun) error {
	outputs, err := json.Marshal(sr.Outputs)
	if err != nil {
		return fmt.Errorf("marshalling stage run outputs: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_stage_runs SET
			status = $2, agent_id = $3, branch_id = $4, child_pipeline_run_id = $5,
			outputs = $6, error_message = $7, started_at = $8, completed_at = $9
		WHERE id = $1`,
		sr.ID, string(sr.Status), nullString(sr.AgentID), nullString(sr.BranchID),
		nullString(sr.ChildPipelineRunID), outputs, nullString(sr.ErrorMessage),
		sr.StartedAt, sr.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("updating stage run %d: %w", sr.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrStageRunNotFound
	}
	return nil
}

// ListStageRuns returns every attempt recorded for a run, in id order.
func (r *Registry) ListStageRuns(ctx context.Context, runID string) ([]*models.StageRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, stage_id, status, agent_id, branch_id, parent_stage_id,
			child_pipeline_run_id, outputs, error_message, attempt_number, max_attempts,
			started_at, completed_at
		FROM pipeline_stage_runs WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing stage runs for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []*models.StageRun
	for rows.Next() {
		sr, err := scanStageRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stage run: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// GetStageRunByAgentID finds the stage run that spawned agentID, used to
// resume a pipeline when that agent reaches a terminal status.
func (r *Registry) GetStageRunByAgentID(ctx context.Context, agentID string) (*models.StageRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, stage_id, status, agent_id, branch_id, parent_stage_id,
			child_pipeline_run_id, outputs, error_message, attempt_number, max_attempts,
			started_at, completed_at
		FROM pipeline_stage_runs WHERE agent_id = $1 ORDER BY id DESC LIMIT 1`, agentID)
	sr, err := scanStageRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStageRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding stage run for agent %s: %w", agentID, err)
	}
	return sr, nil
}

// GetStageRunByChildRun finds the stage run awaiting a sub-pipeline run.
func (r *Registry) GetStageRunByChildRun(ctx context.Context, childRunID string) (*models.StageRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, stage_id, status, agent_id, branch_id, parent_stage_id,
			child_pipeline_run_id, outputs, error_message, attempt_number, max_attempts,
			started_at, completed_at
		FROM pipeline_stage_runs WHERE child_pipeline_run_id = $1 ORDER BY id DESC LIMIT 1`, childRunID)
	sr, err := scanStageRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStageRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding stage run for child run %s: %w", childRunID, err)
	}
	return sr, nil
}

func scanPipelineRun(row rowScanner) (*models.PipelineRun, error) {
	var run models.PipelineRun
	var defJSON, ctxJSON, iterJSON []byte
	var scope, status string
	var issueID, prID sql.NullInt64
	var parentRunID, parentStageID, errMsg, errStage sql.NullString
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&run.ID, &run.PipelineName, &defJSON, &run.TriggerEvent, &run.TriggerDeliveryID,
		&issueID, &prID, &scope, &parentRunID, &parentStageID, &run.NestingDepth,
		&status, &run.CurrentStageID, &ctxJSON, &iterJSON, &run.CreatedAt, &startedAt,
		&completedAt, &errMsg, &errStage); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(defJSON, &run.Definition); err != nil {
		return nil, fmt.Errorf("unmarshalling definition snapshot: %w", err)
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &run.Context); err != nil {
			return nil, fmt.Errorf("unmarshalling run context: %w", err)
		}
	}
	if len(iterJSON) > 0 {
		if err := json.Unmarshal(iterJSON, &run.IterationCounts); err != nil {
			return nil, fmt.Errorf("unmarshalling iteration counts: %w", err)
		}
	}

	run.Scope = config.PipelineScope(scope)
	run.Status = models.PipelineRunStatus(status)
	if issueID.Valid {
		run.IssueID = &issueID.Int64
	}
	if prID.Valid {
		run.PRID = &prID.Int64
	}
	if parentRunID.Valid {
		run.ParentRunID = &parentRunID.String
	}
	if parentStageID.Valid {
		run.ParentStageID = &parentStageID.String
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.ErrorMessage = errMsg.String
	run.ErrorStageID = errStage.String

	return &run, nil
}

func scanStageRun(row rowScanner) (*models.StageRun, error) {
	var sr models.StageRun
	var status string
	var agentID, branchID, parentStageID, childRunID, errMsg sql.NullString
	var outputs []byte
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&sr.ID, &sr.RunID, &sr.StageID, &status, &agentID, &branchID,
		&parentStageID, &childRunID, &outputs, &errMsg, &sr.AttemptNumber, &sr.MaxAttempts,
		&startedAt, &completedAt); err != nil {
		return nil, err
	}

	sr.Status = models.StageRunStatus(status)
	sr.AgentID = agentID.String
	sr.BranchID = branchID.String
	sr.ParentStageID = parentStageID.String
	sr.ChildPipelineRunID = childRunID.String
	sr.ErrorMessage = errMsg.String
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &sr.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshalling stage run outputs: %w", err)
		}
	}
	if startedAt.Valid {
		sr.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		sr.CompletedAt = &completedAt.Time
	}
	return &sr, nil
}
