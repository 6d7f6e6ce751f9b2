package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/nbaertsch/squadron/pkg/models"
)

// RecordGateCheck inserts one audit row per gate-stage condition evaluation,
// per spec §4.8.
func (r *Registry) RecordGateCheck(ctx context.Context, rec *models.GateCheckRecord) error {
	config, err := json.Marshal(rec.CheckConfig)
	if err != nil {
		return fmt.Errorf("marshalling gate check config: %w", err)
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshalling gate check result data: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pipeline_gate_checks (stage_run_id, check_type, check_config, passed, message, result_data)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.StageRunID, rec.CheckType, config, rec.Passed, nullString(rec.Message), data)
	if err != nil {
		return fmt.Errorf("recording gate check for stage run %d: %w", rec.StageRunID, err)
	}
	return nil
}

// UpsertHumanStageState records or updates the wait state for a human
// checkpoint stage.
func (r *Registry) UpsertHumanStageState(ctx context.Context, st *models.HumanStageState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pipeline_human_stage_state (stage_run_id, entry_notified_at, last_reminder_at, reminder_count, assigned_users, completed_by, completed_action)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (stage_run_id) DO UPDATE SET
			last_reminder_at = EXCLUDED.last_reminder_at,
			reminder_count = EXCLUDED.reminder_count,
			completed_by = EXCLUDED.completed_by,
			completed_action = EXCLUDED.completed_action`,
		st.StageRunID, st.EntryNotifiedAt, st.LastReminderAt, st.ReminderCount,
		pq.Array(st.AssignedUsers), nullString(st.CompletedBy), nullString(st.CompletedAction))
	if err != nil {
		return fmt.Errorf("upserting human stage state for stage run %d: %w", st.StageRunID, err)
	}
	return nil
}

// GetHumanStageState loads the wait state for a stage run, if any.
func (r *Registry) GetHumanStageState(ctx context.Context, stageRunID int64) (*models.HumanStageState, error) {
	var st models.HumanStageState
	var lastReminder sql.NullTime
	var completedBy, completedAction sql.NullString
	var users pq.StringArray
	err := r.db.QueryRowContext(ctx, `
		SELECT stage_run_id, entry_notified_at, last_reminder_at, reminder_count, assigned_users, completed_by, completed_action
		FROM pipeline_human_stage_state WHERE stage_run_id = $1`, stageRunID).
		Scan(&st.StageRunID, &st.EntryNotifiedAt, &lastReminder, &st.ReminderCount, &users, &completedBy, &completedAction)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading human stage state for %d: %w", stageRunID, err)
	}
	if lastReminder.Valid {
		st.LastReminderAt = &lastReminder.Time
	}
	st.AssignedUsers = []string(users)
	st.CompletedBy = completedBy.String
	st.CompletedAction = completedAction.String
	return &st, nil
}
