package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nbaertsch/squadron/pkg/models"
)

// SetReviewRequirement upserts the required approval count for (prID, role).
func (r *Registry) SetReviewRequirement(ctx context.Context, req *models.PRReviewRequirement) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pr_review_requirements (pr_number, role, required_count, pipeline_run_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (pr_number, role) DO UPDATE SET required_count = EXCLUDED.required_count`,
		req.PRID, req.Role, req.RequiredCount, nullString(req.PipelineRunID))
	if err != nil {
		return fmt.Errorf("setting review requirement for pr %d role %s: %w", req.PRID, req.Role, err)
	}
	return nil
}

// RecordPRApproval appends a new approval row. Approval history is never
// mutated in place; invalidation flips a stale flag instead.
func (r *Registry) RecordPRApproval(ctx context.Context, prID int64, role string, approved bool, reviewID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pr_approvals (pr_number, role, approved, review_id, stale)
		VALUES ($1,$2,$3,$4,false)`, prID, role, approved, nullString(reviewID))
	if err != nil {
		return fmt.Errorf("recording approval for pr %d role %s: %w", prID, role, err)
	}
	return nil
}

// InvalidatePRApprovals marks every current approval for prID stale, e.g. on
// pull_request.synchronize.
func (r *Registry) InvalidatePRApprovals(ctx context.Context, prID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE pr_approvals SET stale = true WHERE pr_number = $1 AND stale = false`, prID)
	if err != nil {
		return fmt.Errorf("invalidating approvals for pr %d: %w", prID, err)
	}
	return nil
}

// CheckPRMergeReady counts non-stale approvals per role against requirements
// and reports readiness plus a human-readable list of unmet roles.
func (r *Registry) CheckPRMergeReady(ctx context.Context, prID int64) (bool, []string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT req.role, req.required_count, COALESCE(cnt.approved_count, 0)
		FROM pr_review_requirements req
		LEFT JOIN (
			SELECT role, COUNT(*) AS approved_count
			FROM pr_approvals
			WHERE pr_number = $1 AND approved = true AND stale = false
			GROUP BY role
		) cnt ON cnt.role = req.role
		WHERE req.pr_number = $1`, prID)
	if err != nil {
		return false, nil, fmt.Errorf("checking merge readiness for pr %d: %w", prID, err)
	}
	defer rows.Close()

	ready := true
	var missing []string
	for rows.Next() {
		var role string
		var required, have int
		if err := rows.Scan(&role, &required, &have); err != nil {
			return false, nil, fmt.Errorf("scanning merge-readiness row: %w", err)
		}
		if have < required {
			ready = false
			missing = append(missing, fmt.Sprintf("%s: %d/%d", role, have, required))
		}
	}
	if err := rows.Err(); err != nil {
		return false, nil, err
	}
	return ready, missing, nil
}

// GetPRSequenceState loads the ordered-role sequencing state for a PR, if any.
func (r *Registry) GetPRSequenceState(ctx context.Context, prID int64) (*models.PRSequenceState, error) {
	var st models.PRSequenceState
	var pipelineRunID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT pr_number, current_role, sequence_index, pipeline_run_id
		FROM pr_sequence_state WHERE pr_number = $1`, prID).
		Scan(&st.PRID, &st.CurrentRole, &st.SequenceIndex, &pipelineRunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading pr sequence state for %d: %w", prID, err)
	}
	st.PipelineRunID = pipelineRunID.String
	return &st, nil
}

// AdvancePRSequence moves the ordered-role sequence for prID to the next
// role; it does not itself check that the current role's approval has landed.
// Callers supply the full ordered role list so the registry doesn't need
// pipeline config awareness.
func (r *Registry) AdvancePRSequence(ctx context.Context, prID int64, roles []string, pipelineRunID string) (string, bool, error) {
	st, err := r.GetPRSequenceState(ctx, prID)
	if err != nil {
		return "", false, err
	}

	next := 0
	if st != nil {
		next = st.SequenceIndex + 1
	}
	if next >= len(roles) {
		return "", false, nil
	}

	nextRole := roles[next]
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pr_sequence_state (pr_number, current_role, sequence_index, pipeline_run_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (pr_number) DO UPDATE SET
			current_role = EXCLUDED.current_role,
			sequence_index = EXCLUDED.sequence_index,
			pipeline_run_id = EXCLUDED.pipeline_run_id`,
		prID, nextRole, next, nullString(pipelineRunID))
	if err != nil {
		return "", false, fmt.Errorf("advancing pr sequence for %d: %w", prID, err)
	}

	return nextRole, true, nil
}
