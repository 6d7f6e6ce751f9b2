package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nbaertsch/squadron/pkg/models"
)

// CreateAgent inserts a new agent row. The caller (Lifecycle Manager) is
// responsible for first deleting any stale terminal row sharing the id —
// createAgent itself never overwrites an existing row.
func (r *Registry) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, role, issue_number, pr_number, session_id, status,
			branch, worktree_path, active_since, sleeping_since, blocked_by,
			tool_call_count, turn_count, iteration_count, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		a.ID, a.Role, a.IssueID, a.PRID, nullString(a.SessionID), string(a.Status),
		nullString(a.Branch), nullString(a.WorktreePath), a.ActiveSince, a.SleepingSince,
		pq.Array(a.BlockedBy), a.ToolCallCount, a.TurnCount, a.IterationCount, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("inserting agent %s: %w", a.ID, err)
	}
	return nil
}

// GetAgent looks up an agent by id.
func (r *Registry) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT agent_id, role, issue_number, pr_number, session_id, status,
			branch, worktree_path, active_since, sleeping_since, blocked_by,
			tool_call_count, turn_count, iteration_count, updated_at
		FROM agents WHERE agent_id = $1`, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent %s: %w", agentID, err)
	}
	return a, nil
}

// FindActiveByRoleIssue returns the non-terminal agent for (role, issueID), if any.
func (r *Registry) FindActiveByRoleIssue(ctx context.Context, role string, issueID int64) (*models.Agent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT agent_id, role, issue_number, pr_number, session_id, status,
			branch, worktree_path, active_since, sleeping_since, blocked_by,
			tool_call_count, turn_count, iteration_count, updated_at
		FROM agents
		WHERE role = $1 AND issue_number = $2
			AND status NOT IN ('COMPLETED','ESCALATED','FAILED')
		LIMIT 1`, role, issueID)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding active agent for role %s issue %d: %w", role, issueID, err)
	}
	return a, nil
}

// FindNonTerminalSingleton returns the non-terminal agent for a singleton role, if any.
func (r *Registry) FindNonTerminalSingleton(ctx context.Context, role string) (*models.Agent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT agent_id, role, issue_number, pr_number, session_id, status,
			branch, worktree_path, active_since, sleeping_since, blocked_by,
			tool_call_count, turn_count, iteration_count, updated_at
		FROM agents
		WHERE role = $1 AND status NOT IN ('COMPLETED','ESCALATED','FAILED')
		LIMIT 1`, role)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding singleton agent for role %s: %w", role, err)
	}
	return a, nil
}

// UpdateAgent persists all mutable fields of a in one atomic statement.
func (r *Registry) UpdateAgent(ctx context.Context, a *models.Agent) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE agents SET
			status = $2, session_id = $3, branch = $4, worktree_path = $5,
			active_since = $6, sleeping_since = $7, blocked_by = $8,
			tool_call_count = $9, turn_count = $10, iteration_count = $11,
			pr_number = $12, updated_at = $13
		WHERE agent_id = $1`,
		a.ID, string(a.Status), nullString(a.SessionID), nullString(a.Branch), nullString(a.WorktreePath),
		a.ActiveSince, a.SleepingSince, pq.Array(a.BlockedBy),
		a.ToolCallCount, a.TurnCount, a.IterationCount, a.PRID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", a.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// DeleteAgent removes a terminal agent row so a fresh one may be created with
// the same id. Callers are expected to have already confirmed terminality.
func (r *Registry) DeleteAgent(ctx context.Context, agentID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM agent_blockers WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("deleting blockers for agent %s: %w", agentID, err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("deleting agent %s: %w", agentID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// AddBlocker registers that agentID is blocked on issueID. Rejects additions
// that would introduce a cycle in the blocks-on graph (agent -> issue ->
// issue's owning agent -> ...), per spec testable property 5.
func (r *Registry) AddBlocker(ctx context.Context, agentID string, issueID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting add-blocker transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if wouldCycle, err := blockerWouldCycle(ctx, tx, agentID, issueID); err != nil {
		return err
	} else if wouldCycle {
		return ErrBlockerCycle
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_blockers (agent_id, issue_number) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, agentID, issueID); err != nil {
		return fmt.Errorf("inserting blocker: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET blocked_by = array_append(
			array_remove(blocked_by, $2::bigint), $2::bigint), updated_at = now()
		WHERE agent_id = $1`, agentID, issueID); err != nil {
		return fmt.Errorf("syncing blocked_by for agent %s: %w", agentID, err)
	}

	return tx.Commit()
}

// blockerWouldCycle walks the blocks-on graph starting at the agent that owns
// issueID, following each hop's own blockers back through their owning
// agents, and reports whether agentID is reachable.
func blockerWouldCycle(ctx context.Context, tx *sql.Tx, agentID string, issueID int64) (bool, error) {
	visited := map[int64]bool{}
	frontier := []int64{issueID}

	for len(frontier) > 0 {
		issue := frontier[0]
		frontier = frontier[1:]
		if visited[issue] {
			continue
		}
		visited[issue] = true

		var ownerID string
		err := tx.QueryRowContext(ctx, `SELECT agent_id FROM agents WHERE issue_number = $1 LIMIT 1`, issue).Scan(&ownerID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("resolving owner of issue %d: %w", issue, err)
		}
		if ownerID == agentID {
			return true, nil
		}

		rows, err := tx.QueryContext(ctx, `SELECT issue_number FROM agent_blockers WHERE agent_id = $1`, ownerID)
		if err != nil {
			return false, fmt.Errorf("walking blockers of %s: %w", ownerID, err)
		}
		for rows.Next() {
			var next int64
			if err := rows.Scan(&next); err != nil {
				_ = rows.Close()
				return false, fmt.Errorf("scanning blocker row: %w", err)
			}
			frontier = append(frontier, next)
		}
		_ = rows.Close()
	}

	return false, nil
}

// RemoveBlocker clears agentID's wait on issueID.
func (r *Registry) RemoveBlocker(ctx context.Context, agentID string, issueID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting remove-blocker transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_blockers WHERE agent_id = $1 AND issue_number = $2`, agentID, issueID); err != nil {
		return fmt.Errorf("removing blocker row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET blocked_by = array_remove(blocked_by, $2::bigint), updated_at = now()
		WHERE agent_id = $1`, agentID, issueID); err != nil {
		return fmt.Errorf("syncing blocked_by for agent %s: %w", agentID, err)
	}

	return tx.Commit()
}

// GetAgentsBlockedBy returns every agent currently waiting on issueID.
func (r *Registry) GetAgentsBlockedBy(ctx context.Context, issueID int64) ([]*models.Agent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.agent_id, a.role, a.issue_number, a.pr_number, a.session_id, a.status,
			a.branch, a.worktree_path, a.active_since, a.sleeping_since, a.blocked_by,
			a.tool_call_count, a.turn_count, a.iteration_count, a.updated_at
		FROM agents a
		JOIN agent_blockers b ON b.agent_id = a.agent_id
		WHERE b.issue_number = $1`, issueID)
	if err != nil {
		return nil, fmt.Errorf("querying agents blocked by issue %d: %w", issueID, err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning blocked agent row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListNonTerminalAgents returns every agent in ACTIVE or SLEEPING status, for
// the reconciliation loop's platform-state sweep and watchdog-miss check.
func (r *Registry) ListNonTerminalAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id, role, issue_number, pr_number, session_id, status,
			branch, worktree_path, active_since, sleeping_since, blocked_by,
			tool_call_count, turn_count, iteration_count, updated_at
		FROM agents
		WHERE status IN ('ACTIVE','SLEEPING')`)
	if err != nil {
		return nil, fmt.Errorf("listing non-terminal agents: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning non-terminal agent row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var status string
	var sessionID, branch, worktreePath sql.NullString
	var issueID, prID sql.NullInt64
	var activeSince, sleepingSince sql.NullTime
	var blockedBy pq.Int64Array

	if err := row.Scan(&a.ID, &a.Role, &issueID, &prID, &sessionID, &status,
		&branch, &worktreePath, &activeSince, &sleepingSince, &blockedBy,
		&a.ToolCallCount, &a.TurnCount, &a.IterationCount, &a.UpdatedAt); err != nil {
		return nil, err
	}

	a.Status = models.AgentStatus(status)
	a.SessionID = sessionID.String
	a.Branch = branch.String
	a.WorktreePath = worktreePath.String
	if issueID.Valid {
		a.IssueID = &issueID.Int64
	}
	if prID.Valid {
		a.PRID = &prID.Int64
	}
	if activeSince.Valid {
		a.ActiveSince = &activeSince.Time
	}
	if sleepingSince.Valid {
		a.SleepingSince = &sleepingSince.Time
	}
	a.BlockedBy = []int64(blockedBy)
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
