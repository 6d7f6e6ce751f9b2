package registry

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/squadron/pkg/models"
)

// newTestRegistry connects to SQUADRON_TEST_DATABASE_URL and applies
// pending migrations to that database, skipping the test when the variable is
// unset. Integration-tier tests (anything touching the store) opt in this
// way rather than spinning up a container, since CI here has no Docker
// daemon assumption.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	url := os.Getenv("SQUADRON_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SQUADRON_TEST_DATABASE_URL not set, skipping registry integration test")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, runMigrations(db, "squadron_test"))

	return FromDB(db)
}

func TestAgentCreateGetUpdateDelete(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	issue := int64(42)
	a := &models.Agent{
		ID:     "feat-dev-42",
		Role:   "feat-dev",
		Status: models.AgentStatusCreated,
		IssueID: &issue,
	}
	require.NoError(t, r.CreateAgent(ctx, a))
	t.Cleanup(func() { _ = r.DeleteAgent(ctx, a.ID) })

	got, err := r.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusCreated, got.Status)

	now := time.Now()
	got.Status = models.AgentStatusActive
	got.ActiveSince = &now
	require.NoError(t, r.UpdateAgent(ctx, got))

	reloaded, err := r.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusActive, reloaded.Status)
	require.NotNil(t, reloaded.ActiveSince)

	require.NoError(t, r.DeleteAgent(ctx, a.ID))
	_, err = r.GetAgent(ctx, a.ID)
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestAddBlockerRejectsCycle(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	issueA, issueB := int64(1), int64(2)
	agentA := &models.Agent{ID: "dev-a", Role: "feat-dev", Status: models.AgentStatusActive, IssueID: &issueA}
	agentB := &models.Agent{ID: "dev-b", Role: "feat-dev", Status: models.AgentStatusActive, IssueID: &issueB}
	require.NoError(t, r.CreateAgent(ctx, agentA))
	require.NoError(t, r.CreateAgent(ctx, agentB))
	t.Cleanup(func() {
		_ = r.RemoveBlocker(ctx, agentA.ID, issueB)
		_ = r.RemoveBlocker(ctx, agentB.ID, issueA)
		_ = r.DeleteAgent(ctx, agentA.ID)
		_ = r.DeleteAgent(ctx, agentB.ID)
	})

	require.NoError(t, r.AddBlocker(ctx, agentA.ID, issueB))
	err := r.AddBlocker(ctx, agentB.ID, issueA)
	require.ErrorIs(t, err, ErrBlockerCycle)
}

func TestApprovalInvalidation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	prID := int64(10)
	require.NoError(t, r.SetReviewRequirement(ctx, &models.PRReviewRequirement{PRID: prID, Role: "pr-review", RequiredCount: 1}))
	require.NoError(t, r.RecordPRApproval(ctx, prID, "pr-review", true, "rev-1"))

	ready, missing, err := r.CheckPRMergeReady(ctx, prID)
	require.NoError(t, err)
	require.True(t, ready)
	require.Empty(t, missing)

	require.NoError(t, r.InvalidatePRApprovals(ctx, prID))

	ready, missing, err = r.CheckPRMergeReady(ctx, prID)
	require.NoError(t, err)
	require.False(t, ready)
	require.Contains(t, missing, "pr-review: 0/1")
}

func TestMarkDeliverySeenIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.MarkDeliverySeen(ctx, "d-100")
	require.NoError(t, err)
	require.True(t, first)

	second, err := r.MarkDeliverySeen(ctx, "d-100")
	require.NoError(t, err)
	require.False(t, second)

	seen, err := r.IsDeliverySeen(ctx, "d-100")
	require.NoError(t, err)
	require.True(t, seen)
}
