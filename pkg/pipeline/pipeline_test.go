package pipeline

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/gatecheck"
	"github.com/nbaertsch/squadron/pkg/models"
	"github.com/nbaertsch/squadron/pkg/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	url := os.Getenv("SQUADRON_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SQUADRON_TEST_DATABASE_URL not set, skipping pipeline integration test")
	}
	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, registry.RunMigrationsForTest(db, "squadron_test"))
	return registry.FromDB(db)
}

type fakeSpawner struct {
	spawned []string
	agent   *models.Agent
	err     error
}

func (f *fakeSpawner) SpawnWorkflowAgent(ctx context.Context, role string, issueID, prID int64, runID, stageID, action string) (*models.Agent, error) {
	f.spawned = append(f.spawned, role)
	if f.err != nil {
		return nil, f.err
	}
	id := runID + "/" + stageID
	return &models.Agent{ID: id, Role: role, Status: models.AgentStatusActive}, nil
}

func singleActionPipeline(name, actionName string) *config.PipelineDefinition {
	return &config.PipelineDefinition{
		Name:    name,
		Trigger: config.TriggerMatch{Event: string(models.EventIssueOpened)},
		Stages: []config.StageDefinition{
			{ID: "only", Type: config.StageTypeAction, ActionName: actionName},
		},
	}
}

func newTestEngine(t *testing.T, reg *registry.Registry, defs map[string]*config.PipelineDefinition, actions map[string]ActionFunc, agents AgentSpawner) *Engine {
	cfg := config.NewForTest("", config.ProjectConfig{}, config.RuntimeConfig{}, config.BranchNamingConfig{}, config.CircuitBreakerConfig{}, config.NewAgentRoleRegistry(nil))
	cfg.Pipelines = config.NewPipelineRegistry(defs)
	return New(cfg, reg, gatecheck.NewRegistry(), agents, actions)
}

func TestHandleEvent_StartsMatchingPipeline(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	ran := false
	actions := map[string]ActionFunc{
		"noop": func(ctx context.Context, stage config.StageDefinition, run *models.PipelineRun) (ActionResult, error) {
			ran = true
			return ActionResult{Success: true}, nil
		},
	}
	def := singleActionPipeline("on-open", "noop")
	e := newTestEngine(t, reg, map[string]*config.PipelineDefinition{def.Name: def}, actions, &fakeSpawner{})

	issue := int64(7)
	evt := models.Event{Type: models.EventIssueOpened, DeliveryID: "d1", IssueID: &issue}
	require.NoError(t, e.HandleEvent(ctx, evt))
	require.True(t, ran)
}

func TestGateStage_FailsClosedUntilReactiveTrigger(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	checkPassed := false
	gates := gatecheck.NewRegistry()
	gates.Register("manual", []string{string(models.EventPRReviewSubmitted)},
		func(ctx context.Context, cfg, runCtx map[string]any) (gatecheck.Result, error) {
			return gatecheck.Result{Passed: checkPassed}, nil
		})

	def := &config.PipelineDefinition{
		Name:    "gated",
		Trigger: config.TriggerMatch{Event: string(models.EventPROpened)},
		Stages: []config.StageDefinition{
			{ID: "wait-for-approval", Type: config.StageTypeGate, Checks: []config.GateCheckConfig{{Type: "manual"}}},
		},
		OnEvents: []config.ReactiveHandler{
			{Event: string(models.EventPRReviewSubmitted), Action: config.ReactiveActionReevaluateGates},
		},
	}

	cfg := config.NewForTest("", config.ProjectConfig{}, config.RuntimeConfig{}, config.BranchNamingConfig{}, config.CircuitBreakerConfig{}, config.NewAgentRoleRegistry(nil))
	cfg.Pipelines = config.NewPipelineRegistry(map[string]*config.PipelineDefinition{def.Name: def})
	e := New(cfg, reg, gates, &fakeSpawner{}, nil)

	pr := int64(100)
	require.NoError(t, e.HandleEvent(ctx, models.Event{Type: models.EventPROpened, DeliveryID: "pr1", PRID: &pr}))

	run, err := reg.FindRunningByPR(ctx, def.Name, pr)
	require.NoError(t, err)
	require.Equal(t, "wait-for-approval", run.CurrentStageID)

	checkPassed = true
	require.NoError(t, e.HandleEvent(ctx, models.Event{Type: models.EventPRReviewSubmitted, DeliveryID: "rev1", PRID: &pr}))

	run, err = reg.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, models.PipelineRunCompleted, run.Status)
}

func TestSinglePRScope_SuppressesDuplicateTrigger(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	spawner := &fakeSpawner{}
	def := &config.PipelineDefinition{
		Name:    "pr-flow",
		Trigger: config.TriggerMatch{Event: string(models.EventPROpened)},
		Scope:   config.PipelineScopeSinglePR,
		Stages: []config.StageDefinition{
			{ID: "review", Type: config.StageTypeAgent, Role: "reviewer"},
		},
	}
	e := newTestEngine(t, reg, map[string]*config.PipelineDefinition{def.Name: def}, nil, spawner)

	pr := int64(55)
	evt := models.Event{Type: models.EventPROpened, DeliveryID: "a", PRID: &pr}
	require.NoError(t, e.HandleEvent(ctx, evt))
	evt.DeliveryID = "b"
	require.NoError(t, e.HandleEvent(ctx, evt))

	require.Len(t, spawner.spawned, 1)
}

func TestTryJoinParallel_UnsetOnAnyRejectAdvancesDespiteFailure(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	nextRan := false
	actions := map[string]ActionFunc{
		"next": func(ctx context.Context, stage config.StageDefinition, run *models.PipelineRun) (ActionResult, error) {
			nextRan = true
			return ActionResult{Success: true}, nil
		},
	}
	def := &config.PipelineDefinition{
		Name:    "fan-out",
		Trigger: config.TriggerMatch{Event: string(models.EventIssueOpened)},
		Stages: []config.StageDefinition{
			{
				ID:   "fan",
				Type: config.StageTypeParallel,
				Branches: []config.ParallelBranch{
					{ID: "a", Stage: config.StageDefinition{ID: "branch-a", Type: config.StageTypeAgent, Role: "worker-a"}},
					{ID: "b", Stage: config.StageDefinition{ID: "branch-b", Type: config.StageTypeAgent, Role: "worker-b"}},
				},
				Transitions: &config.StageTransitions{OnComplete: "after"},
			},
			{ID: "after", Type: config.StageTypeAction, ActionName: "next"},
		},
	}
	spawner := &fakeSpawner{}
	e := newTestEngine(t, reg, map[string]*config.PipelineDefinition{def.Name: def}, actions, spawner)

	issue := int64(900)
	require.NoError(t, e.HandleEvent(ctx, models.Event{Type: models.EventIssueOpened, DeliveryID: "fan1", IssueID: &issue}))

	runs, err := reg.ListRunningPipelineRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]

	stageRuns, err := reg.ListStageRuns(ctx, run.ID)
	require.NoError(t, err)
	var branchA, branchB *models.StageRun
	for _, sr := range stageRuns {
		switch sr.StageID {
		case "fan:a":
			branchA = sr
		case "fan:b":
			branchB = sr
		}
	}
	require.NotNil(t, branchA)
	require.NotNil(t, branchB)

	// branch a fails, branch b completes; on_any_reject is unset so the
	// parallel stage still joins as "complete" instead of failing the run.
	require.NoError(t, e.OnAgentTerminal(ctx, branchA.AgentID, models.AgentStatusFailed))
	require.NoError(t, e.OnAgentTerminal(ctx, branchB.AgentID, models.AgentStatusCompleted))

	run, err = reg.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, models.PipelineRunCompleted, run.Status)
	require.True(t, nextRan)
}

func TestInvalidateAndRestart_CancelsNamedStageAndRewindsSameRun(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	reviewCalls := 0
	actions := map[string]ActionFunc{
		"review": func(ctx context.Context, stage config.StageDefinition, run *models.PipelineRun) (ActionResult, error) {
			reviewCalls++
			return ActionResult{Success: true}, nil
		},
	}
	gates := gatecheck.NewRegistry()
	gates.Register("manual", []string{string(models.EventPRReviewSubmitted)},
		func(ctx context.Context, cfg, runCtx map[string]any) (gatecheck.Result, error) {
			return gatecheck.Result{Passed: false}, nil
		})

	def := &config.PipelineDefinition{
		Name:    "restart-flow",
		Trigger: config.TriggerMatch{Event: string(models.EventIssueOpened)},
		Stages: []config.StageDefinition{
			{ID: "review", Type: config.StageTypeAction, ActionName: "review", Transitions: &config.StageTransitions{OnComplete: "merge"}},
			{ID: "merge", Type: config.StageTypeGate, Checks: []config.GateCheckConfig{{Type: "manual"}}},
		},
		OnEvents: []config.ReactiveHandler{
			{Event: string(models.EventPRSynchronize), Action: config.ReactiveActionInvalidateRestart,
				InvalidateIDs: []string{"review"}, RestartFrom: "review"},
		},
	}

	cfg := config.NewForTest("", config.ProjectConfig{}, config.RuntimeConfig{}, config.BranchNamingConfig{}, config.CircuitBreakerConfig{}, config.NewAgentRoleRegistry(nil))
	cfg.Pipelines = config.NewPipelineRegistry(map[string]*config.PipelineDefinition{def.Name: def})
	e := New(cfg, reg, gates, &fakeSpawner{}, actions)

	issue := int64(901)
	require.NoError(t, e.HandleEvent(ctx, models.Event{Type: models.EventIssueOpened, DeliveryID: "r1", IssueID: &issue}))
	require.Equal(t, 1, reviewCalls)

	runs, err := reg.ListRunningPipelineRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	originalRunID := runs[0].ID
	require.Equal(t, "merge", runs[0].CurrentStageID)

	require.NoError(t, e.HandleEvent(ctx, models.Event{Type: models.EventPRSynchronize, DeliveryID: "r2", IssueID: &issue}))

	run, err := reg.GetPipelineRun(ctx, originalRunID)
	require.NoError(t, err)
	require.Equal(t, originalRunID, run.ID, "restart must rewind the same run, not create a new one")
	require.Equal(t, models.PipelineRunRunning, run.Status)
	// The redispatched review action completes synchronously and advances the
	// run back to the merge gate, which is waiting again.
	require.Equal(t, "merge", run.CurrentStageID)
	require.Equal(t, 2, reviewCalls, "restart must redispatch the review stage")

	stageRuns, err := reg.ListStageRuns(ctx, originalRunID)
	require.NoError(t, err)
	var cancelled, completed int
	for _, sr := range stageRuns {
		if sr.StageID != "review" {
			continue
		}
		switch sr.Status {
		case models.StageRunCancelled:
			cancelled++
		case models.StageRunCompleted:
			completed++
		}
	}
	require.Equal(t, 1, cancelled, "the prior review stage run must be cancelled in place")
	require.Equal(t, 1, completed, "a fresh review stage run must be dispatched and complete")
}

func TestNestingDepth_CapEnforced(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	e := newTestEngine(t, reg, nil, nil, &fakeSpawner{})

	def := &config.PipelineDefinition{
		Name:    "deep",
		Trigger: config.TriggerMatch{Event: string(models.EventIssueOpened)},
		Stages:  []config.StageDefinition{{ID: "s", Type: config.StageTypeAction, ActionName: "noop"}},
	}
	_, err := e.StartRun(ctx, def, models.Event{Type: models.EventIssueOpened, DeliveryID: "deep1"}, nil, "", maxNestingDepth+1)
	require.Error(t, err)
}
