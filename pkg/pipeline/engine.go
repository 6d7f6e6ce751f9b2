// Package pipeline implements the Pipeline Engine: trigger evaluation,
// stage dispatch, conditional execution, retries, reactive events, and
// iteration bounding over static workflow definitions (spec §4.7).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/gatecheck"
	"github.com/nbaertsch/squadron/pkg/models"
	"github.com/nbaertsch/squadron/pkg/registry"
)

// maxNestingDepth caps sub-pipeline recursion, per spec §3's PipelineRun
// invariant "nesting depth <= hard cap (3)".
const maxNestingDepth = 3

// ActionResult is the outcome of an action stage's pluggable callback.
type ActionResult struct {
	Success  bool
	Error    string
	Conflict bool
	Data     map[string]any
}

// ActionFunc implements one named action stage callback (e.g. merge_pr,
// comment_on_issue).
type ActionFunc func(ctx context.Context, stage config.StageDefinition, run *models.PipelineRun) (ActionResult, error)

// AgentSpawner is the narrow slice of the Lifecycle Manager the engine
// depends on for agent stages.
type AgentSpawner interface {
	SpawnWorkflowAgent(ctx context.Context, role string, issueID, prID int64, runID, stageID, action string) (*models.Agent, error)
}

// Engine is the Pipeline Engine. One instance serves every pipeline
// definition configured for the process.
type Engine struct {
	reg     *registry.Registry
	cfg     *config.Config
	gates   *gatecheck.Registry
	agents  AgentSpawner
	actions map[string]ActionFunc

	mu     sync.Mutex
	delays map[string]context.CancelFunc // keyed by "runID/stageID"
}

// New builds a Pipeline Engine.
func New(cfg *config.Config, reg *registry.Registry, gates *gatecheck.Registry, agents AgentSpawner, actions map[string]ActionFunc) *Engine {
	if actions == nil {
		actions = map[string]ActionFunc{}
	}
	return &Engine{
		reg:     reg,
		cfg:     cfg,
		gates:   gates,
		agents:  agents,
		actions: actions,
		delays:  make(map[string]context.CancelFunc),
	}
}

// HandleEvent is the engine's event-router handler: it walks every pipeline
// definition and starts a run for each one whose trigger matches, subject to
// single-pr duplicate suppression, then dispatches reactive on_events
// handlers against already-running runs.
func (e *Engine) HandleEvent(ctx context.Context, evt models.Event) error {
	for _, def := range e.cfg.Pipelines.GetAll() {
		if !e.triggerMatches(def.Trigger, evt) {
			continue
		}
		if err := e.maybeStart(ctx, def, evt); err != nil {
			slog.Error("starting pipeline run failed", "pipeline", def.Name, "error", err)
		}
	}
	return e.dispatchReactive(ctx, evt)
}

func (e *Engine) triggerMatches(trig config.TriggerMatch, evt models.Event) bool {
	if trig.Event != string(evt.Type) {
		return false
	}
	if trig.Label != "" && !containsString(evt.Labels, trig.Label) {
		return false
	}
	if len(trig.AnyOfLabels) > 0 && !anyStringIn(evt.Labels, trig.AnyOfLabels) {
		return false
	}
	if trig.BaseBranch != "" {
		if base, _ := evt.Raw["base_branch"].(string); base != trig.BaseBranch {
			return false
		}
	}
	return true
}

// maybeStart applies single-pr duplicate suppression before creating a run.
func (e *Engine) maybeStart(ctx context.Context, def *config.PipelineDefinition, evt models.Event) error {
	if def.Scope == config.PipelineScopeSinglePR && evt.PRID != nil {
		existing, err := e.reg.FindRunningByPR(ctx, def.Name, *evt.PRID)
		if err != nil && err != registry.ErrPipelineRunNotFound {
			return fmt.Errorf("checking for running run: %w", err)
		}
		if existing != nil {
			slog.Info("suppressing duplicate pipeline trigger", "pipeline", def.Name, "pr", *evt.PRID)
			return nil
		}
	}
	_, err := e.StartRun(ctx, def, evt, nil, "", 0)
	return err
}

// runOptions parameterizes run creation beyond the common top-level-trigger
// case: a caller-chosen id (so the parent stage run can be linked before the
// child's first stage might complete synchronously), a non-default starting
// stage, and pre-seeded context. StartRun and startRunWithID set neither of
// the last two.
type runOptions struct {
	ID             string
	ParentRunID    *string
	ParentStageID  string
	NestingDepth   int
	StartStageID   string
	InitialContext map[string]any
}

// StartRun creates a PipelineRun with a definition snapshot and executes its
// first stage, returning the new run's id. parentRunID/parentStageID/
// nestingDepth are set by sub-pipeline stages; top-level triggers pass
// nil, "", 0.
func (e *Engine) StartRun(ctx context.Context, def *config.PipelineDefinition, evt models.Event, parentRunID *string, parentStageID string, nestingDepth int) (string, error) {
	return e.startRun(ctx, def, evt, runOptions{
		ID: uuid.NewString(), ParentRunID: parentRunID, ParentStageID: parentStageID, NestingDepth: nestingDepth,
	})
}

// startRunWithID is StartRun with a caller-chosen run id, so a sub-pipeline
// stage can persist the child id on its own stage run before the child's
// first stage has a chance to complete synchronously and look it up.
func (e *Engine) startRunWithID(ctx context.Context, def *config.PipelineDefinition, evt models.Event, parentRunID *string, parentStageID string, nestingDepth int, id string) (string, error) {
	return e.startRun(ctx, def, evt, runOptions{
		ID: id, ParentRunID: parentRunID, ParentStageID: parentStageID, NestingDepth: nestingDepth,
	})
}

func (e *Engine) startRun(ctx context.Context, def *config.PipelineDefinition, evt models.Event, opts runOptions) (string, error) {
	if opts.NestingDepth > maxNestingDepth {
		return "", fmt.Errorf("pipeline %s: nesting depth %d exceeds cap %d", def.Name, opts.NestingDepth, maxNestingDepth)
	}

	runCtx := map[string]any{}
	for k, v := range opts.InitialContext {
		runCtx[k] = v
	}
	for k, v := range def.DefaultContext {
		if _, seeded := runCtx[k]; !seeded {
			runCtx[k] = v
		}
	}
	runCtx["labels"] = evt.Labels
	if base, ok := evt.Raw["base_branch"].(string); ok {
		runCtx["base_branch"] = base
	}

	var parentStagePtr *string
	if opts.ParentStageID != "" {
		parentStagePtr = &opts.ParentStageID
	}

	run := &models.PipelineRun{
		ID:                opts.ID,
		PipelineName:      def.Name,
		Definition:        *def,
		TriggerEvent:      string(evt.Type),
		TriggerDeliveryID: evt.DeliveryID,
		IssueID:           evt.IssueID,
		PRID:              evt.PRID,
		Scope:             def.Scope,
		ParentRunID:       opts.ParentRunID,
		ParentStageID:     parentStagePtr,
		NestingDepth:      opts.NestingDepth,
		Status:            models.PipelineRunRunning,
		Context:           runCtx,
		IterationCounts:   map[string]int{},
	}
	switch {
	case opts.StartStageID != "":
		run.CurrentStageID = opts.StartStageID
	case len(def.Stages) > 0:
		run.CurrentStageID = def.Stages[0].ID
	}

	if err := e.reg.CreatePipelineRun(ctx, run); err != nil {
		return "", fmt.Errorf("creating pipeline run for %s: %w", def.Name, err)
	}

	if run.CurrentStageID == "" {
		run.Status = models.PipelineRunCompleted
		if err := e.reg.UpdatePipelineRun(ctx, run); err != nil {
			return "", err
		}
		return run.ID, nil
	}
	if err := e.dispatchStage(ctx, run, run.CurrentStageID); err != nil {
		return "", err
	}
	return run.ID, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func anyStringIn(haystack, needles []string) bool {
	for _, n := range needles {
		if containsString(haystack, n) {
			return true
		}
	}
	return false
}

func isSentinel(target string) bool {
	return strings.HasPrefix(target, "__") && strings.HasSuffix(target, "__")
}
