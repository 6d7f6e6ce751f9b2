// Squadron orchestrator server - drives long-running AI coding agents
// against a source-hosting platform via declarative pipeline and trigger
// definitions.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nbaertsch/squadron/pkg/agent"
	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/gatecheck"
	"github.com/nbaertsch/squadron/pkg/mail"
	"github.com/nbaertsch/squadron/pkg/models"
	"github.com/nbaertsch/squadron/pkg/pipeline"
	"github.com/nbaertsch/squadron/pkg/reconcile"
	"github.com/nbaertsch/squadron/pkg/registry"
	"github.com/nbaertsch/squadron/pkg/reviews"
	"github.com/nbaertsch/squadron/pkg/router"
	"github.com/nbaertsch/squadron/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// routedEventTypes lists every event type a trigger, command, or pipeline
// definition may name. workflow.internal is deliberately excluded: the
// Pipeline Engine only creates it as the trigger event of a sub-pipeline's
// child run, and it never arrives from the Router.
var routedEventTypes = []models.EventType{
	models.EventIssueOpened,
	models.EventIssueAssigned,
	models.EventIssueClosed,
	models.EventIssueLabeled,
	models.EventIssueComment,
	models.EventPROpened,
	models.EventPRSynchronize,
	models.EventPRClosed,
	models.EventPRReviewSubmitted,
	models.EventPRReviewComment,
	models.EventWakeAgent,
	models.EventBlockerResolved,
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("starting %s, config directory %s", version.Full(), *configDir)

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}
	stats := cfg.Stats()
	log.Printf("loaded %d agent roles, %d pipelines", stats.Roles, stats.Pipelines)

	dbConfig, err := registry.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	reg, err := registry.Open(ctx, dbConfig)
	if err != nil {
		log.Fatalf("failed to connect to registry database: %v", err)
	}
	defer func() {
		if err := reg.DB().Close(); err != nil {
			log.Printf("error closing registry database: %v", err)
		}
	}()
	log.Println("connected to registry database")

	platform := noopPlatform{}

	mailCtr := mail.NewCenter()

	gates := gatecheck.NewRegistry()
	gatecheck.BindPRApprovalCheck(gates, reg)
	gatecheck.BindCIStatusCheck(gates, platform)

	manager := agent.New(cfg, reg, mailCtr, platform, noopSessionFactory{}, localGitWorktree{}, noopSandbox{}, slogActivityLogger{})

	engine := pipeline.New(cfg, reg, gates, manager, pipeline.BuiltinActions(platform))
	manager.SetWorkflowNotifier(engine)

	reviewCoordinator := reviews.New(reg, platform)

	if err := engine.Recover(ctx); err != nil {
		log.Fatalf("failed to recover running pipelines: %v", err)
	}
	log.Println("recovered running pipelines")

	reconcileInterval := parseReconciliationInterval(cfg.Runtime.ReconciliationInterval)
	loop := reconcile.New(reg, manager, platform, cfg, reconcileInterval)
	if err := loop.Start(ctx); err != nil {
		log.Fatalf("failed to start reconciliation loop: %v", err)
	}
	defer loop.Stop()
	log.Printf("reconciliation loop started, interval %s", reconcileInterval)

	r := router.New(reg, 256)
	for _, evtType := range routedEventTypes {
		r.On(evtType, manager.RouteCommand)
		r.On(evtType, manager.HandleTriggerEvent)
		r.On(evtType, engine.HandleEvent)
		r.On(evtType, reviewCoordinator.HandleEvent)
	}
	r.Start(ctx)
	defer r.Stop()
	log.Println("event router started")

	log.Println("squadron is ready")
	<-ctx.Done()
	log.Println("shutting down squadron")
}

func parseReconciliationInterval(raw string) time.Duration {
	if raw == "" {
		return 300 * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid reconciliation_interval, using default", "value", raw, "error", err)
		return 300 * time.Second
	}
	return d
}
