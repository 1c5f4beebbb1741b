package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/soochol/graphrun/internal/agents"
	"github.com/soochol/graphrun/internal/api"
	"github.com/soochol/graphrun/internal/compiler"
	"github.com/soochol/graphrun/internal/config"
	"github.com/soochol/graphrun/internal/db"
	"github.com/soochol/graphrun/internal/engine"
	"github.com/soochol/graphrun/internal/gateway"
	"github.com/soochol/graphrun/internal/graphrun"
	"github.com/soochol/graphrun/internal/repository"
	"github.com/soochol/graphrun/internal/scheduler"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		serve()
		return
	}
	fmt.Println("graphrun v0.1.0")
	fmt.Println("Usage: graphrun serve")
}

func serve() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.LoadDefault()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if key := os.Getenv("GRAPHRUN_SECRET_KEY"); key != "" {
		cfg.Database.SecretKey = key
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	planRepo, runRepo, triggerRepo, closeDB := buildRepositories(ctx, cfg)
	defer closeDB()

	schemas, err := compiler.BuiltinSchemas()
	if err != nil {
		slog.Error("schema registry error", "err", err)
		os.Exit(1)
	}
	comp := compiler.New(schemas)

	registry := gateway.NewRegistry()
	registry.Register("echo", &agents.EchoAgent{})
	registry.Register("transform", &agents.TransformAgent{})
	registry.Register("http", &agents.HTTPAgent{})

	bus := engine.NewEventBus()
	policy := graphrun.RetryPolicy{
		MaxRetries:    cfg.Gateway.MaxRetries,
		InitialDelay:  cfg.Gateway.InitialDelay,
		MaxDelay:      cfg.Gateway.MaxDelay,
		BackoffFactor: cfg.Gateway.BackoffFactor,
	}

	eng := engine.New(nil, runRepo, bus, graphrun.EngineLimits{
		MaxInFlight:          cfg.Engine.MaxInFlight,
		RunDeadline:          cfg.Engine.RunDeadline,
		ReleaseIntermediates: cfg.Engine.ReleaseIntermediates,
	})
	gw := gateway.New(registry, policy, cfg.Gateway.DefaultTimeout, eng.InvocationSink())
	eng.SetGateway(gw)
	eng.Start()
	defer eng.Stop()

	schedulerSvc := scheduler.NewSchedulerService(triggerRepo, planRepo, eng)
	if err := schedulerSvc.Start(ctx); err != nil {
		slog.Error("scheduler error", "err", err)
		os.Exit(1)
	}
	defer schedulerSvc.Stop()

	triggerSvc := scheduler.NewTriggerService(triggerRepo, planRepo, eng, cfg.Scheduler.DedupTTL)
	defer triggerSvc.Stop()

	srv := api.NewServer(comp, planRepo, runRepo, triggerRepo, eng, schedulerSvc, triggerSvc)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting graphrun server", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// buildRepositories wires in-memory repositories, layered over PostgreSQL
// when a database URL is configured.
func buildRepositories(ctx context.Context, cfg *config.Config) (repository.PlanRepository, repository.RunRepository, repository.TriggerRepository, func()) {
	memPlans := repository.NewMemoryPlanRepository()
	memRuns := repository.NewMemoryRunRepository()
	memTriggers := repository.NewMemoryTriggerRepository()

	if cfg.Database.URL == "" {
		slog.Info("no database configured, using in-memory repositories")
		return memPlans, memRuns, memTriggers, func() {}
	}

	database, err := db.New(ctx, cfg.Database.URL, []byte(cfg.Database.SecretKey))
	if err != nil {
		slog.Warn("database unavailable, using in-memory repositories", "err", err)
		return memPlans, memRuns, memTriggers, func() {}
	}
	if err := database.Migrate(ctx); err != nil {
		slog.Error("migration error", "err", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	return repository.NewPersistentPlanRepository(memPlans, database),
		repository.NewPersistentRunRepository(memRuns, database),
		repository.NewPersistentTriggerRepository(memTriggers, database),
		func() { database.Close() }
}
