// Command mcs runs the Multi-Agent Coordination Server: process wiring for
// config, store, resilience, the LLM Gateway, and every server component,
// mounted behind the chi API surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coriolislabs/mcs/internal/api"
	"github.com/coriolislabs/mcs/internal/auditor"
	"github.com/coriolislabs/mcs/internal/config"
	"github.com/coriolislabs/mcs/internal/llmgateway"
	"github.com/coriolislabs/mcs/internal/lockmgr"
	"github.com/coriolislabs/mcs/internal/planner"
	"github.com/coriolislabs/mcs/internal/platform/logging"
	"github.com/coriolislabs/mcs/internal/platform/otelinit"
	"github.com/coriolislabs/mcs/internal/platform/resilience"
	"github.com/coriolislabs/mcs/internal/resulthandler"
	"github.com/coriolislabs/mcs/internal/scheduler"
	"github.com/coriolislabs/mcs/internal/store"
)

const serviceName = "mcs"

func main() {
	if err := run(); err != nil {
		slog.Error("mcs exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.Init(serviceName)

	var configPath string
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	shutdownTracer := otelinit.InitTracer(ctx, serviceName)
	defer otelinit.Flush(context.Background(), shutdownTracer)

	pool, sqlDB, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer pool.Close()
	defer sqlDB.Close()

	if err := store.Migrate(sqlDB); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	db := store.NewPostgresStore(pool)
	log.Info("store ready", "database_url_configured", cfg.DatabaseURL != "")

	breaker := resilience.NewCircuitBreakerAdaptive(time.Minute, 6, 5, 0.5, 30*time.Second, 3)
	llmClient := llmgateway.NewAnthropicClient("", cfg.LLMModel, cfg.LLMMaxTokens)
	gateway := llmgateway.NewGateway(llmClient, breaker)

	locks := lockmgr.New(db, cfg.LockTTL)
	sched := scheduler.New(db, locks)
	plan := planner.New(db, gateway, cfg.Roles, cfg.LLMMaxAttempts)
	aud := auditor.New(db, gateway, cfg.AuditConfidenceThreshold, cfg.MaxReworkCycles, cfg.LLMMaxAttempts)
	results := resulthandler.New(db, locks, sched, aud, cfg.MaxRetries)

	server := api.New(db, plan, sched, results, cfg.Roles, cfg.AuthToken, log)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := cron.New()
	_, err = sweeper.AddFunc("@every 1m", func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sweepExpired(sweepCtx, db, log, cfg.ClaimTTL)
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep job: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// sweepExpired reverts claims past claim_ttl to READY and drops expired
// file leases, so a crashed or hung worker never permanently strands a
// task or its locks.
func sweepExpired(ctx context.Context, db store.Store, log *slog.Logger, claimTTL time.Duration) {
	claims, err := db.SweepExpiredClaims(ctx, claimTTL)
	if err != nil {
		log.Warn("sweep expired claims failed", "error", err)
	} else if claims > 0 {
		log.Info("swept expired claims", "count", claims)
	}
	locks, err := db.SweepExpiredLocks(ctx, time.Now().UTC())
	if err != nil {
		log.Warn("sweep expired locks failed", "error", err)
	} else if locks > 0 {
		log.Info("swept expired locks", "count", locks)
	}
}
