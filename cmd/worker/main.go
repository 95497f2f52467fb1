package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"demobank/core"
)

// The worker sweeps expired rows from the postgres session store. Memory
// sessions are swept by the api process and redis expires keys itself.
func main() {
	os.Exit(reap())
}

// reap returns the process exit code so deferred cleanup runs before os.Exit.
func reap() int {
	cfg, err := core.Load()
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Printf("failed to setup logging: %v", err)
		return 1
	}
	defer logCloser.Close()

	if cfg.SessionStore != core.StorePostgres {
		logger.Info("session store has no rows to reap; exiting", "session_store", cfg.SessionStore)
		return 0
	}

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		core.LogError(logger, "failed to connect database", err)
		return 1
	}
	defer db.Close()

	store := core.NewPgSessionStore(db)
	logger.Info("session reaper started",
		"instance", core.NewInstanceID("worker"),
		"interval", cfg.SessionSweepInterval.String(),
	)
	core.RunSessionReaper(ctx, store, clockwork.NewRealClock(), cfg.SessionSweepInterval, logger)
	logger.Info("session reaper stopped")
	return 0
}
