package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"demobank/core"
)

func main() {
	os.Exit(serve())
}

// serve returns the process exit code so deferred cleanup runs before os.Exit.
func serve() int {
	cfg, err := core.Load()
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		return 1
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Printf("failed to setup logging: %v", err)
		return 1
	}
	defer logCloser.Close()

	if err := run(ctx, cfg, logger); err != nil {
		core.LogError(logger, "api server stopped", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg core.Config, logger *slog.Logger) error {
	clock := clockwork.NewRealClock()

	if cfg.UsesPostgres() && cfg.MigrateOnStart {
		if err := core.RunMigrations(cfg.DatabaseURL); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	backends, err := core.OpenBackends(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer backends.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := core.NewMetrics(registry)

	hasher, err := core.NewPasswordHasher(cfg)
	if err != nil {
		return err
	}
	sessionManager := core.NewSessionManager(backends.Sessions, cfg.SessionTTL, clock, metrics)
	authService := core.NewRepositoryAuthService(core.AuthDeps{
		Users:             backends.Users,
		Hasher:            hasher,
		Sessions:          sessionManager,
		Metrics:           metrics,
		Logger:            logger,
		PasswordMinLength: cfg.PasswordMinLength,
	})

	if err := core.BootstrapUser(ctx, backends.Users, authService, cfg, logger, os.Stderr); err != nil {
		return fmt.Errorf("bootstrap user failed: %w", err)
	}

	// Stores without native expiry are swept in-process; postgres is left to cmd/worker.
	if reaper, ok := backends.Sessions.(*core.MemorySessionStore); ok {
		go core.RunSessionReaper(ctx, reaper, clock, cfg.SessionSweepInterval, logger)
	}

	router, err := core.NewRouter(cfg, core.RouterDeps{
		Cookies:  core.NewCookieStore(cfg),
		Auth:     authService,
		Sessions: sessionManager,
		Metrics:  metrics,
		Gatherer: registry,
		Limiter:  core.NewIPRateLimiter(cfg.AuthRatePerMinute, cfg.AuthRateBurst, clock),
		Logger:   logger,
		Pingers:  backends.Pingers,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting api server",
			"addr", srv.Addr,
			"instance", core.NewInstanceID("api"),
			"user_store", cfg.UserStore,
			"session_store", cfg.SessionStore,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
