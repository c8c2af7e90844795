package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/api/websocket"
	"github.com/Programmerfd54/rocket-shelduer-sub002/config"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/guard"
	"github.com/Programmerfd54/rocket-shelduer-sub002/scheduler"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server"
	"github.com/Programmerfd54/rocket-shelduer-sub002/vault"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func ServerCli() *cli.Command {
	cmd := &cli.Command{
		Name:  "server",
		Usage: "run the api server and the message scheduler",
		Flags: config.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := config.FromCommand(c)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cfg.Debug)
			if err != nil {
				return err
			}
			defer logger.Sync()
			zap.ReplaceGlobals(logger)

			return runServer(ctx, cfg, logger)
		},
	}

	return cmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServer(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server.ServerStatus = "starting"

	DB, err := database.SetupDatabase(cfg.DBBackend, cfg.DBPath, cfg.DatabaseURL, cfg.Debug)
	if err != nil {
		return err
	}

	v, err := vault.New(cfg.CredentialSecret, cfg.IsDevelopment())
	if err != nil {
		return err
	}

	if email, password, ok := cfg.RootUser(); ok {
		if _, err := server.CreateRootUser(DB, email, password); err != nil {
			return fmt.Errorf("create root user: %w", err)
		}
	}

	hub := websocket.NewWebSocketHandler(logger.Named("websocket"))
	engine := dispatch.NewEngine(DB, v,
		dispatch.WithBatchSize(int(cfg.DispatchBatchSize)),
		dispatch.WithCallTimeout(cfg.RemoteTimeout),
		dispatch.WithBatchTimeout(cfg.BatchTimeout),
		dispatch.WithNotifier(hub),
		dispatch.WithLogger(logger.Named("dispatch")),
	)
	g := guard.New(DB, cfg.DispatchSecret, int(cfg.RateLimitRPM), guard.WithLogger(logger.Named("guard")))

	schedulerService := scheduler.NewSchedulerService(logger.Named("scheduler"))
	err = schedulerService.RegisterTasks(
		scheduler.DispatchTasks(engine, cfg.DispatchInterval),
		scheduler.MaintenanceTasks(DB, scheduler.MaintenanceOptions{
			StaleClaimAfter: cfg.StaleClaimAfter,
			RemoteTimeout:   cfg.RemoteTimeout,
			Logger:          logger.Named("maintenance"),
		}),
	)
	if err != nil {
		return err
	}
	schedulerService.Start()
	defer schedulerService.Stop()

	s, fullHost := server.BackendServer(server.Services{
		DB:        DB,
		Config:    cfg,
		Vault:     v,
		Engine:    engine,
		Guard:     g,
		Scheduler: schedulerService,
		Hub:       hub,
	}, cfg.Host, cfg.Port, cfg.SSL)

	if cfg.DispatchSecret == "" {
		logger.Warn("dispatch secret not configured, http dispatch trigger disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("address", fullHost))
		server.ServerStatus = "running"
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		server.ServerStatus = "stopped"
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	server.ServerStatus = "stopping"
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	server.ServerStatus = "stopped"
	return nil
}
