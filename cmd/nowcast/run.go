package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/nowcast-alert-service/internal/adapter/http"
	"github.com/couchcryptid/nowcast-alert-service/internal/lock"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the nowcast feed on an interval and send alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			l, err := lock.Acquire(cfg.LockPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := l.Release(); err != nil {
					logger.Error("lock release error", "error", err)
				}
			}()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := httpadapter.NewServer(cfg.HTTPAddr, a.runner, a.heartbeat, a.store, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", "error", err)
				}
			}()

			runErr := a.runner.Run(ctx)

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}

			logger.Info("shutdown complete")
			return runErr
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single ingestion cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			l, err := lock.Acquire(cfg.LockPath)
			if err != nil {
				return err
			}
			defer l.Release() //nolint:errcheck // process is exiting

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.runner.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("status=%s observations=%d decode_errors=%d alerts=%d\n",
				summary.Status, summary.Observations, summary.DecodeErrors, summary.Alerts)
			return nil
		},
	}
}
