package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves the incentive API and runs the snapshot warm-up scheduler until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Server.Port
		}

		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		handler, err := api.NewHandler(a.store, a.records, a.catalog)
		if err != nil {
			return err
		}
		handler.Warnings = a.warnings
		handler.Logger = a.log.Named("api")

		router := api.NewRouter(handler, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			EnableDemo:     cfg.Server.EnableDemo,
		})

		scheduler := api.NewWarmupScheduler(a.records, a.log)
		scheduler.Enabled = cfg.Scheduler.Enabled
		scheduler.AfterDay = cfg.Scheduler.AfterDay
		if cfg.Scheduler.Interval > 0 {
			scheduler.CheckInterval = cfg.Scheduler.Interval
		}
		scheduler.Start()
		defer scheduler.Stop()

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Start server in goroutine
		serverErr := make(chan error, 1)
		go func() {
			a.log.Info("server starting",
				zap.Int("port", port),
				zap.String("program", a.catalog.Name),
				zap.String("store", cfg.Store.Driver),
				zap.Bool("demo", cfg.Server.EnableDemo))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
			close(serverErr)
		}()

		// Wait for interrupt signal
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-serverErr:
			if err != nil {
				return err
			}
		}

		a.log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		a.log.Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides server.port)")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}
