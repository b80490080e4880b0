package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnema-ai/mnema/internal/api"
	"github.com/mnema-ai/mnema/internal/config"
	"github.com/mnema-ai/mnema/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "mnema",
		Short:         "Conversational agent with long-term memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(botCmd(), dbInitCmd(), maintenanceCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	switch config.LogLevel() {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func botCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the agent server",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = config.Load()
			if err := config.Validate(); err != nil {
				return err
			}

			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(config.DatabasePath())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			ctx := context.Background()
			if err := store.Init(ctx, db); err != nil {
				return fmt.Errorf("initialize schema: %w", err)
			}
			logger.Info("database ready", zap.String("path", config.DatabasePath()))

			app := api.NewApp(db, logger)
			app.Maintenance.Start()

			addr := config.ServerAddr()
			srv := &http.Server{
				Addr:    addr,
				Handler: app.Router,
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				logger.Info("server starting", zap.String("addr", addr), zap.String("version", version))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("server failed", zap.Error(err))
				}
			}()

			<-quit
			logger.Info("shutting down server")

			app.Maintenance.Stop()
			app.Chat.Wait()

			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}

			logger.Info("server stopped")
			return nil
		},
	}
}

func dbInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-init",
		Short: "Create the schema and seed default roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = config.Load()
			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(config.DatabasePath())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			ctx := cmd.Context()
			if err := store.Init(ctx, db); err != nil {
				return fmt.Errorf("initialize schema: %w", err)
			}
			if err := store.NewRoleStore(db).SeedDefaults(ctx); err != nil {
				return fmt.Errorf("seed roles: %w", err)
			}

			logger.Info("database initialized", zap.String("path", config.DatabasePath()))
			return nil
		},
	}
}

func maintenanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Run one consolidation and decay pass for all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = config.Load()
			if err := config.Validate(); err != nil {
				return err
			}

			logger := newLogger()
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(config.DatabasePath())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			ctx := cmd.Context()
			if err := store.Init(ctx, db); err != nil {
				return fmt.Errorf("initialize schema: %w", err)
			}

			app := api.NewApp(db, logger)
			if err := app.Maintenance.RunOnce(ctx); err != nil {
				return fmt.Errorf("maintenance: %w", err)
			}
			if err := store.Optimize(ctx, db); err != nil {
				logger.Warn("database optimize failed", zap.Error(err))
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mnema", version)
		},
	}
}
