// cmd/copilot-proxy/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	askai "copilot-proxy/internal/api/ask-ai"
	"copilot-proxy/internal/common/config"
	"copilot-proxy/internal/common/database"
	"copilot-proxy/internal/common/logger"
	"copilot-proxy/internal/common/observability"
	"copilot-proxy/internal/server"
	"copilot-proxy/internal/session/copilot"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "copilot-proxy",
		Short:        "HTTP proxy that relays questions to the Copilot chat backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: search ./configs)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting copilot proxy...",
		zap.String("version", version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint)
	if err != nil {
		zapLog.Warn("observability setup incomplete", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(ctx); err != nil {
			zapLog.Error("observability shutdown failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store   copilot.IdentityStore
		options []server.Option
	)
	if cfg.Cache.Redis.Enabled {
		rc, err := database.NewRedis(cfg.Cache.Redis)
		if err != nil {
			return fmt.Errorf("redis client: %w", err)
		}
		defer rc.Close()

		err = retryWithBackoff(func() error { return rc.Ping(ctx) }, 5, 500*time.Millisecond, zapLog, "Redis connection")
		if err != nil {
			return err
		}
		zapLog.Info("Redis connected successfully", zap.String("address", cfg.Cache.Redis.Address))

		store = copilot.NewRedisIdentityStore(rc.Client, cfg.Cache.Redis.KeyPrefix, config.GetDuration(cfg.Cache.Redis.TTL))
		options = append(options, server.WithReadinessCheck("redis", rc.Ping))
	}

	session := copilot.NewSession(copilot.LoadConfig(cfg.Backend), store, log, copilot.WithTracer(obs.Tracer()))

	ask, err := askai.NewHandler(askai.LoadConfig(cfg), session, obs, log)
	if err != nil {
		return fmt.Errorf("ask-ai handler: %w", err)
	}

	srv := server.New(cfg.Server, ask, log, options...)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	zapLog.Info("Copilot proxy stopped gracefully")
	return nil
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}
