package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/routex-demo/internal/backend"
	"github.com/tjfontaine/routex-demo/internal/config"
	"github.com/tjfontaine/routex-demo/internal/server"
	"github.com/tjfontaine/routex-demo/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configPath string
	root := &cobra.Command{
		Use:           "ticket-backend",
		Short:         "Issues tickets for the routex demo client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ticket-backend:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer("ticket-backend", os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	key, err := cfg.Tickets.DecodedKey()
	if err != nil {
		return err
	}
	tickets, err := backend.NewTicketService(cfg.Tickets.KeyID, key,
		backend.WithValidity(cfg.Tickets.Validity),
		backend.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	// Rotate the signing key when config.yaml changes.
	provider, err := config.NewProvider(configPath, logger)
	if err != nil {
		return err
	}
	defer provider.Close()
	if err := provider.Watch(ctx, func(c *config.Config) { rotateKey(tickets, c, logger) }); err != nil {
		logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
	}

	srv := server.New(cfg.Server.Port, logger, server.WithRequestTimeout(cfg.Server.RequestTimeout))
	backend.NewHandler(tickets, logger).Mount(srv.Router)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("ticket backend stopped")
	return nil
}

func rotateKey(tickets *backend.TicketService, cfg *config.Config, logger *slog.Logger) {
	key, err := cfg.Tickets.DecodedKey()
	if err != nil {
		logger.Error("keeping previous signing key", slog.String("error", err.Error()))
		return
	}
	if err := tickets.SetKey(cfg.Tickets.KeyID, key); err != nil {
		logger.Error("keeping previous signing key", slog.String("error", err.Error()))
	}
}
