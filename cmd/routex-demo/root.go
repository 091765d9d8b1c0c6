package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/routex-demo/internal/api/routex"
	"github.com/tjfontaine/routex-demo/internal/app"
	"github.com/tjfontaine/routex-demo/internal/config"
	"github.com/tjfontaine/routex-demo/internal/redirect"
	"github.com/tjfontaine/routex-demo/internal/storage"
	"github.com/tjfontaine/routex-demo/internal/telemetry"
	"github.com/tjfontaine/routex-demo/internal/ticket"
	"github.com/tjfontaine/routex-demo/internal/vault"
)

type globalFlags struct {
	configPath string
	logFile    string
}

func newRootCommand() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "routex-demo",
		Short:         "Collect payments and fetch transactions through the routex service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "configuration file")
	root.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "write logs to this file instead of stderr")

	root.AddCommand(
		newRunCommand(&flags),
		newResumeCommand(&flags),
		newSearchCommand(&flags),
	)
	return root
}

// wiring is everything a command needs, built from the configuration.
type wiring struct {
	cfg     *config.Config
	logger  *slog.Logger
	rpc     *routex.Client
	tickets *ticket.Issuer
	store   storage.KeyValueStore
	handoff *redirect.Handoff
	vault   vault.Vault
	closers []func(context.Context) error
}

func newWiring(flags *globalFlags) (*wiring, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	rt := &wiring{cfg: cfg}

	var logOut io.Writer = os.Stderr
	if flags.logFile != "" {
		f, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logOut = f
		rt.closers = append(rt.closers, func(context.Context) error { return f.Close() })
	}
	rt.logger = telemetry.NewLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(rt.logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer("routex-demo", logOut, rt.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		rt.closers = append(rt.closers, shutdown)
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.Routex.Timeout,
	}
	rt.rpc = routex.NewClient(cfg.Routex.URL, routex.WithHTTPClient(httpClient), routex.WithLogger(rt.logger))
	rt.tickets = ticket.NewIssuer(cfg.Backend.URL, ticket.WithLogger(rt.logger))

	rt.store, err = app.OpenStore(cfg.Storage)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.store.Close() })
	rt.handoff = redirect.NewHandoff(rt.store, redirect.WithLogger(rt.logger))

	rt.vault, err = app.OpenVault(vault.Type(cfg.Vault.Type), rt.store)
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

// close runs the closers in reverse order.
func (rt *wiring) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](context.Background()); err != nil && rt.logger != nil {
			rt.logger.Warn("cleanup failed", slog.String("error", err.Error()))
		}
	}
}
