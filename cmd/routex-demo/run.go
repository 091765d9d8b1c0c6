package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/routex-demo/internal/app"
	"github.com/tjfontaine/routex-demo/internal/console"
	"github.com/tjfontaine/routex-demo/internal/domain"
	"github.com/tjfontaine/routex-demo/internal/redirect"
)

type sessionFlags struct {
	autoPoll bool
	noListen bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.autoPoll, "auto-poll", false, "confirm polling confirmations automatically after their delay")
	cmd.Flags().BoolVar(&f.noListen, "no-listen", false, "do not wait for redirect returns; continue with the resume command instead")
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	var session sessionFlags
	cmd := &cobra.Command{
		Use:       "run [CollectPayment|Transactions]",
		Short:     "Run a flow",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(domain.ServiceCollectPayment), string(domain.ServiceTransactions)},
		RunE: func(cmd *cobra.Command, args []string) error {
			service := domain.ServiceTransactions
			if len(args) == 1 {
				s, err := domain.ParseService(args[0])
				if err != nil {
					return err
				}
				service = s
			}
			return runSession(cmd.Context(), flags, session, func(ctx context.Context, a *app.App) error {
				return a.Run(ctx, service)
			})
		},
	}
	session.register(cmd)
	return cmd
}

func newResumeCommand(flags *globalFlags) *cobra.Command {
	var session sessionFlags
	cmd := &cobra.Command{
		Use:   "resume RETURN_URL",
		Short: "Continue a flow after the bank sent you back to RETURN_URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), flags, session, func(ctx context.Context, a *app.App) error {
				ok, err := a.Resume(ctx, args[0])
				if err == nil && !ok {
					fmt.Fprintln(os.Stderr, "Nothing to resume. Start a new flow with the run command.")
				}
				return err
			})
		},
	}
	session.register(cmd)
	return cmd
}

// runSession wires an interactive App and runs drive next to the redirect
// return listener. Whichever ends first stops the other.
func runSession(ctx context.Context, flags *globalFlags, session sessionFlags, drive func(context.Context, *app.App) error) error {
	rt, err := newWiring(flags)
	if err != nil {
		return err
	}
	defer rt.close()

	prompter, err := console.NewReadline()
	if err != nil {
		return fmt.Errorf("failed to open terminal: %w", err)
	}
	defer prompter.Close()

	reportDir, err := os.Getwd()
	if err != nil {
		reportDir = os.TempDir()
	}

	opts := app.Options{
		RPC:            rt.rpc,
		Tickets:        rt.tickets,
		Handoff:        rt.handoff,
		Vault:          rt.vault,
		Prompter:       prompter,
		Renderer:       console.NewRenderer(prompter.Stdout(), ""),
		Logger:         rt.logger,
		ReportDir:      reportDir,
		Location:       "http://" + rt.cfg.Redirect.Listen + rt.cfg.Redirect.Path,
		SearchLimit:    rt.cfg.Search.Limit,
		MinQueryLength: rt.cfg.Search.MinQueryLength,
		AutoPoll:       session.autoPoll,
	}

	var listener *redirect.Listener
	if !session.noListen {
		listener, err = redirect.Listen(rt.cfg.Redirect.Listen, rt.cfg.Redirect.Path, rt.logger)
		if err != nil {
			return err
		}
		opts.Location = listener.Location()
		opts.Returns = listener.Returns()
	}

	a := app.New(opts)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if listener != nil {
		g.Go(func() error {
			return listener.Serve(runCtx)
		})
	}
	g.Go(func() error {
		defer cancel()
		return drive(runCtx, a)
	})

	err = g.Wait()
	if errors.Is(err, console.ErrAborted) || errors.Is(err, app.ErrDetached) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
