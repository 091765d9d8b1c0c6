package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/routex-demo/internal/console"
	"github.com/tjfontaine/routex-demo/internal/search"
)

func newSearchCommand(flags *globalFlags) *cobra.Command {
	var tkt string
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search connections with an existing ticket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newWiring(flags)
			if err != nil {
				return err
			}
			defer rt.close()

			s := search.NewSearcher(rt.rpc, tkt,
				search.WithLimit(rt.cfg.Search.Limit),
				search.WithMinQueryLength(rt.cfg.Search.MinQueryLength),
				search.WithLogger(rt.logger),
			)
			query := strings.Join(args, " ")
			outcome, err := s.Search(cmd.Context(), query)
			if err != nil {
				return err
			}
			if outcome == search.Cleared {
				return fmt.Errorf("query %q is too short", query)
			}

			results, _ := s.Results()
			out := console.NewRenderer(os.Stdout, "")
			if len(results) == 0 {
				out.Info("No matching bank found.")
				return nil
			}
			out.Connections(results)
			return nil
		},
	}
	cmd.Flags().StringVar(&tkt, "ticket", "", "ticket to search with")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}
