package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gomstp/internal/server"
)

func monitorCmd() *cobra.Command {
	var kinds []string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream role, state and topology events",
		Long:  "Connects to mstpd and streams spanning tree events until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return client.WatchEvents(ctx, kinds, func(ev server.Event) error {
				out, err := formatEvent(ev, outputFormat)
				if err != nil {
					return fmt.Errorf("format event: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
				return err
			})
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "kind", nil,
		"event kinds to stream: role_change, state_change, root_change, topology_change, boundary_change, root_guard")

	return cmd
}
