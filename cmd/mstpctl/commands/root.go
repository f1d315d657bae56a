package commands

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gomstp/internal/server"
)

const defaultAddr = "localhost:50052"

var (
	// client is the shared API client, initialized in PersistentPreRunE.
	client *server.Client

	// outputFormat controls the output format (table, json, yaml).
	outputFormat = formatTable

	// serverAddr is the mstpd API server address.
	serverAddr = defaultAddr
)

// newRootCmd builds a fresh command tree. The interactive shell calls it once
// per line so flag state never leaks between commands; the persistent flag
// defaults carry the values chosen when the shell was started.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mstpctl",
		Short: "CLI client for the mstpd MSTP bridge daemon",
		Long:  "mstpctl inspects and configures the spanning trees run by mstpd over its ConnectRPC API.",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			client = server.NewClient(http.DefaultClient, "http://"+serverAddr)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&serverAddr, "addr", serverAddr, "mstpd API server address (host:port)")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", outputFormat, "output format: table, json, yaml")

	cmd.AddCommand(bridgeCmd())
	cmd.AddCommand(portCmd())
	cmd.AddCommand(instanceCmd())
	cmd.AddCommand(monitorCmd())
	cmd.AddCommand(versionCmd())
	cmd.AddCommand(shellCmd())

	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// writeOut writes rendered output to the command's stdout.
func writeOut(cmd *cobra.Command, out string, err error) error {
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}
