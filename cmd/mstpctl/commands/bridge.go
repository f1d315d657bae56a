package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gomstp/internal/server"
)

func bridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Inspect and configure the bridge",
	}

	cmd.AddCommand(bridgeShowCmd())
	cmd.AddCommand(bridgeSetCmd())

	return cmd
}

func bridgeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show bridge parameters and CIST root information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := client.GetBridge(cmd.Context())
			if err != nil {
				return fmt.Errorf("get bridge: %w", err)
			}
			out, err := formatBridge(b, outputFormat)
			return writeOut(cmd, out, err)
		},
	}
}

func bridgeSetCmd() *cobra.Command {
	var (
		mstid        uint16
		forceVersion string
		priority     uint16
		helloTime    uint16
		maxAge       uint16
		forwardDelay uint16
		maxHops      uint8
		txHoldCount  uint16
		region       string
		revision     uint16
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change bridge parameters at runtime",
		Long: "Change bridge parameters at runtime. Only the flags given are applied.\n" +
			"Runtime changes are not persisted and are overwritten on the next config reload.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			req := &server.SetBridgeConfigRequest{MSTID: mstid}
			if f.Changed("force-version") {
				req.ForceVersion = &forceVersion
			}
			if f.Changed("priority") {
				req.Priority = &priority
			}
			if f.Changed("hello-time") {
				req.HelloTime = &helloTime
			}
			if f.Changed("max-age") {
				req.MaxAge = &maxAge
			}
			if f.Changed("forward-delay") {
				req.ForwardDelay = &forwardDelay
			}
			if f.Changed("max-hops") {
				req.MaxHops = &maxHops
			}
			if f.Changed("tx-hold-count") {
				req.TxHoldCount = &txHoldCount
			}
			if f.Changed("region") {
				req.Region = &region
			}
			if f.Changed("revision") {
				req.Revision = &revision
			}

			b, err := client.SetBridgeConfig(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("set bridge config: %w", err)
			}
			out, err := formatBridge(b, outputFormat)
			return writeOut(cmd, out, err)
		},
	}

	f := cmd.Flags()
	f.Uint16Var(&mstid, "mstid", 0, "tree the --priority applies to (0 is the CIST)")
	f.StringVar(&forceVersion, "force-version", "", "protocol version: stp, rstp, mstp")
	f.Uint16Var(&priority, "priority", 0, "bridge priority (multiple of 4096)")
	f.Uint16Var(&helloTime, "hello-time", 0, "hello time in seconds")
	f.Uint16Var(&maxAge, "max-age", 0, "max age in seconds")
	f.Uint16Var(&forwardDelay, "forward-delay", 0, "forward delay in seconds")
	f.Uint8Var(&maxHops, "max-hops", 0, "MST region hop limit")
	f.Uint16Var(&txHoldCount, "tx-hold-count", 0, "BPDUs per second per port")
	f.StringVar(&region, "region", "", "MST configuration name")
	f.Uint16Var(&revision, "revision", 0, "MST configuration revision")

	return cmd
}
