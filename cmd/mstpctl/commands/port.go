package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gomstp/internal/server"
)

// errNothingToSet is returned by "port set" when no flag was given.
var errNothingToSet = errors.New("no settings given")

func portCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Inspect and configure bridge ports",
	}

	cmd.AddCommand(portListCmd())
	cmd.AddCommand(portShowCmd())
	cmd.AddCommand(portSetCmd())
	cmd.AddCommand(portClearStatsCmd())

	return cmd
}

// parsePortSelector accepts a port number or an interface name.
func parsePortSelector(arg string) server.PortSelector {
	if n, err := strconv.ParseUint(arg, 10, 16); err == nil && n > 0 {
		return server.PortSelector{Number: uint16(n)}
	}
	return server.PortSelector{Name: arg}
}

func portListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all ports with their CIST role and state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := client.ListPorts(cmd.Context())
			if err != nil {
				return fmt.Errorf("list ports: %w", err)
			}
			out, err := formatPorts(ports, outputFormat)
			return writeOut(cmd, out, err)
		},
	}
}

func portShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <port>",
		Short: "Show a port by number or interface name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := client.GetPort(cmd.Context(), parsePortSelector(args[0]))
			if err != nil {
				return fmt.Errorf("get port %s: %w", args[0], err)
			}
			out, err := formatPort(p, outputFormat)
			return writeOut(cmd, out, err)
		},
	}
}

func portSetCmd() *cobra.Command {
	var (
		mstid     uint16
		enabled   bool
		edge      bool
		linkType  string
		pathCost  uint32
		priority  uint8
		rootGuard bool
	)

	cmd := &cobra.Command{
		Use:   "set <port>",
		Short: "Change port parameters at runtime",
		Long: "Change port parameters at runtime. --path-cost and --priority apply to the\n" +
			"tree selected by --mstid. Runtime changes are overwritten on the next config reload.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			req := &server.SetPortConfigRequest{Port: parsePortSelector(args[0]), MSTID: mstid}
			if f.Changed("enabled") {
				req.Enabled = &enabled
			}
			if f.Changed("edge") {
				req.AdminEdge = &edge
			}
			if f.Changed("link-type") {
				req.LinkType = &linkType
			}
			if f.Changed("path-cost") {
				req.PathCost = &pathCost
			}
			if f.Changed("priority") {
				req.Priority = &priority
			}
			if f.Changed("root-guard") {
				req.RootGuard = &rootGuard
			}
			if req.Enabled == nil && req.AdminEdge == nil && req.LinkType == nil &&
				req.PathCost == nil && req.Priority == nil && req.RootGuard == nil {
				return errNothingToSet
			}

			p, err := client.SetPortConfig(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("set port %s: %w", args[0], err)
			}
			out, err := formatPort(p, outputFormat)
			return writeOut(cmd, out, err)
		},
	}

	f := cmd.Flags()
	f.Uint16Var(&mstid, "mstid", 0, "tree for --path-cost and --priority (0 is the CIST)")
	f.BoolVar(&enabled, "enabled", true, "administrative state")
	f.BoolVar(&edge, "edge", false, "admin edge port")
	f.StringVar(&linkType, "link-type", "", "link type: auto, point_to_point, shared")
	f.Uint32Var(&pathCost, "path-cost", 0, "port path cost (1..200000000)")
	f.Uint8Var(&priority, "priority", 0, "port priority (multiple of 16)")
	f.BoolVar(&rootGuard, "root-guard", false, "restricted role")

	return cmd
}

func portClearStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-stats [port]",
		Short: "Reset BPDU counters for one port or all ports",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sel server.PortSelector
			target := "all ports"
			if len(args) == 1 {
				sel = parsePortSelector(args[0])
				target = "port " + args[0]
			}
			if err := client.ClearStats(cmd.Context(), sel); err != nil {
				return fmt.Errorf("clear stats: %w", err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Counters cleared for %s.\n", target)
			return err
		},
	}
}
