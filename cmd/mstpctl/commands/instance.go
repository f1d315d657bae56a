package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"msti"},
		Short:   "Inspect and configure spanning tree instances",
	}

	cmd.AddCommand(instanceListCmd())
	cmd.AddCommand(instanceShowCmd())
	cmd.AddCommand(instanceVLANsCmd())
	cmd.AddCommand(instanceDeleteCmd())

	return cmd
}

func parseMSTID(arg string) (uint16, error) {
	n, err := strconv.ParseUint(arg, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse instance id %q: %w", arg, err)
	}
	return uint16(n), nil
}

func instanceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the CIST and all MSTIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			insts, err := client.ListInstances(cmd.Context())
			if err != nil {
				return fmt.Errorf("list instances: %w", err)
			}
			out, err := formatInstances(insts, outputFormat)
			return writeOut(cmd, out, err)
		},
	}
}

func instanceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mstid>",
		Short: "Show one tree and its member ports (0 is the CIST)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mstid, err := parseMSTID(args[0])
			if err != nil {
				return err
			}
			in, err := client.GetInstance(cmd.Context(), mstid)
			if err != nil {
				return fmt.Errorf("get instance %d: %w", mstid, err)
			}
			out, err := formatInstance(in, outputFormat)
			return writeOut(cmd, out, err)
		},
	}
}

func instanceVLANsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vlans <mstid> <ranges>",
		Short: "Map VLANs (e.g. 10-20,30) to an MSTI, creating it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mstid, err := parseMSTID(args[0])
			if err != nil {
				return err
			}
			in, err := client.SetInstanceVLANs(cmd.Context(), mstid, args[1])
			if err != nil {
				return fmt.Errorf("set instance %d vlans: %w", mstid, err)
			}
			if in == nil {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Instance %d removed.\n", mstid)
				return err
			}
			out, err := formatInstance(in, outputFormat)
			return writeOut(cmd, out, err)
		},
	}
}

func instanceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <mstid>",
		Short: "Remove an MSTI, returning its VLANs to the CIST",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mstid, err := parseMSTID(args[0])
			if err != nil {
				return err
			}
			if _, err := client.SetInstanceVLANs(cmd.Context(), mstid, ""); err != nil {
				return fmt.Errorf("delete instance %d: %w", mstid, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Instance %d removed.\n", mstid)
			return err
		},
	}
}
