package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive mstpctl shell",
		Long: "Launches an interactive shell with completion and history that accepts\n" +
			"mstpctl subcommands. Type 'exit' or press Ctrl+D to leave.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := newShell()
			fmt.Fprintf(cmd.OutOrStdout(), "mstpctl interactive shell connected to %s. Type 'help' for commands.\n\n", serverAddr)
			if err := app.Start(); err != nil {
				return fmt.Errorf("run shell: %w", err)
			}
			return nil
		},
	}
}

// newShell builds the console. The command tree is regenerated for every
// line so flag values never carry over between invocations.
func newShell() *console.Console {
	app := console.New("mstpctl")

	menu := app.ActiveMenu()
	menu.SetCommands(shellCommands)
	menu.Prompt().Primary = func() string {
		return "mstpctl(" + serverAddr + ")> "
	}
	menu.AddInterrupt(io.EOF, func(_ *console.Console) {
		os.Exit(0)
	})

	return app
}

// shellCommands returns the root tree without the shell command itself and
// with an exit command added.
func shellCommands() *cobra.Command {
	root := newRootCmd()
	root.CompletionOptions.DisableDefaultCmd = true

	for _, c := range root.Commands() {
		if c.Name() == "shell" {
			root.RemoveCommand(c)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:     "exit",
		Aliases: []string{"quit"},
		Short:   "Leave the interactive shell",
		Args:    cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			os.Exit(0)
		},
	})

	return root
}
