// mstpctl is the command-line client for the mstpd daemon.
package main

import "github.com/dantte-lp/gomstp/cmd/mstpctl/commands"

func main() {
	commands.Execute()
}
