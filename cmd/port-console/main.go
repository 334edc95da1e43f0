// Package main is the entry point for the port-console binary.
//
// port-console is an operator console for port-forwarding servers. It keeps a
// local store of servers, ports, forward rules and port users in sync with the
// management API, and offers a TUI dashboard (Bubble Tea) and a CLI (Cobra).
//
// When invoked without arguments, it launches the interactive TUI dashboard.
// When invoked with subcommands (e.g. "servers", "rule set"), it runs the
// corresponding CLI operation and exits.
//
// Usage:
//
//	port-console                          # launch the TUI dashboard
//	port-console servers                  # list servers
//	port-console rule set 1 2 --address 10.0.0.5 --port 80
//	port-console dev-server               # run a local in-memory API
//
// The CLI is constructed in internal/cli and the TUI in internal/ui.
package main

import (
	"fmt"
	"os"

	"github.com/treykane/port-console/internal/cli"
)

func main() {
	// Build the root Cobra command tree; with no subcommand it launches the
	// dashboard.
	cmd := cli.NewRootCommand()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
