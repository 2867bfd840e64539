// Package main is the entry point for the pgtunnel binary.
//
// pgtunnel opens SSH tunnels for database connections based on configurable
// matching rules. When invoked without arguments it launches an interactive
// TUI dashboard; subcommands (up, resolve, events, doctor) run the
// corresponding CLI operation and exit.
//
// Usage:
//
//	pgtunnel                 # launch the TUI dashboard
//	pgtunnel up orders       # open a tunnel for the configured database
//	pgtunnel resolve <host>  # show which rule and bastion would apply
package main

import (
	"fmt"
	"os"

	"pgtunnel/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()

	// Any error returned by a RunE handler is printed to stderr and the
	// process exits non-zero. Tunnel establishment failures propagate here;
	// a connection is never silently attempted without its tunnel.
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
