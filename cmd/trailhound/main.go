// Package main is the entry point for the trailhound binary.
package main

import (
	"fmt"
	"os"

	"github.com/trailhound/trailhound/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Subcommands silence cobra's own error printing, so report here
		// and exit with the code the failure carries.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
