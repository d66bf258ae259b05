// Package main is the entry point for the forkpool CLI.
package main

import (
	"fmt"
	"os"

	"github.com/zjrosen/forkpool/cmd"
	"github.com/zjrosen/forkpool/internal/proc"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A re-executed worker runs its entry here and never returns.
	proc.Init()

	versionString := fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	cmd.SetVersion(versionString)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
