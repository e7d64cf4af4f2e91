package main

import (
	"context"
	"os"

	"cowfs/internal/cli/commands"
)

// Set by goreleaser ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersion(version, commit, date)
	// fang prints the error itself
	if err := commands.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
