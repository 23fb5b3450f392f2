package main

import (
	"os"

	"github.com/conduit-lang/fabrique/internal/cli/commands"
)

func main() {
	// Execute reports the error itself
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
