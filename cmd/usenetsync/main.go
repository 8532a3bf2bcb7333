package main

import (
	"fmt"
	"os"

	"github.com/usenetsync/usenetsync/cmd/usenetsync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}
