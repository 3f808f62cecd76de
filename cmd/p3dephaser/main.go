package main

import (
	"fmt"
	"os"

	"github.com/darktohka/p3dephaser/internal/cli"
)

// main is the entrypoint. It delegates argument parsing and command
// handling to the cli package.
func main() {
	if err := cli.RunCLI(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
