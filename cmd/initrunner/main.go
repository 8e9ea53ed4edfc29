// Command initrunner runs the compose orchestrator CLI: start and validate
// service graphs, and inspect the audit log they write to.
package main

import (
	"fmt"
	"os"

	"initrunner/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
