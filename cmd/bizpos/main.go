// Command bizpos runs an offline-first point of sale terminal.
package main

import (
	"fmt"
	"os"

	"github.com/airoxlab/bizposcash-sub002/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
