// Command passvault operates a passkey smart-wallet custody engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/passvault/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
