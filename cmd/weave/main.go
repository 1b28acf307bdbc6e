// Command weave merges, stores and compacts replicated document updates.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/weave/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
