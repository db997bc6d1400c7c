// Command pondoc serves and inspects reactive PON documents.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pondoc/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
