// Command offsync is the command line front end of the offline sync core.
package main

import (
	"fmt"
	"os"

	"github.com/Francklinok/EasyRent-sub004/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
