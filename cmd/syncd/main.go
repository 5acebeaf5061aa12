package main

import (
	"os"

	"github.com/gymdesk/gymsync/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
