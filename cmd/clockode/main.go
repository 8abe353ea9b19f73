package main

import (
	"os"

	"github.com/fahmaliyi/clockode/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
