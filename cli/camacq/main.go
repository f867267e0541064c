// Package main is the camacq command itself.
package main

import (
	"os"

	"go.viam.com/camacq/cli"
	"go.viam.com/camacq/logging"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.Global().Error(err)
		os.Exit(1)
	}
}
