// File: cmd/hioload-httpd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-httpd runs the embedded server as a standalone process.

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "hioload-httpd",
		Usage:   "single-loop embedded HTTP server",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			serveCommand(),
			configCommand(),
		},
	}
}
