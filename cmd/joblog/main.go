// Command joblog stores, reads and archives CI job traces.
//
//	joblog <command> [options]
//
// Exit status is 0 on success and 1 when a command fails, a trace does not
// verify, or a migration leaves a path behind. Commands may pick another
// status through cli.Exit.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/joblog/cli/cmd"
	"github.com/pithecene-io/joblog/types"
)

// commit is set via -ldflags "-X main.commit=...".
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:    "joblog",
		Usage:   "CI job trace storage and archival",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: func(_ *cli.Context, err error) {
			if err != nil {
				os.Exit(report(os.Stderr, err))
			}
		},
		Commands: cmd.Commands(commit),
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(report(os.Stderr, err))
	}
}

// report prints err to w and returns the process exit status. Errors made
// with cli.Exit keep their status; an empty cli.Exit message prints
// nothing since the command already rendered its result.
func report(w io.Writer, err error) int {
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 1
	}
	code := ec.ExitCode()
	if msg := strings.TrimSpace(err.Error()); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
		fmt.Fprintln(w, msg)
	}
	return code
}
