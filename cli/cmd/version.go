package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/joblog/cli/render"
	"github.com/pithecene-io/joblog/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCommand returns the version command.
// It must not open any storage.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		return r.Render(VersionResponse{
			Version: types.Version,
			Commit:  commit,
		})
	}
}

// Commands returns every joblog command.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		WriteCommand(),
		RawCommand(),
		HTMLCommand(),
		SectionsCommand(),
		CoverageCommand(),
		VerifyCommand(),
		StatusCommand(),
		ArchiveCommand(),
		RetryCommand(),
		WorkerCommand(),
		MigrateCommand(),
		EraseCommand(),
		VersionCommand(commit),
	}
}
