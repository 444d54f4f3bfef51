// Package cmd provides CLI commands for the joblog binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// ConfigFlag points at a joblog.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to joblog.yaml",
		EnvVars: []string{"JOBLOG_CONFIG"},
	}

	// LogLevelFlag overrides log_level from the config file.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}

	// JobFlag selects the job whose trace a command works on.
	JobFlag = &cli.Int64Flag{
		Name:     "job",
		Aliases:  []string{"j"},
		Usage:    "Job ID",
		Required: true,
	}

	// ProjectFlag is the project owning the job. Artifact keys include it.
	ProjectFlag = &cli.Int64Flag{
		Name:    "project",
		Aliases: []string{"p"},
		Usage:   "Project ID",
	}
)

// ReadOnlyFlags returns the output flags shared by every command.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// StorageFlags returns the flags of commands that open trace storage.
func StorageFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{ConfigFlag, LogLevelFlag}
	flags = append(flags, ReadOnlyFlags()...)
	return append(flags, extra...)
}

// TraceFlags returns the flags of commands that work on one job trace.
func TraceFlags(extra ...cli.Flag) []cli.Flag {
	return StorageFlags(append([]cli.Flag{JobFlag}, extra...)...)
}
