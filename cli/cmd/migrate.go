package cmd

import (
	"io/fs"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/joblog/cli/render"
	"github.com/pithecene-io/joblog/migrate"
	"github.com/pithecene-io/joblog/types"
)

// Migration outcomes.
const (
	migrationMigrated    = "migrated"
	migrationQuarantined = "quarantined"
	migrationFailed      = "failed"
)

// MigrateResult is one row of the migrate command output.
type MigrateResult struct {
	Path     string       `json:"path"`
	JobID    types.JobID  `json:"job_id,omitempty"`
	Status   string       `json:"status"`
	Size     render.Bytes `json:"size"`
	Checksum string       `json:"checksum,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// MigrateCommand returns the migrate command.
// Each argument is a legacy trace path relative to --root. Without
// arguments every legacy trace under --root is migrated. Any failure exits
// with status 1 after all paths were processed.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:      "migrate",
		Usage:     "Import legacy trace files as trace artifacts",
		ArgsUsage: "[<yyyy_mm/project/job.log>...]",
		Flags: StorageFlags(
			&cli.StringFlag{
				Name:     "root",
				Usage:    "Directory holding the legacy traces",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "jobs",
				Usage:    "YAML file listing the jobs and deleted projects",
				Required: true,
			},
		),
		Action: withEnv(migrateAction),
	}
}

func migrateAction(c *cli.Context, e *env) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	jobs, err := migrate.LoadJobs(c.String("jobs"))
	if err != nil {
		return err
	}
	root := c.String("root")

	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths, err = legacyTraces(root)
		if err != nil {
			return err
		}
	}

	m := migrate.New(root, jobs, e.archiver, e.metrics, e.logger)
	results := make([]MigrateResult, 0, len(paths))
	failed := false
	for _, p := range paths {
		row := MigrateResult{Path: p}
		res, err := m.Migrate(c.Context, p)
		switch {
		case err != nil:
			row.Status = migrationFailed
			row.Error = err.Error()
			failed = true
		case res.Quarantined:
			row.JobID = res.Path.JobID
			row.Status = migrationQuarantined
		default:
			row.JobID = res.Path.JobID
			row.Status = migrationMigrated
			if meta := res.Metadata; meta != nil {
				row.Checksum = meta.Checksum
				if meta.Artifact != nil {
					row.Size = render.Bytes(meta.Artifact.Size)
				}
			}
		}
		results = append(results, row)
	}

	if err := r.Render(results); err != nil {
		return err
	}
	if failed {
		return cli.Exit("", 1)
	}
	return nil
}

// legacyTraces lists the legacy trace files under root, skipping the
// migrated and quarantine directories.
func legacyTraces(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name == migrate.MigratedDir || name == migrate.NotFoundDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, err := migrate.ParseLegacyPath(rel); err != nil {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	return out, err
}
