package migrate

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/pithecene-io/joblog/types"
)

// Marker directories under the legacy root.
const (
	// MigratedDir holds legacy traces that were migrated.
	MigratedDir = "_migrated"
	// NotFoundDir holds legacy traces whose job or project no longer exists.
	NotFoundDir = "_not_found"
)

var legacyPathRE = regexp.MustCompile(`^(\d{4})_(\d{2})/(\d+)/(\d+)\.log$`)

// LegacyPath is the structured form of a legacy trace path
// yyyy_mm/project_id/job_id.log, relative to the legacy root.
type LegacyPath struct {
	Year      int
	Month     int
	ProjectID int64
	JobID     types.JobID
}

// ParseLegacyPath parses a slash-separated relative legacy path. Paths
// inside a marker directory are rejected.
func ParseLegacyPath(rel string) (LegacyPath, error) {
	rel = strings.TrimPrefix(path.Clean(strings.ReplaceAll(rel, "\\", "/")), "./")
	first, _, _ := strings.Cut(rel, "/")
	if first == MigratedDir || first == NotFoundDir {
		return LegacyPath{}, fmt.Errorf("%w: %q is inside %s", ErrInvalidTracePathFormat, rel, first)
	}

	m := legacyPathRE.FindStringSubmatch(rel)
	if m == nil {
		return LegacyPath{}, fmt.Errorf("%w: %q", ErrInvalidTracePathFormat, rel)
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return LegacyPath{}, fmt.Errorf("%w: month %02d in %q", ErrInvalidTracePathFormat, month, rel)
	}
	project, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil || project <= 0 {
		return LegacyPath{}, fmt.Errorf("%w: project id in %q", ErrInvalidTracePathFormat, rel)
	}
	job, err := types.ParseJobID(m[4])
	if err != nil {
		return LegacyPath{}, fmt.Errorf("%w: %v", ErrInvalidTracePathFormat, err)
	}

	return LegacyPath{Year: year, Month: month, ProjectID: project, JobID: job}, nil
}

// String formats the path as yyyy_mm/project_id/job_id.log.
func (p LegacyPath) String() string {
	return fmt.Sprintf("%04d_%02d/%d/%s.log", p.Year, p.Month, p.ProjectID, p.JobID)
}
