//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"strconv"
)

// JobID identifies a CI job. Job IDs are positive.
type JobID int64

// String returns the decimal form used in storage keys and paths.
func (id JobID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseJobID parses a decimal job ID.
func ParseJobID(s string) (JobID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return JobID(n), nil
}

// JobRef is the minimal job identity carried through the trace core.
// The job/build domain model itself lives outside this module.
type JobRef struct {
	ID        JobID
	ProjectID int64
}

// Job is the view of a CI job that the trace core needs from the
// surrounding system.
type Job struct {
	JobRef
	// Complete is true once the job reached a terminal state and will not
	// write any more trace.
	Complete bool
	// TraceArtifact is set once the job owns an archived trace artifact.
	TraceArtifact *Artifact
}
