// Package artifact stores archived traces.
//
// A Store turns a byte stream into a permanent Artifact. Stores backed by
// object storage may also report the provider's content checksum
// (RemoteChecksummer) and hand out time-limited URLs for range reads
// (URLSigner).
package artifact

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pithecene-io/joblog/types"
)

// TraceFileName is the file name of every archived trace.
const TraceFileName = "job.log"

// Store persists trace artifacts.
type Store interface {
	// Create stores the bytes of r as the trace artifact of job. size is a
	// hint and may be -1.
	Create(ctx context.Context, job types.JobRef, r io.Reader, size int64) (*types.Artifact, error)

	// Open returns a seekable reader over an artifact.
	Open(ctx context.Context, a *types.Artifact) (ReadSeekCloser, error)

	// Delete removes an artifact.
	Delete(ctx context.Context, a *types.Artifact) error

	// Location reports where artifacts of this store live.
	Location() types.ArtifactLocation
}

// ReadSeekCloser is a seekable artifact reader.
type ReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

// RemoteChecksummer reports the MD5 of an artifact as computed by the
// object store. ok is false when the provider does not expose one.
type RemoteChecksummer interface {
	RemoteChecksum(ctx context.Context, a *types.Artifact) (md5hex string, ok bool, err error)
}

// URLSigner issues URLs that allow ranged GETs of an artifact.
type URLSigner interface {
	SignedURL(ctx context.Context, a *types.Artifact, ttl time.Duration) (string, error)
}

// Key returns the storage key of an artifact: <project>/<job>/<id>/job.log.
func Key(job types.JobRef, id string) string {
	return fmt.Sprintf("%d/%s/%s/%s", job.ProjectID, job.ID, id, TraceFileName)
}

// sectionCloser adapts an io.SectionReader to ReadSeekCloser.
type sectionCloser struct {
	*io.SectionReader
	close func() error
}

func (s sectionCloser) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
