// Package fs implements a chunk store on the local filesystem.
//
// Chunks of a job live under <root>/<job_id>/<index>.chunk. Writes go to a
// temporary file in the same directory and are renamed into place, so a
// reader never observes a partially written chunk.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/iox"
	"github.com/pithecene-io/joblog/types"
)

const chunkExt = ".chunk"

// Backend is a chunk.Backend over a directory tree.
type Backend struct {
	root string
}

// New creates a filesystem chunk store rooted at root, creating it if needed.
func New(root string) (*Backend, error) {
	if root == "" {
		return nil, errors.New("fs chunk store requires a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fs chunk store: create root: %w", err)
	}
	return &Backend{root: root}, nil
}

func (b *Backend) jobDir(job types.JobID) string {
	return filepath.Join(b.root, job.String())
}

func (b *Backend) chunkPath(job types.JobID, index uint32) string {
	return filepath.Join(b.jobDir(job), fmt.Sprintf("%010d%s", index, chunkExt))
}

// Get implements chunk.Backend.
func (b *Backend) Get(_ context.Context, job types.JobID, index uint32) (*types.Chunk, error) {
	data, err := os.ReadFile(b.chunkPath(job, index))
	if errors.Is(err, os.ErrNotExist) {
		return nil, chunk.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fs: read chunk %d/%d: %w", job, index, err)
	}
	return &types.Chunk{Index: index, Data: data}, nil
}

// Put implements chunk.Backend.
func (b *Backend) Put(_ context.Context, job types.JobID, index uint32, data []byte) error {
	if err := writeAtomic(b.chunkPath(job, index), data); err != nil {
		return fmt.Errorf("fs: put chunk %d/%d: %w", job, index, err)
	}
	return nil
}

// writeAtomic writes data to a temp file next to path and renames it into
// place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		iox.DiscardClose(tmp)
		_ = os.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete implements chunk.Backend.
func (b *Backend) Delete(_ context.Context, job types.JobID, index uint32) error {
	err := os.Remove(b.chunkPath(job, index))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fs: delete chunk %d/%d: %w", job, index, err)
	}
	return nil
}

// DeleteAll implements chunk.Backend.
func (b *Backend) DeleteAll(_ context.Context, job types.JobID) error {
	if err := os.RemoveAll(b.jobDir(job)); err != nil {
		return fmt.Errorf("fs: delete chunks of %d: %w", job, err)
	}
	return nil
}

// LastIndex implements chunk.Backend.
func (b *Backend) LastIndex(_ context.Context, job types.JobID) (uint32, bool, error) {
	entries, err := os.ReadDir(b.jobDir(job))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("fs: list chunks of %d: %w", job, err)
	}

	var (
		last  uint64
		found bool
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, chunkExt) {
			continue
		}
		idx, err := strconv.ParseUint(strings.TrimSuffix(name, chunkExt), 10, 32)
		if err != nil {
			continue
		}
		if !found || idx > last {
			last = idx
			found = true
		}
	}
	return uint32(last), found, nil
}

// Verify Backend implements chunk.Backend.
var _ chunk.Backend = (*Backend)(nil)
