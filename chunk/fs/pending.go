package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/types"
)

// pendingDir holds pending states apart from job directories so DeleteAll
// on the chunks leaves them alone.
const pendingDir = "_pending"

// Pending is a chunk.PendingStore keeping one msgpack file per job.
type Pending struct {
	root string
}

// NewPending creates a pending store under root.
func NewPending(root string) (*Pending, error) {
	dir := filepath.Join(root, pendingDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fs pending store: %w", err)
	}
	return &Pending{root: dir}, nil
}

func (p *Pending) path(job types.JobID) string {
	return filepath.Join(p.root, job.String()+".msgpack")
}

// Get implements chunk.PendingStore.
func (p *Pending) Get(_ context.Context, job types.JobID) (*types.PendingState, bool, error) {
	data, err := os.ReadFile(p.path(job))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fs: read pending state of %d: %w", job, err)
	}
	var st types.PendingState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return nil, false, fmt.Errorf("fs: decode pending state of %d: %w", job, err)
	}
	return &st, true, nil
}

// Set implements chunk.PendingStore.
func (p *Pending) Set(_ context.Context, job types.JobID, state types.PendingState) error {
	data, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("fs: encode pending state: %w", err)
	}
	if err := writeAtomic(p.path(job), data); err != nil {
		return fmt.Errorf("fs: set pending state of %d: %w", job, err)
	}
	return nil
}

// Delete implements chunk.PendingStore.
func (p *Pending) Delete(_ context.Context, job types.JobID) error {
	if err := os.Remove(p.path(job)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fs: delete pending state of %d: %w", job, err)
	}
	return nil
}

var _ chunk.PendingStore = (*Pending)(nil)
