package chunk

import (
	"context"
	"sync"

	"github.com/pithecene-io/joblog/types"
)

// PendingStore keeps the ingest path's PendingState per job.
type PendingStore interface {
	// Get returns the pending state of job. ok is false when none exists.
	Get(ctx context.Context, job types.JobID) (state *types.PendingState, ok bool, err error)
	Set(ctx context.Context, job types.JobID, state types.PendingState) error
	Delete(ctx context.Context, job types.JobID) error
}

// MemoryPending is an in-process PendingStore.
type MemoryPending struct {
	mu     sync.Mutex
	states map[types.JobID]types.PendingState
}

// NewMemoryPending creates an empty pending store.
func NewMemoryPending() *MemoryPending {
	return &MemoryPending{states: make(map[types.JobID]types.PendingState)}
}

// Get implements PendingStore.
func (m *MemoryPending) Get(_ context.Context, job types.JobID) (*types.PendingState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[job]
	if !ok {
		return nil, false, nil
	}
	return &st, true, nil
}

// Set implements PendingStore.
func (m *MemoryPending) Set(_ context.Context, job types.JobID, state types.PendingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[job] = state
	return nil
}

// Delete implements PendingStore.
func (m *MemoryPending) Delete(_ context.Context, job types.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, job)
	return nil
}

var _ PendingStore = (*MemoryPending)(nil)
