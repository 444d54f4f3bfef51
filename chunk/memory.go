package chunk

import (
	"context"
	"sync"

	"github.com/pithecene-io/joblog/types"
)

// Memory is an in-process Backend. Thread-safe.
type Memory struct {
	mu   sync.RWMutex
	jobs map[types.JobID]map[uint32][]byte

	// Puts counts Put calls, for tests asserting write amplification.
	Puts int
	// Gets counts Get calls, for tests asserting minimal chunk loads.
	Gets int
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[types.JobID]map[uint32][]byte)}
}

// Get implements Backend.
func (m *Memory) Get(_ context.Context, job types.JobID, index uint32) (*types.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Gets++
	data, ok := m.jobs[job][index]
	if !ok {
		return nil, ErrNotFound
	}
	return &types.Chunk{Index: index, Data: append([]byte(nil), data...)}, nil
}

// Put implements Backend.
func (m *Memory) Put(_ context.Context, job types.JobID, index uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Puts++
	chunks, ok := m.jobs[job]
	if !ok {
		chunks = make(map[uint32][]byte)
		m.jobs[job] = chunks
	}
	chunks[index] = append([]byte(nil), data...)
	return nil
}

// Delete implements Backend.
func (m *Memory) Delete(_ context.Context, job types.JobID, index uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.jobs[job], index)
	return nil
}

// DeleteAll implements Backend.
func (m *Memory) DeleteAll(_ context.Context, job types.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.jobs, job)
	return nil
}

// LastIndex implements Backend.
func (m *Memory) LastIndex(_ context.Context, job types.JobID) (uint32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		last  uint32
		found bool
	)
	for idx := range m.jobs[job] {
		if !found || idx > last {
			last = idx
			found = true
		}
	}
	return last, found, nil
}

// Len returns the number of chunks stored for job.
func (m *Memory) Len(job types.JobID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs[job])
}

// Verify Memory implements Backend.
var _ Backend = (*Memory)(nil)
