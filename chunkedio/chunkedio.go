// Package chunkedio presents a job's stored trace chunks as one seekable,
// readable, writable and truncatable file.
//
// At most one chunk payload is held in memory at a time. Every mutation is
// a whole-chunk Put, so readers never observe a torn chunk. Writers must be
// serialized by the caller; concurrent readers are safe as long as each one
// owns its own ChunkedIO.
package chunkedio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/types"
)

// ChunkedIO is a virtual file over the chunks of one job.
//
// The size is computed once from the backend and then maintained locally,
// so a ChunkedIO does not observe bytes appended by other writers after its
// first size lookup.
type ChunkedIO struct {
	ctx       context.Context
	backend   chunk.Backend
	job       types.JobID
	chunkSize int64

	pos       int64
	size      int64
	sizeKnown bool

	// Single chunk buffer; bufIndex is -1 when empty.
	buf      []byte
	bufIndex int64
}

// Option configures a ChunkedIO.
type Option func(*ChunkedIO)

// WithChunkSize overrides the fixed chunk size.
func WithChunkSize(n int) Option {
	return func(c *ChunkedIO) {
		if n > 0 {
			c.chunkSize = int64(n)
		}
	}
}

// New opens the trace of job on backend. The context is used for every
// backend call made through the returned file.
func New(ctx context.Context, backend chunk.Backend, job types.JobID, opts ...Option) *ChunkedIO {
	c := &ChunkedIO{
		ctx:       ctx,
		backend:   backend,
		job:       job,
		chunkSize: types.DefaultChunkSize,
		bufIndex:  -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Job returns the job whose trace this file exposes.
func (c *ChunkedIO) Job() types.JobID { return c.job }

// ChunkSize returns the fixed chunk size.
func (c *ChunkedIO) ChunkSize() int { return int(c.chunkSize) }

// Size returns the trace size in bytes.
func (c *ChunkedIO) Size() (int64, error) {
	if c.sizeKnown {
		return c.size, nil
	}

	last, ok, err := c.backend.LastIndex(c.ctx, c.job)
	if err != nil {
		return 0, fmt.Errorf("trace size: %w", err)
	}
	if !ok {
		c.size, c.sizeKnown = 0, true
		return 0, nil
	}

	data, err := c.chunkAt(int64(last))
	if err != nil {
		return 0, fmt.Errorf("trace size: %w", err)
	}
	c.size = int64(last)*c.chunkSize + int64(len(data))
	c.sizeKnown = true
	return c.size, nil
}

// Tell returns the current position.
func (c *ChunkedIO) Tell() int64 { return c.pos }

// EOF reports whether the position is at the end of the trace.
func (c *ChunkedIO) EOF() (bool, error) {
	size, err := c.Size()
	if err != nil {
		return false, err
	}
	return c.pos >= size, nil
}

// Seek implements io.Seeker. Positions outside [0, size] fail with a
// *PositionError and leave the cursor unchanged.
func (c *ChunkedIO) Seek(offset int64, whence int) (int64, error) {
	size, err := c.Size()
	if err != nil {
		return c.pos, err
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = c.pos + offset
	case io.SeekEnd:
		abs = size + offset
	default:
		return c.pos, fmt.Errorf("invalid whence: %d", whence)
	}

	if abs < 0 || abs > size {
		return c.pos, &PositionError{Offset: abs, Size: size}
	}
	c.pos = abs
	return abs, nil
}

// Read implements io.Reader. Only the chunks intersecting the requested
// range are loaded.
func (c *ChunkedIO) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	size, err := c.Size()
	if err != nil {
		return 0, err
	}
	if c.pos >= size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && c.pos < size {
		idx, off := c.pos/c.chunkSize, c.pos%c.chunkSize
		data, err := c.chunkAt(idx)
		if err != nil {
			return n, err
		}
		avail := min(int64(len(data))-off, size-c.pos)
		if avail <= 0 {
			return n, fmt.Errorf("chunk %d shorter than expected: %w", idx, ErrMissingChunk)
		}
		m := copy(p[n:], data[off:off+avail])
		n += m
		c.pos += int64(m)
	}
	return n, nil
}

// ReadN reads up to length bytes from the current position. A negative
// length reads to the end of the trace. At end of file ReadN returns
// io.EOF for a positive length and an empty slice otherwise.
func (c *ChunkedIO) ReadN(length int64) ([]byte, error) {
	size, err := c.Size()
	if err != nil {
		return nil, err
	}

	remaining := size - c.pos
	if length < 0 || length > remaining {
		if length > 0 && remaining == 0 {
			return nil, io.EOF
		}
		length = remaining
	}
	if length == 0 {
		return []byte{}, nil
	}

	out := make([]byte, length)
	n, err := io.ReadFull(c, out)
	if err != nil {
		return out[:n], err
	}
	return out, nil
}

// Write implements io.Writer. Writing before the end of the trace
// overwrites in place and keeps the bytes after the written region.
// A new chunk is allocated exactly when the current one is full.
func (c *ChunkedIO) Write(p []byte) (int, error) {
	size, err := c.Size()
	if err != nil {
		return 0, err
	}

	written := 0
	for written < len(p) {
		idx, off := c.pos/c.chunkSize, c.pos%c.chunkSize

		var data []byte
		if !(off == 0 && c.pos == size) {
			data, err = c.chunkAt(idx)
			if err != nil {
				return written, err
			}
		}

		n := int(min(c.chunkSize-off, int64(len(p)-written)))
		updated := make([]byte, max(int64(len(data)), off+int64(n)))
		copy(updated, data)
		copy(updated[off:], p[written:written+n])

		if err := c.backend.Put(c.ctx, c.job, uint32(idx), updated); err != nil {
			return written, fmt.Errorf("write chunk %d: %w", idx, err)
		}
		c.buf, c.bufIndex = updated, idx

		written += n
		c.pos += int64(n)
		if c.pos > size {
			size = c.pos
			c.size = size
		}
	}
	return written, nil
}

// Truncate shrinks the trace to size bytes. Growing is a logic error.
// The cursor is moved back to size if it was past it.
func (c *ChunkedIO) Truncate(size int64) error {
	current, err := c.Size()
	if err != nil {
		return err
	}
	if size < 0 {
		return &PositionError{Offset: size, Size: current}
	}
	if size > current {
		return fmt.Errorf("truncate to %d, size %d: %w", size, current, ErrGrowTruncate)
	}
	if size == current {
		return nil
	}

	// Indices [0, keep) survive; drop the rest from the top down.
	keep := (size + c.chunkSize - 1) / c.chunkSize
	for idx := (current - 1) / c.chunkSize; idx >= keep; idx-- {
		if err := c.backend.Delete(c.ctx, c.job, uint32(idx)); err != nil {
			return fmt.Errorf("truncate chunk %d: %w", idx, err)
		}
		if c.bufIndex == idx {
			c.buf, c.bufIndex = nil, -1
		}
		// Keep size consistent with what is stored if a later step fails.
		c.size = min(c.size, idx*c.chunkSize)
	}

	if rem := size % c.chunkSize; rem != 0 {
		idx := size / c.chunkSize
		data, err := c.chunkAt(idx)
		if err != nil {
			return err
		}
		shrunk := append([]byte(nil), data[:rem]...)
		if err := c.backend.Put(c.ctx, c.job, uint32(idx), shrunk); err != nil {
			return fmt.Errorf("truncate chunk %d: %w", idx, err)
		}
		c.buf, c.bufIndex = shrunk, idx
	}

	c.size = size
	c.pos = min(c.pos, size)
	return nil
}

// ReadLine returns the next line including its trailing newline. The last
// line of a trace may lack one. At end of file it returns io.EOF.
func (c *ChunkedIO) ReadLine() ([]byte, error) {
	size, err := c.Size()
	if err != nil {
		return nil, err
	}
	if c.pos >= size {
		return nil, io.EOF
	}

	var line []byte
	for c.pos < size {
		idx, off := c.pos/c.chunkSize, c.pos%c.chunkSize
		data, err := c.chunkAt(idx)
		if err != nil {
			return line, err
		}
		end := min(int64(len(data)), off+size-c.pos)
		if end <= off {
			return line, fmt.Errorf("chunk %d shorter than expected: %w", idx, ErrMissingChunk)
		}
		avail := data[off:end]

		if i := bytes.IndexByte(avail, '\n'); i >= 0 {
			line = append(line, avail[:i+1]...)
			c.pos += int64(i + 1)
			return line, nil
		}
		line = append(line, avail...)
		c.pos += int64(len(avail))
	}
	return line, nil
}

// EachLine calls fn for every line from the current position to the end.
// Iteration stops at the first error returned by fn.
func (c *ChunkedIO) EachLine(fn func(line []byte) error) error {
	for {
		line, err := c.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(line); err != nil {
			return err
		}
	}
}

// Destroy deletes every chunk of the trace. Irreversible.
func (c *ChunkedIO) Destroy() error {
	if err := c.backend.DeleteAll(c.ctx, c.job); err != nil {
		return fmt.Errorf("destroy trace of job %d: %w", c.job, err)
	}
	c.pos, c.size, c.sizeKnown = 0, 0, true
	c.buf, c.bufIndex = nil, -1
	return nil
}

// Close releases the chunk buffer. The trace itself is unaffected.
func (c *ChunkedIO) Close() error {
	c.buf, c.bufIndex = nil, -1
	return nil
}

// chunkAt returns the payload of chunk idx, reusing the buffer when it
// already holds that chunk.
func (c *ChunkedIO) chunkAt(idx int64) ([]byte, error) {
	if c.bufIndex == idx {
		return c.buf, nil
	}
	ch, err := c.backend.Get(c.ctx, c.job, uint32(idx))
	if errors.Is(err, chunk.ErrNotFound) {
		return nil, fmt.Errorf("job %d chunk %d: %w", c.job, idx, ErrMissingChunk)
	}
	if err != nil {
		return nil, fmt.Errorf("job %d chunk %d: %w", c.job, idx, err)
	}
	c.buf, c.bufIndex = ch.Data, idx
	return ch.Data, nil
}
