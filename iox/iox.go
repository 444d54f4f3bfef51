// Package iox holds small I/O helpers shared by the storage packages.
package iox

import "io"

// DiscardClose closes c, ignoring the error. Meant for deferred cleanup of
// readers whose close failure changes nothing for the caller.
func DiscardClose(c io.Closer) { _ = c.Close() }

// DiscardErr runs fn and drops its error.
func DiscardErr(fn func() error) { _ = fn() }

// CountingReader reports how many bytes passed through it. Archive uploads
// use it to learn the artifact size without buffering the trace, and to
// tell a failed source read apart from a failed write.
type CountingReader struct {
	r   io.Reader
	n   int64
	err error
}

// NewCountingReader returns a CountingReader over r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

// Read implements io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF && c.err == nil {
		c.err = err
	}
	return n, err
}

// N is the byte count so far.
func (c *CountingReader) N() int64 { return c.n }

// Err is the first read error other than io.EOF, if any.
func (c *CountingReader) Err() error { return c.err }
