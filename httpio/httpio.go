// Package httpio reads a remote trace through HTTP range requests.
//
// HttpIO is a read-only virtual file: one window of BufferSize bytes is kept
// in memory and every read outside it issues a single ranged GET. Servers
// that ignore Range and answer 200 with the whole object are supported by
// slicing the window out of the body locally.
package httpio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/pithecene-io/joblog/iox"
)

// BufferSize is the default window fetched per request.
const BufferSize = 128 * 1024

var (
	// ErrPosition is the sentinel for seeks outside [0, size].
	ErrPosition = errors.New("position out of range")

	// ErrNotImplemented is returned by every mutating operation.
	ErrNotImplemented = errors.New("not implemented: remote traces are read-only")
)

// PositionError reports an offset outside the remote object.
type PositionError struct {
	Offset int64
	Size   int64
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("offset %d outside [0, %d]: %v", e.Offset, e.Size, ErrPosition)
}

// Unwrap returns ErrPosition for errors.Is checks.
func (e *PositionError) Unwrap() error {
	return ErrPosition
}

// FailedToGetChunkError is returned when a window could not be fetched.
// Status is zero when the request failed before a response arrived.
type FailedToGetChunkError struct {
	Status int
	Err    error
}

func (e *FailedToGetChunkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to get chunk: %v", e.Err)
	}
	return fmt.Sprintf("failed to get chunk: unexpected status %d", e.Status)
}

func (e *FailedToGetChunkError) Unwrap() error {
	return e.Err
}

// Option configures an HttpIO.
type Option func(*HttpIO)

// WithClient sets the HTTP client. Timeouts are the client's concern.
func WithClient(c *http.Client) Option {
	return func(h *HttpIO) {
		if c != nil {
			h.client = c
		}
	}
}

// WithBufferSize overrides the window size.
func WithBufferSize(n int) Option {
	return func(h *HttpIO) {
		if n > 0 {
			h.bufferSize = int64(n)
		}
	}
}

// HttpIO is a read-only file over a URL. It is not safe for concurrent use.
type HttpIO struct {
	ctx        context.Context
	client     *http.Client
	url        string
	bufferSize int64

	size int64
	pos  int64

	buf      []byte
	bufStart int64
}

// New opens url. A negative size is resolved with a HEAD request.
func New(ctx context.Context, url string, size int64, opts ...Option) (*HttpIO, error) {
	h := &HttpIO{
		ctx:        ctx,
		client:     http.DefaultClient,
		url:        url,
		bufferSize: BufferSize,
		size:       size,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.size < 0 {
		n, err := h.head()
		if err != nil {
			return nil, err
		}
		h.size = n
	}
	return h, nil
}

// URL returns the remote location.
func (h *HttpIO) URL() string { return h.url }

// Size returns the remote object size.
func (h *HttpIO) Size() (int64, error) { return h.size, nil }

// Tell returns the current position.
func (h *HttpIO) Tell() int64 { return h.pos }

// EOF reports whether the position is at the end.
func (h *HttpIO) EOF() bool { return h.pos >= h.size }

// Seek implements io.Seeker over [0, size].
func (h *HttpIO) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = h.pos + offset
	case io.SeekEnd:
		abs = h.size + offset
	default:
		return h.pos, fmt.Errorf("invalid whence: %d", whence)
	}
	if abs < 0 || abs > h.size {
		return h.pos, &PositionError{Offset: abs, Size: h.size}
	}
	h.pos = abs
	return abs, nil
}

// Read implements io.Reader.
func (h *HttpIO) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if h.pos >= h.size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && h.pos < h.size {
		window, err := h.window()
		if err != nil {
			return n, err
		}
		m := copy(p[n:], window)
		n += m
		h.pos += int64(m)
	}
	return n, nil
}

// ReadN reads up to length bytes. A negative length reads to the end.
func (h *HttpIO) ReadN(length int64) ([]byte, error) {
	remaining := h.size - h.pos
	if length < 0 || length > remaining {
		if length > 0 && remaining == 0 {
			return nil, io.EOF
		}
		length = remaining
	}
	out := make([]byte, length)
	n, err := io.ReadFull(h, out)
	if err != nil {
		return out[:n], err
	}
	return out, nil
}

// ReadLine returns the next line including its newline, or io.EOF.
func (h *HttpIO) ReadLine() ([]byte, error) {
	if h.pos >= h.size {
		return nil, io.EOF
	}

	var line []byte
	for h.pos < h.size {
		window, err := h.window()
		if err != nil {
			return line, err
		}
		if i := bytes.IndexByte(window, '\n'); i >= 0 {
			line = append(line, window[:i+1]...)
			h.pos += int64(i + 1)
			return line, nil
		}
		line = append(line, window...)
		h.pos += int64(len(window))
	}
	return line, nil
}

// EachLine calls fn for every line from the current position.
func (h *HttpIO) EachLine(fn func(line []byte) error) error {
	for {
		line, err := h.ReadLine()
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

// Write always fails with ErrNotImplemented.
func (h *HttpIO) Write([]byte) (int, error) { return 0, ErrNotImplemented }

// Truncate always fails with ErrNotImplemented.
func (h *HttpIO) Truncate(int64) error { return ErrNotImplemented }

// Flush always fails with ErrNotImplemented.
func (h *HttpIO) Flush() error { return ErrNotImplemented }

// Close drops the buffered window.
func (h *HttpIO) Close() error {
	h.buf = nil
	return nil
}

// window returns the buffered bytes from pos onwards, fetching a new window
// when pos is outside the current one.
func (h *HttpIO) window() ([]byte, error) {
	if h.pos < h.bufStart || h.pos >= h.bufStart+int64(len(h.buf)) {
		if err := h.fetch(h.pos); err != nil {
			return nil, err
		}
	}
	return h.buf[h.pos-h.bufStart:], nil
}

func (h *HttpIO) fetch(start int64) error {
	end := min(start+h.bufferSize, h.size)

	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return &FailedToGetChunkError{Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return &FailedToGetChunkError{Err: err}
	}
	defer iox.DiscardClose(resp.Body)

	var body io.Reader
	switch resp.StatusCode {
	case http.StatusPartialContent:
		body = resp.Body
	case http.StatusOK:
		// Range ignored: skip to the window inside the full object.
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			return &FailedToGetChunkError{Status: resp.StatusCode, Err: err}
		}
		body = resp.Body
	default:
		return &FailedToGetChunkError{Status: resp.StatusCode}
	}

	buf := make([]byte, end-start)
	n, err := io.ReadFull(body, buf)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return &FailedToGetChunkError{Status: resp.StatusCode, Err: err}
	}
	h.buf, h.bufStart = buf[:n], start
	return nil
}

func (h *HttpIO) head() (int64, error) {
	req, err := http.NewRequestWithContext(h.ctx, http.MethodHead, h.url, nil)
	if err != nil {
		return 0, &FailedToGetChunkError{Err: err}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, &FailedToGetChunkError{Err: err}
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &FailedToGetChunkError{Status: resp.StatusCode}
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength, nil
	}
	n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, &FailedToGetChunkError{Status: resp.StatusCode, Err: fmt.Errorf("unknown content length: %w", err)}
	}
	return n, nil
}
