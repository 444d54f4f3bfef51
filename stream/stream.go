// Package stream wraps a seekable trace source with the operations needed
// to serve it: size-bounded reads, append and overwrite, last-N-lines
// extraction, incremental HTML rendering and regex extraction.
//
// A Stream over a nil source is not valid and every read on it returns an
// empty result, so callers can render a "trace unavailable" placeholder.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pithecene-io/joblog/ansi"
	"github.com/pithecene-io/joblog/section"
)

// DefaultLimit is the number of trailing bytes rendered for a large trace.
const DefaultLimit = 500 * 1024

// reverseBlock is the window size of the backward line scanner.
const reverseBlock = 4096

// ErrReadOnly is returned by mutations on a source that cannot be written
// or truncated.
var ErrReadOnly = errors.New("trace source is read-only")

// writableSource is implemented by sources that support Append and Set.
type writableSource interface {
	io.Writer
	Truncate(size int64) error
}

type sizedSource interface {
	Size() (int64, error)
}

// HTMLResult is the outcome of one incremental render.
type HTMLResult struct {
	HTML string
	// State resumes rendering after the last rendered byte.
	State ansi.State
	// Append is true when HTML only covers bytes after the previous state.
	Append bool
	// Offset is where rendering started; Size is the trace size at render time.
	Offset int64
	Size   int64
}

// Stream is a trace view over a seekable source.
type Stream struct {
	src io.ReadSeeker
}

// New wraps src. A nil src yields an invalid Stream.
func New(src io.ReadSeeker) *Stream {
	return &Stream{src: src}
}

// Valid reports whether the stream has a source.
func (s *Stream) Valid() bool {
	return s != nil && s.src != nil
}

// Size returns the source size.
func (s *Stream) Size() (int64, error) {
	if !s.Valid() {
		return 0, nil
	}
	if sized, ok := s.src.(sizedSource); ok {
		return sized.Size()
	}

	cur, err := s.src.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	size, err := s.src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.src.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// Tell returns the current position of the source.
func (s *Stream) Tell() (int64, error) {
	if !s.Valid() {
		return 0, nil
	}
	return s.src.Seek(0, io.SeekCurrent)
}

// Limit positions the stream so at most maxBytes trailing bytes remain,
// moving the cut forward to the next line start. If the trace fits, the
// stream is positioned at the start.
func (s *Stream) Limit(maxBytes int64) error {
	if !s.Valid() {
		return nil
	}
	size, err := s.Size()
	if err != nil {
		return err
	}
	if maxBytes < 0 || size <= maxBytes {
		_, err := s.src.Seek(0, io.SeekStart)
		return err
	}

	cut := size - maxBytes
	target, err := s.nextLineStart(cut, size)
	if err != nil {
		return err
	}
	_, err = s.src.Seek(target, io.SeekStart)
	return err
}

// nextLineStart returns cut if it already starts a line, else the offset
// right after the next newline, or size when there is none.
func (s *Stream) nextLineStart(cut, size int64) (int64, error) {
	if _, err := s.src.Seek(cut-1, io.SeekStart); err != nil {
		return 0, err
	}

	buf := make([]byte, reverseBlock)
	pos := cut - 1
	for pos < size {
		n, err := s.src.Read(buf)
		if i := bytes.IndexByte(buf[:n], '\n'); i >= 0 {
			return pos + int64(i) + 1, nil
		}
		pos += int64(n)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return size, nil
}

// Append truncates the trace at offset and writes data there.
func (s *Stream) Append(data []byte, offset int64) error {
	if !s.Valid() {
		return ErrReadOnly
	}
	w, ok := s.src.(writableSource)
	if !ok {
		return ErrReadOnly
	}

	if _, err := s.src.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if err := w.Truncate(offset); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("append at %d: %w", offset, err)
	}
	return nil
}

// Set replaces the whole trace with data.
func (s *Stream) Set(data []byte) error {
	return s.Append(data, 0)
}

// Raw returns the trace from the current position. When lastLines is
// positive it returns only the last lines of the trace instead, or the
// whole trace if it has fewer lines. Invalid UTF-8 is replaced.
func (s *Stream) Raw(lastLines int) (string, error) {
	if !s.Valid() {
		return "", nil
	}

	if lastLines > 0 {
		size, err := s.Size()
		if err != nil {
			return "", err
		}
		var (
			start int64
			seen  int
		)
		err = s.scanLinesBackward(size, func(_ []byte, lineStart int64) bool {
			seen++
			if seen == lastLines {
				start = lineStart
				return false
			}
			return true
		})
		if err != nil {
			return "", err
		}
		if _, err := s.src.Seek(start, io.SeekStart); err != nil {
			return "", err
		}
	}

	data, err := io.ReadAll(s.src)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// HTMLWithState renders the trace to HTML. With a previous state whose
// offset is still inside the trace, only the bytes appended since are
// rendered and Append is true. Otherwise rendering starts at the current
// position.
func (s *Stream) HTMLWithState(prev *ansi.State) (HTMLResult, error) {
	if !s.Valid() {
		return HTMLResult{}, nil
	}
	size, err := s.Size()
	if err != nil {
		return HTMLResult{}, err
	}

	var (
		st      ansi.State
		resumed bool
	)
	if prev != nil && prev.Offset <= size {
		if _, err := s.src.Seek(prev.Offset, io.SeekStart); err != nil {
			return HTMLResult{}, err
		}
		st, resumed = *prev, true
	} else {
		pos, err := s.Tell()
		if err != nil {
			return HTMLResult{}, err
		}
		st = ansi.State{Offset: pos}
	}

	data, err := io.ReadAll(s.src)
	if err != nil {
		return HTMLResult{}, err
	}
	out, next := ansi.Render(data, st)
	return HTMLResult{
		HTML:   out,
		State:  next,
		Append: resumed,
		Offset: st.Offset,
		Size:   size,
	}, nil
}

// ExtractCoverage returns the last match of pattern in the trace: its first
// capture group if the pattern has one, else the whole match. A pattern
// wrapped in slashes has them stripped. Lines are scanned from the end.
func (s *Stream) ExtractCoverage(pattern string) (string, bool, error) {
	if !s.Valid() || pattern == "" {
		return "", false, nil
	}
	re, err := compileCoverage(pattern)
	if err != nil {
		return "", false, err
	}
	size, err := s.Size()
	if err != nil {
		return "", false, err
	}

	var (
		result string
		found  bool
	)
	err = s.scanLinesBackward(size, func(line []byte, _ int64) bool {
		matches := re.FindAllSubmatch(line, -1)
		if len(matches) == 0 {
			return true
		}
		m := matches[len(matches)-1]
		if len(m) > 1 {
			result = string(m[1])
		} else {
			result = string(m[0])
		}
		found = true
		return false
	})
	if err != nil {
		return "", false, err
	}
	return result, found, nil
}

func compileCoverage(pattern string) (*regexp.Regexp, error) {
	if len(pattern) >= 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		pattern = pattern[1 : len(pattern)-1]
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("coverage regex: %w", err)
	}
	return re, nil
}

// ExtractSections parses the section markers of the whole trace.
func (s *Stream) ExtractSections() ([]section.Section, error) {
	if !s.Valid() {
		return nil, nil
	}
	if _, err := s.src.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return section.Parse(s.src)
}

// Close closes the source if it is closable and invalidates the stream.
func (s *Stream) Close() error {
	if !s.Valid() {
		return nil
	}
	src := s.src
	s.src = nil
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// scanLinesBackward calls fn for each line of the trace, last line first,
// with the offset the line starts at. A trailing newline does not start an
// extra empty line. Only one block plus the current line is buffered.
func (s *Stream) scanLinesBackward(size int64, fn func(line []byte, start int64) bool) error {
	buf := make([]byte, reverseBlock)
	var carry []byte
	pos := size
	first := true

	for pos > 0 {
		n := min(int64(reverseBlock), pos)
		pos -= n
		if _, err := s.src.Seek(pos, io.SeekStart); err != nil {
			return err
		}
		if _, err := io.ReadFull(s.src, buf[:n]); err != nil {
			return err
		}

		block := buf[:n]
		if first {
			first = false
			if block[len(block)-1] == '\n' {
				block = block[:len(block)-1]
			}
		}
		for {
			i := bytes.LastIndexByte(block, '\n')
			if i < 0 {
				carry = append(append([]byte(nil), block...), carry...)
				break
			}
			line := append(append([]byte(nil), block[i+1:]...), carry...)
			carry = nil
			if !fn(line, pos+int64(i)+1) {
				return nil
			}
			block = block[:i]
		}
	}
	if size > 0 {
		fn(carry, 0)
	}
	return nil
}
