package chunkedio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/pithecene-io/joblog/chunk"
	"github.com/pithecene-io/joblog/types"
)

const testJob types.JobID = 1

func newTestIO(t *testing.T, chunkSize int) (*ChunkedIO, *chunk.Memory) {
	t.Helper()
	backend := chunk.NewMemory()
	return New(t.Context(), backend, testJob, WithChunkSize(chunkSize)), backend
}

func writeAll(t *testing.T, c *ChunkedIO, data string) {
	t.Helper()
	n, err := c.Write([]byte(data))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(data) {
		t.Fatalf("wrote %d bytes, want %d", n, len(data))
	}
}

func readAll(t *testing.T, c *ChunkedIO) string {
	t.Helper()
	data, err := c.ReadN(-1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func seekStart(t *testing.T, c *ChunkedIO) {
	t.Helper()
	if _, err := c.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
}

func TestChunkedIO_Scenario(t *testing.T) {
	c, backend := newTestIO(t, 4)
	writeAll(t, c, "ABCDEF")

	if backend.Len(testJob) != 2 {
		t.Fatalf("expected 2 chunks, got %d", backend.Len(testJob))
	}
	for idx, want := range []string{"ABCD", "EF"} {
		ch, err := backend.Get(t.Context(), testJob, uint32(idx))
		if err != nil {
			t.Fatalf("get chunk %d: %v", idx, err)
		}
		if string(ch.Data) != want {
			t.Errorf("chunk %d = %q, want %q", idx, ch.Data, want)
		}
	}

	size, err := c.Size()
	if err != nil || size != 6 {
		t.Fatalf("Size() = %d, %v; want 6", size, err)
	}
	if pos, err := c.Seek(0, io.SeekEnd); err != nil || pos != 6 {
		t.Fatalf("Seek(0, End) = %d, %v; want 6", pos, err)
	}

	seekStart(t, c)
	got, err := c.ReadN(3)
	if err != nil || string(got) != "ABC" {
		t.Fatalf("ReadN(3) = %q, %v; want ABC", got, err)
	}

	if err := c.Truncate(2); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	seekStart(t, c)
	if got := readAll(t, c); got != "AB" {
		t.Errorf("after truncate read = %q, want AB", got)
	}
}

func TestChunkedIO_RoundTrip(t *testing.T) {
	data := strings.Repeat("0123456789abcdef\n", 37)
	for _, cs := range []int{1, 3, 4, 16, 17, 100, len(data), len(data) + 10} {
		t.Run(fmt.Sprintf("chunk_%d", cs), func(t *testing.T) {
			c, backend := newTestIO(t, cs)
			writeAll(t, c, data)

			fresh := New(t.Context(), backend, testJob, WithChunkSize(cs))
			if got := readAll(t, fresh); got != data {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
			}
		})
	}
}

func TestChunkedIO_WriteInSmallPieces(t *testing.T) {
	c, backend := newTestIO(t, 5)
	for _, piece := range []string{"a", "bc", "defg", "hijklmn", "o"} {
		writeAll(t, c, piece)
	}

	fresh := New(t.Context(), backend, testJob, WithChunkSize(5))
	if got := readAll(t, fresh); got != "abcdefghijklmno" {
		t.Errorf("got %q", got)
	}

	last, ok, _ := backend.LastIndex(t.Context(), testJob)
	if !ok || last != 2 {
		t.Errorf("LastIndex = %d, want 2", last)
	}
	for idx := uint32(0); idx <= last; idx++ {
		ch, err := backend.Get(t.Context(), testJob, idx)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if ch.Size() > 5 {
			t.Errorf("chunk %d has %d bytes, larger than chunk size", idx, ch.Size())
		}
		if idx < last && ch.Size() != 5 {
			t.Errorf("non-last chunk %d has %d bytes", idx, ch.Size())
		}
	}
}

func TestChunkedIO_OverwritePreservesTail(t *testing.T) {
	c, _ := newTestIO(t, 4)
	writeAll(t, c, "ABCDEFGHIJ")

	if _, err := c.Seek(3, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	writeAll(t, c, "xyz")
	if c.Tell() != 6 {
		t.Errorf("Tell() = %d, want 6", c.Tell())
	}

	seekStart(t, c)
	if got := readAll(t, c); got != "ABCxyzGHIJ" {
		t.Errorf("got %q, want ABCxyzGHIJ", got)
	}
	if size, _ := c.Size(); size != 10 {
		t.Errorf("size = %d, want 10", size)
	}
}

func TestChunkedIO_OverwritePastEndExtends(t *testing.T) {
	c, _ := newTestIO(t, 4)
	writeAll(t, c, "ABCDEF")
	if _, err := c.Seek(-2, io.SeekEnd); err != nil {
		t.Fatalf("seek: %v", err)
	}
	writeAll(t, c, "123456")

	seekStart(t, c)
	if got := readAll(t, c); got != "ABCD123456" {
		t.Errorf("got %q", got)
	}
}

func TestChunkedIO_SeekInvariant(t *testing.T) {
	c, _ := newTestIO(t, 4)
	writeAll(t, c, "ABCDEF")
	seekStart(t, c)
	if _, err := c.Seek(2, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}

	tests := []struct {
		offset  int64
		whence  int
		want    int64
		wantErr bool
	}{
		{offset: 0, whence: io.SeekStart, want: 0},
		{offset: 6, whence: io.SeekStart, want: 6},
		{offset: 7, whence: io.SeekStart, wantErr: true},
		{offset: -1, whence: io.SeekStart, wantErr: true},
		{offset: 0, whence: io.SeekEnd, want: 6},
		{offset: -6, whence: io.SeekEnd, want: 0},
		{offset: -7, whence: io.SeekEnd, wantErr: true},
		{offset: 1, whence: io.SeekEnd, wantErr: true},
		{offset: 1, whence: io.SeekCurrent, want: 3},
		{offset: -3, whence: io.SeekCurrent, wantErr: true},
		{offset: 0, whence: 42, wantErr: true},
	}
	for _, tt := range tests {
		// Reset cursor to 2 for SeekCurrent cases.
		if _, err := c.Seek(2, io.SeekStart); err != nil {
			t.Fatalf("reset: %v", err)
		}
		got, err := c.Seek(tt.offset, tt.whence)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Seek(%d, %d) expected error", tt.offset, tt.whence)
			}
			if tt.whence != 42 && !errors.Is(err, ErrPosition) {
				t.Errorf("Seek(%d, %d) error %v is not ErrPosition", tt.offset, tt.whence, err)
			}
			if c.Tell() != 2 {
				t.Errorf("failed seek moved cursor to %d", c.Tell())
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Seek(%d, %d) = %d, %v; want %d", tt.offset, tt.whence, got, err, tt.want)
		}
	}
}

func TestChunkedIO_TruncateThenRead(t *testing.T) {
	const data = "0123456789ABCDEFGHIJK"
	for k := 0; k <= len(data); k++ {
		t.Run(fmt.Sprintf("k_%d", k), func(t *testing.T) {
			c, backend := newTestIO(t, 4)
			writeAll(t, c, data)
			if err := c.Truncate(int64(k)); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			if c.Tell() != int64(k) {
				t.Errorf("cursor = %d, want %d", c.Tell(), k)
			}

			fresh := New(t.Context(), backend, testJob, WithChunkSize(4))
			if got := readAll(t, fresh); got != data[:k] {
				t.Errorf("read %q, want %q", got, data[:k])
			}
			if want := (k + 3) / 4; backend.Len(testJob) != want {
				t.Errorf("chunks = %d, want %d", backend.Len(testJob), want)
			}
		})
	}
}

func TestChunkedIO_TruncateGrowFails(t *testing.T) {
	c, _ := newTestIO(t, 4)
	writeAll(t, c, "AB")
	if err := c.Truncate(3); !errors.Is(err, ErrGrowTruncate) {
		t.Errorf("expected ErrGrowTruncate, got %v", err)
	}
	if err := c.Truncate(-1); !errors.Is(err, ErrPosition) {
		t.Errorf("expected ErrPosition, got %v", err)
	}
}

func TestChunkedIO_ReadLoadsMinimalChunks(t *testing.T) {
	_, backend := newTestIO(t, 4)
	writer := New(t.Context(), backend, testJob, WithChunkSize(4))
	writeAll(t, writer, "ABCDEFGHIJKL")

	reader := New(t.Context(), backend, testJob, WithChunkSize(4))
	if _, err := reader.Seek(5, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	before := backend.Gets
	got, err := reader.ReadN(2)
	if err != nil || string(got) != "FG" {
		t.Fatalf("ReadN(2) = %q, %v", got, err)
	}
	if loads := backend.Gets - before; loads != 1 {
		t.Errorf("loaded %d chunks for a single-chunk range, want 1", loads)
	}
}

func TestChunkedIO_ReadAtEOF(t *testing.T) {
	c, _ := newTestIO(t, 4)
	writeAll(t, c, "AB")

	if _, err := c.ReadN(1); !errors.Is(err, io.EOF) {
		t.Errorf("ReadN(1) at EOF: expected io.EOF, got %v", err)
	}
	got, err := c.ReadN(-1)
	if err != nil || len(got) != 0 {
		t.Errorf("ReadN(-1) at EOF = %q, %v", got, err)
	}
	eof, err := c.EOF()
	if err != nil || !eof {
		t.Errorf("EOF() = %v, %v", eof, err)
	}
}

func TestChunkedIO_ReadLineAcrossChunks(t *testing.T) {
	c, _ := newTestIO(t, 3)
	writeAll(t, c, "first line\nsecond\n\nlast")
	seekStart(t, c)

	var lines []string
	err := c.EachLine(func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	})
	if err != nil {
		t.Fatalf("each line: %v", err)
	}
	want := []string{"first line\n", "second\n", "\n", "last"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", lines, want)
	}

	if _, err := c.ReadLine(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after last line, got %v", err)
	}
}

func TestChunkedIO_EachLineStopsOnError(t *testing.T) {
	c, _ := newTestIO(t, 4)
	writeAll(t, c, "a\nb\nc\n")
	seekStart(t, c)

	stop := errors.New("stop")
	count := 0
	err := c.EachLine(func([]byte) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || count != 2 {
		t.Errorf("err=%v count=%d", err, count)
	}
}

func TestChunkedIO_MissingChunk(t *testing.T) {
	c, backend := newTestIO(t, 2)
	writeAll(t, c, "AABBCC")
	if err := backend.Delete(t.Context(), testJob, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}

	reader := New(t.Context(), backend, testJob, WithChunkSize(2))
	_, err := reader.ReadN(-1)
	if !errors.Is(err, ErrMissingChunk) {
		t.Errorf("expected ErrMissingChunk, got %v", err)
	}
}

func TestChunkedIO_Destroy(t *testing.T) {
	c, backend := newTestIO(t, 4)
	writeAll(t, c, "ABCDEFGH")
	if err := c.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if backend.Len(testJob) != 0 {
		t.Errorf("chunks left after destroy: %d", backend.Len(testJob))
	}
	if size, _ := c.Size(); size != 0 {
		t.Errorf("size after destroy = %d", size)
	}
}

func TestChunkedIO_IOCopy(t *testing.T) {
	c, _ := newTestIO(t, 7)
	src := bytes.Repeat([]byte("trace-bytes "), 50)
	if _, err := io.Copy(c, bytes.NewReader(src)); err != nil {
		t.Fatalf("copy in: %v", err)
	}
	seekStart(t, c)

	var out bytes.Buffer
	if _, err := io.Copy(&out, c); err != nil {
		t.Fatalf("copy out: %v", err)
	}
	if !bytes.Equal(out.Bytes(), src) {
		t.Error("io.Copy round trip mismatch")
	}
}
