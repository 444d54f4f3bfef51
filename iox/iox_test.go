package iox

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

type closeRecorder int

func (c *closeRecorder) Close() error {
	*c++
	return errors.New("close failed")
}

func TestDiscardHelpers(t *testing.T) {
	var c closeRecorder
	DiscardClose(&c)
	DiscardErr(c.Close)
	if c != 2 {
		t.Fatalf("closes = %d, want 2", c)
	}
}

func TestCountingReader(t *testing.T) {
	tests := []struct {
		name    string
		input   io.Reader
		want    int64
		wantErr error
	}{
		{"empty", strings.NewReader(""), 0, nil},
		{"single chunk", strings.NewReader("job started\n"), 12, nil},
		{"one byte reads", iotest.OneByteReader(strings.NewReader("abcdef")), 6, nil},
		{"stops at error", io.MultiReader(strings.NewReader("ab"), iotest.ErrReader(io.ErrUnexpectedEOF)), 2, io.ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cr := NewCountingReader(tt.input)
			_, err := io.Copy(io.Discard, cr)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Fatalf("copy: %v", err)
			}
			if cr.N() != tt.want {
				t.Errorf("N = %d, want %d", cr.N(), tt.want)
			}
			if !errors.Is(cr.Err(), tt.wantErr) {
				t.Errorf("Err = %v, want %v", cr.Err(), tt.wantErr)
			}
		})
	}
}
