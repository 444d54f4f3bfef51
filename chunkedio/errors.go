package chunkedio

import (
	"errors"
	"fmt"
)

var (
	// ErrPosition is the sentinel for seeks and truncates outside [0, size].
	ErrPosition = errors.New("position out of range")

	// ErrGrowTruncate is returned when Truncate is asked to grow the trace.
	ErrGrowTruncate = errors.New("truncate cannot grow a trace")

	// ErrMissingChunk is returned when a chunk inside [0, size) is absent.
	ErrMissingChunk = errors.New("trace chunk missing")
)

// PositionError reports an offset outside the trace.
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
