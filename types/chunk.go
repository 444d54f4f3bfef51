//nolint:revive // types is a common Go package naming convention
package types

// DefaultChunkSize is the fixed size of every trace chunk except the last.
const DefaultChunkSize = 128 * 1024

// Chunk is a fixed-size segment of a trace, addressed by a 0-based index.
// Only the last chunk of a trace may be shorter than the chunk size.
type Chunk struct {
	Index uint32
	Data  []byte
}

// Size returns the number of bytes held by the chunk.
func (c *Chunk) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Data)
}

// ChunkDigest describes a stored chunk without its payload.
type ChunkDigest struct {
	Index uint32
	Size  uint32
	CRC32 uint32
}

// PendingState is the ingest path's record of what it believes it has
// written for a job. It is the ground truth for checksum validation.
type PendingState struct {
	ExpectedCRC32    uint32 `msgpack:"crc32"`
	ExpectedBytesize uint64 `msgpack:"bytesize"`
}
