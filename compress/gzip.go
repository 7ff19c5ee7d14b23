package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/ardupilot/dflog/internal/pool"
)

// GzipDecompressor decompresses a gzip-wrapped log using klauspost's
// drop-in, SIMD-accelerated gzip reader.
type GzipDecompressor struct{}

var _ Decompressor = GzipDecompressor{}

// NewGzipDecompressor creates a gzip envelope decompressor.
func NewGzipDecompressor() GzipDecompressor {
	return GzipDecompressor{}
}

// Decompress fully inflates a gzip-framed byte stream.
func (GzipDecompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip envelope: %w", err)
	}
	defer r.Close()

	bb := pool.GetBlobBuffer()
	defer pool.PutBlobBuffer(bb)

	if _, err := io.Copy(bb, r); err != nil {
		return nil, fmt.Errorf("gzip envelope: %w", err)
	}

	return bytes.Clone(bb.Bytes()), nil
}
