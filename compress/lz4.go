package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/ardupilot/dflog/internal/pool"
)

// LZ4Decompressor decompresses an LZ4-frame-wrapped log.
type LZ4Decompressor struct{}

var _ Decompressor = LZ4Decompressor{}

// NewLZ4Decompressor creates an LZ4 frame envelope decompressor.
func NewLZ4Decompressor() LZ4Decompressor {
	return LZ4Decompressor{}
}

// Decompress fully inflates an LZ4-framed byte stream.
func (LZ4Decompressor) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))

	bb := pool.GetBlobBuffer()
	defer pool.PutBlobBuffer(bb)

	if _, err := io.Copy(bb, r); err != nil {
		return nil, fmt.Errorf("lz4 envelope: %w", err)
	}

	return bytes.Clone(bb.Bytes()), nil
}
