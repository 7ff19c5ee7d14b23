//go:build !cgo

package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Decompress fully inflates a zstd-framed byte stream using the pure-Go
// klauspost/compress/zstd decoder.
func (ZstdDecompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd envelope: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd envelope: %w", err)
	}

	return out, nil
}
