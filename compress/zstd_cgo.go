//go:build cgo

package compress

import "github.com/valyala/gozstd"

// Decompress fully inflates a zstd-framed byte stream using the cgo-backed
// gozstd bindings.
func (ZstdDecompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return gozstd.Decompress(nil, data)
}
