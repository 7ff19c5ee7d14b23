package compress

// ZstdDecompressor decompresses a zstd-wrapped log.
//
// Two build-tag-selected implementations exist: a cgo-backed one using
// valyala/gozstd (fastest, used when cgo is available) and a pure-Go
// fallback using klauspost/compress/zstd (used otherwise, e.g. cross
// compiling for an embedded ground-station build with CGO_ENABLED=0).
type ZstdDecompressor struct{}

var _ Decompressor = ZstdDecompressor{}

// NewZstdDecompressor creates a zstd envelope decompressor.
func NewZstdDecompressor() ZstdDecompressor {
	return ZstdDecompressor{}
}
