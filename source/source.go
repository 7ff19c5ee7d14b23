// Package source provides the bounded, byte-addressable input abstraction
// the DataFlash core consumes: the "memory-mapped or loaded" input of
// spec §1, and the external collaborator every other package in this
// module reads from instead of a file handle directly.
package source

import (
	"fmt"
	"os"

	"github.com/ardupilot/dflog/compress"
	"github.com/ardupilot/dflog/errs"
	"github.com/edsrzf/mmap-go"
)

// Source is a read-only, fully-present view over a whole log. There are no
// suspension points: every byte is addressable without further I/O.
type Source interface {
	// Bytes returns the entire backing byte slice. Callers must not
	// mutate it.
	Bytes() []byte
	// Close releases any underlying resources (an mmap region, a file
	// handle). Close is idempotent.
	Close() error
}

// memorySource wraps an already-loaded or decompressed buffer.
type memorySource struct {
	data   []byte
	closed bool
}

// NewMemorySource wraps data as a Source. Used for in-memory logs, tests,
// and the output of container decompression.
func NewMemorySource(data []byte) Source {
	return &memorySource{data: data}
}

func (s *memorySource) Bytes() []byte {
	if s.closed {
		return nil
	}

	return s.data
}

func (s *memorySource) Close() error {
	s.closed = true
	s.data = nil

	return nil
}

// mmapSource memory-maps a file read-only. The file handle stays open
// alongside the mapping until Close, which unmaps first and then closes
// the handle, matching §5's ordering guarantee.
type mmapSource struct {
	file   *os.File
	region mmap.MMap
	closed bool
}

// OpenFile memory-maps path read-only and returns a Source over its
// contents. If the file's contents are wrapped in a recognized
// compression envelope (gzip/zstd/lz4), it is transparently decompressed
// into an in-memory Source instead — the returned Source is then no
// longer backed by the mapping, since a compressed file's decoded size is
// unknown ahead of time and cannot be addressed in place.
func OpenFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dflog: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dflog: stat %s: %w", path, err)
	}

	if info.Size() == 0 {
		f.Close()
		return nil, errs.ErrEmptySource
	}

	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dflog: mmap %s: %w", path, err)
	}

	src := &mmapSource{file: f, region: region}

	env := compress.Sniff(region)
	if env == compress.EnvelopeNone {
		return src, nil
	}

	decoded, err := compress.Decompress(env, region)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrUnsupportedContainer, env, err)
	}

	src.Close()

	return NewMemorySource(decoded), nil
}

func (s *mmapSource) Bytes() []byte {
	if s.closed {
		return nil
	}

	return s.region
}

func (s *mmapSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.region.Unmap(); err != nil {
		s.file.Close()
		return fmt.Errorf("dflog: unmap: %w", err)
	}

	return s.file.Close()
}
