// Package diag carries structured diagnostics out of the framing, codec,
// and indexer layers without turning per-record problems into errors.
//
// Per §7's propagation policy, framing loss, unknown-type stops, and
// decode failures are local: the record is skipped and a Diagnostic is
// emitted, but Open/recv_msg keep going. No third-party structured logger
// appears anywhere in the reference corpus this module was grounded on
// (mebo and its sibling example repos are libraries with no logging
// dependency of their own); this package therefore follows the corpus's
// own practice of leaving logging to the caller, wrapping the standard
// library's log.Logger behind a small interface instead of importing an
// external logging framework with nothing in the corpus to ground it on.
package diag

import (
	"fmt"
	"log"
	"os"
)

// Kind classifies a Diagnostic.
type Kind uint8

const (
	// KindResync reports a byte-wise resync that exceeded the trailing
	// garbage tolerance (§4.C).
	KindResync Kind = iota
	// KindUnknownType reports an unknown type id encountered mid-stream.
	KindUnknownType
	// KindDecodeFailure reports a struct-unpack failure for an
	// otherwise-recognized record.
	KindDecodeFailure
	// KindFallback reports a requested feature (e.g. the native indexer)
	// falling back to its portable implementation.
	KindFallback
)

// Diagnostic is one structured event surfaced during Open or a read.
type Diagnostic struct {
	Kind         Kind
	Offset       int64
	SkippedBytes int64
	BadTriple    [3]byte
	PrevGoodType uint8
	Message      string
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case KindResync:
		return fmt.Sprintf("resync: skipped %d bytes at offset %d, bad triple %v, previous good type %d",
			d.SkippedBytes, d.Offset, d.BadTriple, d.PrevGoodType)
	case KindUnknownType:
		return fmt.Sprintf("unknown type id at offset %d: %s", d.Offset, d.Message)
	case KindDecodeFailure:
		return fmt.Sprintf("decode failure at offset %d: %s", d.Offset, d.Message)
	case KindFallback:
		return fmt.Sprintf("fallback: %s", d.Message)
	default:
		return d.Message
	}
}

// Sink receives Diagnostic values. Implementations must not mutate reader
// state (§5): they observe, they don't participate.
type Sink interface {
	Warn(d Diagnostic)
	Debug(d Diagnostic)
}

// stdSink is the default Sink, backed by the standard library logger.
type stdSink struct {
	logger *log.Logger
}

// NewStdSink creates a Sink that writes to os.Stderr via the standard
// library logger.
func NewStdSink() Sink {
	return &stdSink{logger: log.New(os.Stderr, "dflog: ", log.LstdFlags)}
}

func (s *stdSink) Warn(d Diagnostic) {
	s.logger.Println(d.String())
}

func (s *stdSink) Debug(d Diagnostic) {
	s.logger.Println(d.String())
}

// NoopSink discards every Diagnostic. Useful for tests and for callers who
// only want recv_msg's return values.
type NoopSink struct{}

func (NoopSink) Warn(Diagnostic)  {}
func (NoopSink) Debug(Diagnostic) {}
