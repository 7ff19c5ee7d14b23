// Package framing implements the Framing & Resync component (4.C):
// locating 0xA3 0x95 <type> framed records in the byte stream, skipping
// and diagnosing corruption, and handing back raw (typeid, payload, offset)
// frames for the codec to decode.
package framing

import (
	"github.com/ardupilot/dflog/diag"
	"github.com/ardupilot/dflog/format"
	"github.com/ardupilot/dflog/registry"
)

// ResyncTolerance is the known trailing-garbage window for APM2
// flash-based logs (§4.C): a minimum block-based page residue of 249
// bytes means a safe bound of 528 bytes can remain at EOF without being
// worth a diagnostic.
const ResyncTolerance = 528

// Frame is one located, unvalidated record: its byte offset, type id, and
// payload slice (record_length-3 bytes immediately following the type
// byte). The payload aliases the source's backing array.
type Frame struct {
	Offset  int64
	TypeID  uint8
	Payload []byte
}

// RecordLength resolves the on-wire record length for typeID: either the
// already-registered format's declared length, or, for the very first
// bootstrap FMT record (before any format is registered for 0x80), the
// well-known constant length.
type RecordLength func(typeID uint8) (length int, known bool)

// LengthFromRegistry adapts a Registry into a RecordLength resolver,
// special-casing the bootstrap type id so the very first frame in a log
// can be located before anything has been registered.
func LengthFromRegistry(reg *registry.Registry) RecordLength {
	return func(typeID uint8) (int, bool) {
		if f, err := reg.Get(typeID); err == nil {
			return f.RecordLength, true
		}

		if typeID == format.BootstrapTypeID {
			return format.BootstrapLength, true
		}

		return 0, false
	}
}

// Scanner walks a byte source looking for framed records, handling
// resync and corruption diagnostics per §4.C/§7.
type Scanner struct {
	data         []byte
	pos          int64
	length       RecordLength
	sink         diag.Sink
	prevGoodType uint8
	haveGood     bool
}

// NewScanner creates a Scanner over data starting at offset 0. length
// resolves a type id to its on-wire record length (see LengthFromRegistry).
// sink receives corruption diagnostics; pass diag.NoopSink{} to discard them.
func NewScanner(data []byte, length RecordLength, sink diag.Sink) *Scanner {
	return &Scanner{data: data, length: length, sink: sink}
}

// Seek repositions the scanner to byte offset pos, for rewind/skip_to_type.
func (s *Scanner) Seek(pos int64) {
	s.pos = pos
}

// Pos returns the scanner's current byte offset.
func (s *Scanner) Pos() int64 {
	return s.pos
}

// Next locates and returns the next framed record. It returns (nil, nil)
// at end-of-log: the source is exhausted, fewer bytes remain than the next
// record's declared length, or an unknown type id was encountered and
// decoding was stopped (trailing-garbage tolerance).
func (s *Scanner) Next() (*Frame, error) {
	for {
		if s.pos+3 > int64(len(s.data)) {
			return nil, nil
		}

		if s.data[s.pos] == format.MagicHi && s.data[s.pos+1] == format.MagicLo {
			typeID := s.data[s.pos+2]

			recLen, known := s.length(typeID)
			if !known {
				s.reportUnknownType(typeID)
				return nil, nil
			}

			payloadLen := recLen - 3
			if s.pos+3+int64(payloadLen) > int64(len(s.data)) {
				// Short record: insufficient bytes remain for the
				// declared length. End of log.
				return nil, nil
			}

			frame := &Frame{
				Offset:  s.pos,
				TypeID:  typeID,
				Payload: s.data[s.pos+3 : s.pos+3+int64(payloadLen)],
			}

			s.pos += int64(recLen)
			s.prevGoodType = typeID
			s.haveGood = true

			return frame, nil
		}

		// No magic at pos: resync by advancing one byte at a time,
		// accumulating a skip region, until magic is found or EOF.
		start := s.pos
		skipped := int64(0)
		for s.pos+3 <= int64(len(s.data)) &&
			!(s.data[s.pos] == format.MagicHi && s.data[s.pos+1] == format.MagicLo) {
			s.pos++
			skipped++
		}

		if s.pos+3 > int64(len(s.data)) {
			// Ran off the end while resyncing: end of log, no new magic.
			return nil, nil
		}

		s.reportResync(start, skipped)
		// Loop back to the top to process the newly found magic.
	}
}

func (s *Scanner) remaining() int64 {
	return int64(len(s.data)) - s.pos
}

func (s *Scanner) reportResync(start, skipped int64) {
	if s.remaining() <= ResyncTolerance && int64(len(s.data)) >= ResyncTolerance {
		return
	}

	var triple [3]byte
	copy(triple[:], s.data[start:min(start+3, int64(len(s.data)))])

	s.sink.Warn(diag.Diagnostic{
		Kind:         diag.KindResync,
		Offset:       start,
		SkippedBytes: skipped,
		BadTriple:    triple,
		PrevGoodType: s.prevGoodType,
	})
}

func (s *Scanner) reportUnknownType(typeID uint8) {
	if s.remaining() <= ResyncTolerance && int64(len(s.data)) >= ResyncTolerance {
		return
	}

	s.sink.Warn(diag.Diagnostic{
		Kind:         diag.KindUnknownType,
		Offset:       s.pos,
		PrevGoodType: s.prevGoodType,
		Message:      formatUnknownType(typeID),
	})
}

func formatUnknownType(typeID uint8) string {
	return "type id " + itoa(int(typeID)) + " has no prior FMT definition"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	return string(buf[i:])
}

