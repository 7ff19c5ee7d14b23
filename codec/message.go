// Package codec implements the Record Codec (4.B): decoding a raw payload
// against a DFFormat into a typed Message, applying scalar multipliers on
// access, and the inverse encode path.
package codec

import "github.com/ardupilot/dflog/format"

// Message is a decoded record: a reference to its format, its ordered
// decoded field values, a flag for whether multipliers apply on access,
// and an absolute timestamp assigned by the clock subsystem.
//
// Messages are immutable from the reader's perspective; callers may set
// fields by name to build a message for re-encoding.
type Message struct {
	Format *format.DFFormat

	// raw holds one decoded value per column, in the Go types Decode
	// produces: int64, uint64, float64, [format.ArrayElems]int16, string,
	// or []byte (only for FILE.Z).
	raw []any

	// ApplyMultiplier controls whether GetField applies the format's scalar
	// multiplier. Storage is always raw; scaling is an accessor concern.
	ApplyMultiplier bool

	// Timestamp is the absolute wall-clock stamp assigned by the clock
	// subsystem, in seconds since the Unix epoch.
	Timestamp float64

	// Offset is the byte offset of this record's magic header within the
	// source, as recorded by the reader and the indexer.
	Offset int64

	// Instance is the raw instance-field bytes for formats that have one,
	// nil otherwise. Decode leaves it nil; the indexer and the reader
	// façade's read loop populate it, and live-state keying consumes it.
	Instance []byte
}

// NewMessage builds a Message directly from already-decoded column
// values, in format_spec order. Used by non-binary framers (the text
// variant) that parse field values from tokens rather than wire bytes but
// still want the shared Message/GetField/SetField machinery.
func NewMessage(f *format.DFFormat, values []any) *Message {
	return &Message{Format: f, raw: values, ApplyMultiplier: true}
}

// Name returns the message's type name, a convenience over Format.Name.
func (m *Message) Name() string {
	return m.Format.Name
}

// TypeID returns the message's type id, a convenience over Format.TypeID.
func (m *Message) TypeID() uint8 {
	return m.Format.TypeID
}

// RawValue returns the undecorated raw value for column index i, with no
// multiplier applied, regardless of ApplyMultiplier.
func (m *Message) RawValue(i int) any {
	return m.raw[i]
}
