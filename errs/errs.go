// Package errs defines the sentinel errors returned across the dflog packages.
//
// Per-record errors (framing loss, decode failures) are reported through the
// diag package rather than returned, per the reader's error propagation
// policy: schema errors abort Open, per-record errors are skip-and-log.
package errs

import "errors"

var (
	// ErrNoMagic is returned when Open cannot find a single valid FMT/magic
	// sequence anywhere in the source.
	ErrNoMagic = errors.New("dflog: no recognizable magic framing found")

	// ErrNoBootstrapFormat is returned when Open cannot locate a format
	// definition for the bootstrap type id (0x80) before end of source.
	ErrNoBootstrapFormat = errors.New("dflog: no bootstrap FMT record found")

	// ErrUnsupportedFormatChar is returned when a FMT record's format_spec
	// contains a character outside the format character table. Schema
	// errors are fatal: no ambiguity is tolerated.
	ErrUnsupportedFormatChar = errors.New("dflog: unsupported format character")

	// ErrFormatColumnMismatch is returned when a FMT record's format_spec
	// length does not match the number of declared columns.
	ErrFormatColumnMismatch = errors.New("dflog: format_spec length does not match columns")

	// ErrUnknownType is returned when get(id) is called for a type id that
	// has not been defined by a prior FMT record.
	ErrUnknownType = errors.New("dflog: unknown message type id")

	// ErrUnknownName is returned when get_by_name is called for a name with
	// no registered format.
	ErrUnknownName = errors.New("dflog: unknown message type name")

	// ErrShortPayload is returned when a record's payload is shorter than
	// its format's declared record_length requires.
	ErrShortPayload = errors.New("dflog: payload shorter than record_length")

	// ErrUnknownField is returned when get_field/set_field is called with a
	// column name not present in the message's format.
	ErrUnknownField = errors.New("dflog: unknown field name")

	// ErrFieldTypeMismatch is returned when encode() is asked to pack a
	// value whose Go type does not match the field's format character.
	ErrFieldTypeMismatch = errors.New("dflog: field value type mismatch")

	// ErrSourceClosed reports use of a closed Source. The Source
	// implementations do not return it: after Close, Bytes returns nil and
	// a repeated Close returns nil.
	ErrSourceClosed = errors.New("dflog: source is closed")

	// ErrEmptySource is returned when Open is given a zero-length source.
	ErrEmptySource = errors.New("dflog: empty source")

	// ErrUnsupportedContainer is returned when container sniffing detects a
	// recognized magic but decompression of the full envelope fails.
	ErrUnsupportedContainer = errors.New("dflog: unsupported or corrupt container envelope")

	// ErrNotTextFormat reports a source that does not carry the "FMT,"
	// marker in its head window. No reader returns it: Open treats such a
	// source as a binary log.
	ErrNotTextFormat = errors.New("dflog: source is not a text-format log")
)
