// Package format defines the DataFlash wire format's per-character type
// table and the DFFormat schema record that a FMT message decodes into.
//
// This is the Go-native equivalent of the source project's global
// FORMAT_TO_STRUCT and MULT_TO_PREFIX lookup tables: pure, immutable,
// process-local constants.
package format

import (
	"fmt"

	"github.com/ardupilot/dflog/errs"
)

// Kind classifies how a format character's wire bytes must be decoded.
// It is a wire-level distinction, not a display-level one: 'c'/'C'/'e'/
// 'E'/'L' decode as integers on the wire and only become floats once a
// scalar Multiplier is applied at access time (§4.B, DESIGN NOTES).
type Kind uint8

const (
	KindArray  Kind = iota // 16-element int16 array ('a')
	KindInt                // signed/unsigned wire integer
	KindFloat              // true wire float (f/d/g)
	KindString             // null-terminated string
	KindMode               // flight-mode enum ('M'), wire int8
)

// Char describes one wire format character: its on-wire byte width, its Go
// Kind, and the scalar multiplier (if any) baked into the character itself
// (as opposed to a per-field override supplied via FMTU/MULT).
type Char struct {
	Size       int
	Kind       Kind
	Multiplier float64 // 0 means "no built-in multiplier"
	Signed     bool
}

// Table is the complete format character table from the wire format spec.
// '<' (little-endian) is implicit: every DataFlash log is little-endian.
// Division is preferred over multiplication when applying a Multiplier
// whose reciprocal is integral (e.g. divide by 1e7 for 'L', not multiply
// by 1e-7), for float accuracy — enforced in the codec package, not here.
var Table = map[byte]Char{
	'a': {Size: 32, Kind: KindArray},
	'b': {Size: 1, Kind: KindInt, Signed: true},
	'B': {Size: 1, Kind: KindInt},
	'h': {Size: 2, Kind: KindInt, Signed: true},
	'H': {Size: 2, Kind: KindInt},
	'i': {Size: 4, Kind: KindInt, Signed: true},
	'I': {Size: 4, Kind: KindInt},
	'q': {Size: 8, Kind: KindInt, Signed: true},
	'Q': {Size: 8, Kind: KindInt},
	'f': {Size: 4, Kind: KindFloat},
	'd': {Size: 8, Kind: KindFloat},
	'g': {Size: 2, Kind: KindFloat},
	'n': {Size: 4, Kind: KindString},
	'N': {Size: 16, Kind: KindString},
	'Z': {Size: 64, Kind: KindString},
	'c': {Size: 2, Kind: KindInt, Signed: true, Multiplier: 0.01},
	'C': {Size: 2, Kind: KindInt, Multiplier: 0.01},
	'e': {Size: 4, Kind: KindInt, Signed: true, Multiplier: 0.01},
	'E': {Size: 4, Kind: KindInt, Multiplier: 0.01},
	'L': {Size: 4, Kind: KindInt, Signed: true, Multiplier: 1e-7},
	'M': {Size: 1, Kind: KindMode, Signed: true},
}

// ArrayElems is the fixed element count of an 'a' (array) field.
const ArrayElems = 16

// BootstrapTypeID is the well-known type id for the very first FMT record:
// every log self-describes by defining its own schema starting here.
const BootstrapTypeID = 0x80

// BootstrapFormatSpec and BootstrapColumns describe the FMT record itself,
// used both to bootstrap a fresh registry and as the text reader's fallback
// for an under-specified "FMT" line (DESIGN NOTES c).
const (
	BootstrapFormatSpec = "BBnNZ"
	BootstrapColumns    = "Type,Length,Name,Format,Columns"
	BootstrapName       = "FMT"
	BootstrapLength     = 89
)

// MagicHi and MagicLo are the two magic bytes preceding every binary record.
const (
	MagicHi byte = 0xA3
	MagicLo byte = 0x95
)

// siPrefix maps a power-of-ten multiplier value (1e-3, 1e3, ...) to its SI prefix
// letter, used when FMTU/UNIT assigns a unit to a column with no built-in
// scalar multiplier.
var siPrefix = map[float64]string{
	1:     "",
	1e-1:  "d",
	1e-2:  "c",
	1e-3:  "m",
	1e-6:  "µ",
	1e-9:  "n",
}

// SIPrefix returns the SI prefix letter for a multiplier, and whether one
// was found in the table.
func SIPrefix(mult float64) (string, bool) {
	p, ok := siPrefix[mult]

	return p, ok
}

// DFFormat is a decoded FMT schema record: the blueprint used by the record
// codec to parse every subsequent record of this type id.
type DFFormat struct {
	TypeID       uint8
	Name         string
	RecordLength int
	FormatSpec   string
	Columns      []string
	ColumnIndex  map[string]int

	// ArrayPositions holds the column indices of 'a' (array) fields.
	ArrayPositions []int

	// Units and Mults are per-column overrides populated by FMTU/UNIT/MULT.
	// A value of "" / 0 means "no override for this column".
	Units []string
	Mults []float64

	// InstanceField names the column (if any) that disambiguates multiple
	// concurrent producers of this message type, along with its
	// precomputed byte offset/length within the decoded payload.
	InstanceField       string
	InstanceFieldIndex  int // -1 if no instance field
	instanceByteOffset  int
	instanceByteLength  int
}

// NewDFFormat builds a DFFormat from a FMT record's raw fields, validating
// the format_spec against the character table and computing column
// metadata. Unsupported format characters are a fatal schema error: no
// ambiguity is tolerated in schema (§7).
func NewDFFormat(typeID uint8, name string, recordLength int, formatSpec string, columns []string) (*DFFormat, error) {
	// The wire FMT.Columns field may legitimately declare fewer columns
	// than format characters trail off into padding; truncate format_spec
	// to the declared column count when columns is shorter, matching the
	// source reader's tolerant column handling.
	spec := formatSpec
	if len(columns) < len(spec) {
		spec = spec[:len(columns)]
	}

	f := &DFFormat{
		TypeID:             typeID,
		Name:               name,
		RecordLength:       recordLength,
		FormatSpec:         spec,
		Columns:            append([]string(nil), columns...),
		ColumnIndex:        make(map[string]int, len(columns)),
		Units:              make([]string, len(spec)),
		Mults:              make([]float64, len(spec)),
		InstanceFieldIndex: -1,
	}

	if len(spec) != len(f.Columns) {
		return nil, fmt.Errorf("%w: %s has %d format chars, %d columns", errs.ErrFormatColumnMismatch, name, len(spec), len(f.Columns))
	}

	offset := 0
	for i, ch := range []byte(spec) {
		c, ok := Table[ch]
		if !ok {
			return nil, fmt.Errorf("%w: %q in format %s", errs.ErrUnsupportedFormatChar, ch, name)
		}

		if c.Kind == KindArray {
			f.ArrayPositions = append(f.ArrayPositions, i)
		}

		f.ColumnIndex[f.Columns[i]] = i
		offset += c.Size
	}

	return f, nil
}

// WireSize returns the total on-wire payload size (excluding the 3-byte
// magic+type header) implied by the format_spec's character widths.
func (f *DFFormat) WireSize() int {
	n := 0
	for _, ch := range []byte(f.FormatSpec) {
		n += Table[ch].Size
	}

	return n
}

// SetInstanceField marks column name as the instance-disambiguating field
// and precomputes its byte offset/length within a decoded payload.
func (f *DFFormat) SetInstanceField(name string) {
	idx, ok := f.ColumnIndex[name]
	if !ok {
		return
	}

	offset := 0
	for i := 0; i < idx; i++ {
		offset += Table[f.FormatSpec[i]].Size
	}

	f.InstanceField = name
	f.InstanceFieldIndex = idx
	f.instanceByteOffset = offset
	f.instanceByteLength = Table[f.FormatSpec[idx]].Size
}

// InstanceFieldBytes returns the raw instance-field bytes within a decoded
// payload, for use as a fast dedupe key during indexing. ok is false if
// this format has no instance field or the payload is too short.
func (f *DFFormat) InstanceFieldBytes(payload []byte) ([]byte, bool) {
	if f.InstanceFieldIndex < 0 {
		return nil, false
	}

	end := f.instanceByteOffset + f.instanceByteLength
	if len(payload) < end {
		return nil, false
	}

	return payload[f.instanceByteOffset:end], true
}
