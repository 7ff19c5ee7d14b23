// Package endian provides the byte-order engine used to read and write
// DataFlash wire values.
//
// Every DataFlash record is little-endian on the wire (§6); unlike the
// teacher package this engine does not switch byte order, but keeps the
// same EndianEngine interface shape so codec/index/clock code reads
// multi-byte fields through one seam instead of scattering
// encoding/binary.LittleEndian calls directly.
package endian

import "encoding/binary"

// EndianEngine combines ByteOrder and AppendByteOrder from encoding/binary
// into the single interface DataFlash decoding needs.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Engine is the one true byte order for the DataFlash wire format.
var Engine EndianEngine = binary.LittleEndian
