package codec

import (
	"math"
	"unicode/utf8"

	"github.com/ardupilot/dflog/endian"
	"github.com/ardupilot/dflog/errs"
	"github.com/ardupilot/dflog/format"
)

// QuietNaNBits is the canonical signaling NaN bit pattern named by §4.B: a
// float NaN whose pattern differs from this is classified as a quiet NaN.
const QuietNaNBits uint64 = 0x7FF8000000000000

// IsQuietNaN reports whether v is a NaN whose IEEE-754 bit pattern differs
// from the canonical signaling pattern. The pretty-printer shows "qnan" for
// such values.
func IsQuietNaN(v float64) bool {
	return math.IsNaN(v) && math.Float64bits(v) != QuietNaNBits
}

// Decode parses payload against f and produces a Message with typed,
// unscaled field values. payload must start immediately after the 3-byte
// magic+type header and be at least f.WireSize() bytes; ErrShortPayload is
// returned otherwise.
func Decode(f *format.DFFormat, payload []byte) (*Message, error) {
	if len(payload) < f.WireSize() {
		return nil, errs.ErrShortPayload
	}

	msg := &Message{
		Format:          f,
		raw:             make([]any, len(f.FormatSpec)),
		ApplyMultiplier: true,
	}

	offset := 0
	for i := 0; i < len(f.FormatSpec); i++ {
		ch := f.FormatSpec[i]
		c := format.Table[ch]
		field := payload[offset : offset+c.Size]
		offset += c.Size

		switch c.Kind {
		case format.KindArray:
			var arr [format.ArrayElems]int16
			for j := 0; j < format.ArrayElems; j++ {
				arr[j] = int16(endian.Engine.Uint16(field[j*2 : j*2+2]))
			}
			msg.raw[i] = arr

		case format.KindInt, format.KindMode:
			msg.raw[i] = decodeInt(field, c.Signed)

		case format.KindFloat:
			msg.raw[i] = decodeFloat(ch, field)

		case format.KindString:
			if f.Name == "FILE" && f.Columns[i] == "Z" {
				raw := make([]byte, len(field))
				copy(raw, field)
				msg.raw[i] = raw
			} else {
				msg.raw[i] = decodeString(field)
			}
		}
	}

	return msg, nil
}

// decodeInt decodes a 1/2/4/8-byte little-endian integer field. Unsigned
// characters return uint64; signed characters return int64 (sign-extended
// through Go's native int8/16/32/64 conversion).
func decodeInt(field []byte, signed bool) any {
	var u uint64
	switch len(field) {
	case 1:
		u = uint64(field[0])
	case 2:
		u = uint64(endian.Engine.Uint16(field))
	case 4:
		u = uint64(endian.Engine.Uint32(field))
	case 8:
		u = endian.Engine.Uint64(field)
	}

	if !signed {
		return u
	}

	switch len(field) {
	case 1:
		return int64(int8(u))
	case 2:
		return int64(int16(u))
	case 4:
		return int64(int32(u))
	default:
		return int64(u)
	}
}

func decodeFloat(ch byte, field []byte) float64 {
	switch ch {
	case 'f':
		return float64(math.Float32frombits(endian.Engine.Uint32(field)))
	case 'd':
		return math.Float64frombits(endian.Engine.Uint64(field))
	case 'g':
		return float16ToFloat64(endian.Engine.Uint16(field))
	}

	return 0
}

// float16ToFloat64 decodes an IEEE-754 binary16 value.
func float16ToFloat64(bits uint16) float64 {
	sign := uint32(bits>>15) & 0x1
	exp := uint32(bits>>10) & 0x1F
	frac := uint32(bits) & 0x3FF

	var f32bits uint32
	switch exp {
	case 0:
		if frac == 0 {
			f32bits = sign << 31
		} else {
			// subnormal: normalize
			for frac&0x400 == 0 {
				frac <<= 1
				exp--
			}
			exp++
			frac &= 0x3FF
			f32bits = (sign << 31) | ((exp + (127 - 15)) << 23) | (frac << 13)
		}
	case 0x1F:
		f32bits = (sign << 31) | (0xFF << 23) | (frac << 13)
	default:
		f32bits = (sign << 31) | ((exp + (127 - 15)) << 23) | (frac << 13)
	}

	return float64(math.Float32frombits(f32bits))
}

// decodeString null-terminates field at the first NUL byte and decodes it
// as UTF-8, falling back to ISO-8859-1 (byte value == code point) when the
// bytes are not valid UTF-8.
func decodeString(field []byte) string {
	n := len(field)
	for i, b := range field {
		if b == 0 {
			n = i
			break
		}
	}
	raw := field[:n]

	if utf8.Valid(raw) {
		return string(raw)
	}

	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}

	return string(runes)
}
