package codec

import (
	"fmt"
	"math"

	"github.com/ardupilot/dflog/endian"
	"github.com/ardupilot/dflog/errs"
	"github.com/ardupilot/dflog/format"
)

// GetField returns the value of column name on msg. When msg.ApplyMultiplier
// is set and the column has a scalar multiplier — either built into its
// format character (c/C/e/E/L) or supplied by a FMTU/MULT override — the
// multiplier is applied and a float64 is returned. Division is used
// instead of multiplication whenever the multiplier's reciprocal is
// integral, for float accuracy.
func GetField(msg *Message, name string) (any, error) {
	idx, ok := msg.Format.ColumnIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", errs.ErrUnknownField, msg.Format.Name, name)
	}

	raw := msg.raw[idx]
	if !msg.ApplyMultiplier {
		return raw, nil
	}

	mult := effectiveMultiplier(msg.Format, idx)
	if mult == 0 {
		return raw, nil
	}

	return applyMultiplier(raw, mult), nil
}

// effectiveMultiplier resolves the scalar multiplier for column idx: the
// format character's built-in multiplier takes precedence over a per-field
// FMTU/MULT override when both are nonzero is never the case in practice
// (built-in characters are never units-decorated with a competing
// multiplier), so either source is authoritative when the other is zero.
func effectiveMultiplier(f *format.DFFormat, idx int) float64 {
	if c, ok := format.Table[f.FormatSpec[idx]]; ok && c.Multiplier != 0 {
		return c.Multiplier
	}

	if idx < len(f.Mults) {
		return f.Mults[idx]
	}

	return 0
}

// applyMultiplier scales a raw int64/uint64 field by mult, dividing by the
// reciprocal when it is integral.
func applyMultiplier(raw any, mult float64) float64 {
	var v float64
	switch r := raw.(type) {
	case int64:
		v = float64(r)
	case uint64:
		v = float64(r)
	case float64:
		v = r
	default:
		return 0
	}

	if recip := 1 / mult; recip == math.Trunc(recip) {
		return v / recip
	}

	return v * mult
}

// SetField sets column name on msg to value, expressed in the same units
// GetField would return (i.e. post-multiplier). Values for multiplier
// columns are converted back to their raw on-wire integer representation
// immediately, since storage is always raw (§4.B / §9 DESIGN NOTES): apply
// scaling on read, reverse it on write.
func SetField(msg *Message, name string, value any) error {
	idx, ok := msg.Format.ColumnIndex[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", errs.ErrUnknownField, msg.Format.Name, name)
	}

	mult := effectiveMultiplier(msg.Format, idx)
	if mult == 0 {
		msg.raw[idx] = value
		return nil
	}

	f, ok := value.(float64)
	if !ok {
		return fmt.Errorf("%w: %s.%s expects float64 for a scaled field", errs.ErrFieldTypeMismatch, msg.Format.Name, name)
	}

	raw := math.Round(f / mult)
	if format.Table[msg.Format.FormatSpec[idx]].Signed {
		msg.raw[idx] = int64(raw)
	} else {
		msg.raw[idx] = uint64(raw)
	}

	return nil
}

// Encode packs msg back into its on-wire representation: the 3-byte magic
// header followed by each column's raw bytes, in format_spec order.
//
// Every physical wire column decoded by this implementation is always
// present in raw storage (Decode populates one slot per format_spec
// character), so there is never an ambiguity between a symbolic "Mode"
// column and a numeric "ModeNum" column at encode time: both, when
// present in the format, are independent wire columns and are packed
// as-is. (The source reader's "prefer ModeNum over Mode" rule exists
// because its in-memory message is a loosely-typed attribute bag that can
// hold one without the other; this implementation's raw slice always holds
// every wire column, so the preference is moot — see DESIGN.md.)
func Encode(msg *Message) ([]byte, error) {
	out := make([]byte, 3, 3+msg.Format.WireSize())
	out[0] = format.MagicHi
	out[1] = format.MagicLo
	out[2] = msg.Format.TypeID

	for i := 0; i < len(msg.Format.FormatSpec); i++ {
		ch := msg.Format.FormatSpec[i]
		c := format.Table[ch]

		var err error
		out, err = appendField(out, ch, c, msg.raw[i])
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func appendField(out []byte, ch byte, c format.Char, value any) ([]byte, error) {
	switch c.Kind {
	case format.KindArray:
		arr, ok := value.([format.ArrayElems]int16)
		if !ok {
			return nil, errs.ErrFieldTypeMismatch
		}
		for _, v := range arr {
			out = endian.Engine.AppendUint16(out, uint16(v))
		}

	case format.KindInt, format.KindMode:
		out = appendInt(out, c, value)

	case format.KindFloat:
		out = appendFloat(out, ch, value)

	case format.KindString:
		out = appendString(out, c.Size, value)
	}

	return out, nil
}

func appendInt(out []byte, c format.Char, value any) []byte {
	var u uint64
	switch v := value.(type) {
	case int64:
		u = uint64(v)
	case uint64:
		u = v
	}

	switch c.Size {
	case 1:
		return append(out, byte(u))
	case 2:
		return endian.Engine.AppendUint16(out, uint16(u))
	case 4:
		return endian.Engine.AppendUint32(out, uint32(u))
	default:
		return endian.Engine.AppendUint64(out, u)
	}
}

func appendFloat(out []byte, ch byte, value any) []byte {
	v, _ := value.(float64)

	switch ch {
	case 'f':
		return endian.Engine.AppendUint32(out, math.Float32bits(float32(v)))
	case 'd':
		return endian.Engine.AppendUint64(out, math.Float64bits(v))
	case 'g':
		return endian.Engine.AppendUint16(out, float64ToFloat16(v))
	}

	return out
}

func float64ToFloat16(v float64) uint16 {
	f32 := float32(v)
	bits := math.Float32bits(f32)

	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xFF) - 127 + 15
	frac := bits & 0x7FFFFF

	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1F:
		return sign | 0x7C00
	default:
		return sign | uint16(exp<<10) | uint16(frac>>13)
	}
}

func appendString(out []byte, size int, value any) []byte {
	buf := make([]byte, size)

	switch v := value.(type) {
	case string:
		copy(buf, v)
	case []byte:
		copy(buf, v)
	}

	return append(out, buf...)
}
