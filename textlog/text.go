// Package textlog implements the Text Variant (4.G): a parallel parser
// for the ASCII CSV dialect of a DataFlash log, reusing the format
// registry, record codec, and clock subsystem, with its own line-oriented
// framer in place of the binary magic-byte framer.
package textlog

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/ardupilot/dflog/codec"
	"github.com/ardupilot/dflog/diag"
	"github.com/ardupilot/dflog/errs"
	"github.com/ardupilot/dflog/format"
	"github.com/ardupilot/dflog/index"
	"github.com/ardupilot/dflog/registry"
)

// probeWindow is how far into the file IsText looks for the literal
// "FMT," that identifies the ASCII dialect.
const probeWindow = 8000

// IsText reports whether data looks like the ASCII CSV dialect: the
// literal "FMT," appears within the first probeWindow bytes.
func IsText(data []byte) bool {
	n := len(data)
	if n > probeWindow {
		n = probeWindow
	}

	return bytes.Contains(data[:n], []byte("FMT,"))
}

// Frame is one parsed text line: its byte offset and delimiter-split
// fields, fields[0] being the message name.
type Frame struct {
	Offset int64
	Fields []string
}

// Scanner splits a text log into lines, auto-detecting the field
// delimiter from the first FMT line: ", " preferred, plain "," if the
// log's own FMT line uses the no-space form.
type Scanner struct {
	data  []byte
	pos   int64
	delim string
}

// NewScanner creates a Scanner over data, starting at offset 0.
func NewScanner(data []byte) *Scanner {
	return &Scanner{data: data, delim: detectDelimiter(data)}
}

func detectDelimiter(data []byte) string {
	s := &Scanner{data: data, delim: ","}
	var fmtStart int64
	for {
		f, ok := s.Next()
		if !ok {
			return ", "
		}
		if len(f.Fields) > 0 && f.Fields[0] == "FMT" {
			fmtStart = f.Offset
			break
		}
	}

	// Re-derive from the raw line text rather than the already-split
	// fields, since splitting on "," alone conflates both delimiters.
	line := rawLineAt(data, fmtStart, s.pos)
	if strings.Contains(line, ", ") {
		return ", "
	}

	return ","
}

func rawLineAt(data []byte, from, to int64) string {
	line := data[from:to]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	return string(bytes.TrimRight(line, "\r\n"))
}

// Pos returns the scanner's current byte offset.
func (s *Scanner) Pos() int64 {
	return s.pos
}

// Seek repositions the scanner to byte offset pos.
func (s *Scanner) Seek(pos int64) {
	s.pos = pos
}

// Next returns the next non-empty line as a Frame, or ok=false at EOF.
func (s *Scanner) Next() (*Frame, bool) {
	for s.pos < int64(len(s.data)) {
		start := s.pos

		nl := bytes.IndexByte(s.data[s.pos:], '\n')

		var line []byte
		if nl < 0 {
			line = s.data[s.pos:]
			s.pos = int64(len(s.data))
		} else {
			line = s.data[s.pos : s.pos+int64(nl)]
			s.pos += int64(nl) + 1
		}

		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}

		fields := strings.Split(string(line), s.delim)

		return &Frame{Offset: start, Fields: fields}, true
	}

	return nil, false
}

// Build performs the text dialect's indexing pass (§4.G): scan every
// line, parse FMT/FMTU/UNIT/MULT inline, and populate an index.Index
// like the binary indexer does, so the rest of the stack (reader façade,
// clock selection) is shared regardless of dialect. Unlike the binary
// indexer, FMT lines are not entered in the index's offsets and counts.
func Build(data []byte, reg *registry.Registry, sink diag.Sink) (*index.Index, error) {
	idx := &index.Index{}
	scanner := NewScanner(data)

	seen := make(map[uint8]map[string]struct{})

	for {
		frame, ok := scanner.Next()
		if !ok {
			break
		}
		if len(frame.Fields) < 1 {
			continue
		}

		name := frame.Fields[0]

		if name == "FMT" {
			if err := parseFMTLine(reg, frame); err != nil {
				sink.Warn(diag.Diagnostic{Kind: diag.KindDecodeFailure, Offset: frame.Offset, Message: err.Error()})
			}

			continue
		}

		f, err := reg.GetByName(name)
		if err != nil {
			// Unrecognized type name with no prior FMT: skip this line,
			// per §4.G "ignore lines with fewer columns than the format
			// requires" extended to "format not yet known".
			continue
		}

		idx.Offsets[f.TypeID] = append(idx.Offsets[f.TypeID], frame.Offset)
		idx.Counts[f.TypeID]++

		switch name {
		case "FMTU":
			if err := parseFMTULine(reg, f, frame); err != nil {
				sink.Warn(diag.Diagnostic{Kind: diag.KindDecodeFailure, Offset: frame.Offset, Message: err.Error()})
			}

			continue

		case "UNIT":
			if err := parseUNITLine(reg, f, frame); err != nil {
				sink.Warn(diag.Diagnostic{Kind: diag.KindDecodeFailure, Offset: frame.Offset, Message: err.Error()})
			}

			continue

		case "MULT":
			if err := parseMULTLine(reg, f, frame); err != nil {
				sink.Warn(diag.Diagnostic{Kind: diag.KindDecodeFailure, Offset: frame.Offset, Message: err.Error()})
			}

			continue
		}

		msg, err := DecodeLine(f, frame.Fields)
		if err != nil {
			sink.Debug(diag.Diagnostic{Kind: diag.KindDecodeFailure, Offset: frame.Offset, Message: err.Error()})

			continue
		}
		msg.Offset = frame.Offset

		seedTextSeen(idx, seen, f, msg)
	}

	return idx, nil
}

func seedTextSeen(idx *index.Index, seen map[uint8]map[string]struct{}, f *format.DFFormat, msg *codec.Message) {
	if f.InstanceFieldIndex < 0 {
		if len(idx.Seeds[f.TypeID]) == 0 {
			idx.Seeds[f.TypeID] = append(idx.Seeds[f.TypeID], msg)
		}

		return
	}

	key := instanceLabel(msg)

	if seen[f.TypeID] == nil {
		seen[f.TypeID] = make(map[string]struct{})
	}
	if _, ok := seen[f.TypeID][key]; ok {
		return
	}
	seen[f.TypeID][key] = struct{}{}

	msg.Instance = []byte(key)
	idx.Seeds[f.TypeID] = append(idx.Seeds[f.TypeID], msg)
}

func instanceLabel(msg *codec.Message) string {
	v := msg.RawValue(msg.Format.InstanceFieldIndex)

	return toText(v)
}

// parseFMTLine builds a DFFormat from a "FMT,Type,Length,Name,Format,Col1,Col2,..."
// line. A line carrying only the 4 header fields and no Columns tokens at
// all is, in practice, the FMT format describing itself; substitute the
// canonical column list (§4.G). The "5 fields ending in the delimiter
// synthesizes an empty trailing column" rule needs no special handling:
// strings.Split already yields a trailing "" element for a line ending in
// the delimiter.
func parseFMTLine(reg *registry.Registry, frame *Frame) error {
	fields := frame.Fields
	if len(fields) < 5 {
		return errs.ErrShortPayload
	}

	typeID, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return err
	}
	length, err := strconv.Atoi(fields[2])
	if err != nil {
		return err
	}
	name := fields[3]
	spec := fields[4]
	cols := append([]string(nil), fields[5:]...)

	if len(fields) == 5 && name == format.BootstrapName && spec == format.BootstrapFormatSpec {
		cols = strings.Split(format.BootstrapColumns, ",")
	}

	f, err := format.NewDFFormat(uint8(typeID), name, length, spec, cols)
	if err != nil {
		return err
	}

	reg.Insert(f)

	return nil
}

func parseFMTULine(reg *registry.Registry, f *format.DFFormat, frame *Frame) error {
	msg, err := DecodeLine(f, frame.Fields)
	if err != nil {
		return err
	}

	target, ok := msg.Format.ColumnIndex["FmtType"]
	if !ok {
		return nil
	}
	targetID := uint8(toInt(msg.RawValue(target)))

	unitIDs := ""
	if i, ok := msg.Format.ColumnIndex["UnitIds"]; ok {
		unitIDs, _ = msg.RawValue(i).(string)
	}
	multIDs := ""
	if i, ok := msg.Format.ColumnIndex["MultIds"]; ok {
		multIDs, _ = msg.RawValue(i).(string)
	}

	if err := reg.SetMultipliers(targetID, multIDs); err != nil {
		return err
	}

	return reg.SetUnits(targetID, unitIDs)
}

// parseUNITLine applies a "UNIT,Id,Label" line to reg's unit lookup table,
// keyed by the ASCII character the Id column's integer value denotes
// (DFReader.py:1827).
func parseUNITLine(reg *registry.Registry, f *format.DFFormat, frame *Frame) error {
	msg, err := DecodeLine(f, frame.Fields)
	if err != nil {
		return err
	}

	id, ok := unitID(msg)
	if !ok {
		return nil
	}
	label := ""
	if i, ok := msg.Format.ColumnIndex["Label"]; ok {
		label, _ = msg.RawValue(i).(string)
	}

	reg.DefineUnit(id, label)

	return nil
}

// parseMULTLine applies a "MULT,Id,Mult" line to reg's multiplier lookup
// table, rounded to 7 significant digits by Registry.DefineMult
// (DFReader.py:1836-1841).
func parseMULTLine(reg *registry.Registry, f *format.DFFormat, frame *Frame) error {
	msg, err := DecodeLine(f, frame.Fields)
	if err != nil {
		return err
	}

	id, ok := unitID(msg)
	if !ok {
		return nil
	}

	mult, err := codec.GetField(msg, "Mult")
	if err != nil {
		return err
	}

	v, _ := mult.(float64)
	if v == 0 {
		if iv, ok := mult.(int64); ok {
			v = float64(iv)
		}
	}

	reg.DefineMult(id, v)

	return nil
}

// unitID extracts the ASCII id byte carried by UNIT/MULT's "Id" column.
func unitID(msg *codec.Message) (byte, bool) {
	i, ok := msg.Format.ColumnIndex["Id"]
	if !ok {
		return 0, false
	}

	switch n := msg.RawValue(i).(type) {
	case int64:
		return byte(n), true
	case uint64:
		return byte(n), true
	default:
		return 0, false
	}
}

// DecodeLine parses a line's string fields against f's format_spec into a
// Message, using the shared codec.Message representation so GetField,
// SetField, and the clock subsystem work identically to the binary
// dialect.
func DecodeLine(f *format.DFFormat, fields []string) (*codec.Message, error) {
	values := fields[1:]
	if len(values) < len(f.FormatSpec) {
		return nil, errs.ErrShortPayload
	}

	raw := make([]any, len(f.FormatSpec))

	for i := 0; i < len(f.FormatSpec); i++ {
		ch := f.FormatSpec[i]
		c := format.Table[ch]
		token := strings.TrimSpace(values[i])

		switch c.Kind {
		case format.KindInt, format.KindMode:
			if c.Signed {
				v, err := strconv.ParseInt(token, 10, 64)
				if err != nil {
					return nil, err
				}
				raw[i] = v
			} else {
				v, err := strconv.ParseUint(token, 10, 64)
				if err != nil {
					return nil, err
				}
				raw[i] = v
			}

		case format.KindFloat:
			v, err := strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, err
			}
			raw[i] = v

		case format.KindString:
			raw[i] = token

		case format.KindArray:
			var arr [format.ArrayElems]int16
			parts := strings.Fields(token)
			for j := 0; j < format.ArrayElems && j < len(parts); j++ {
				v, err := strconv.ParseInt(parts[j], 10, 16)
				if err == nil {
					arr[j] = int16(v)
				}
			}
			raw[i] = arr
		}
	}

	return codec.NewMessage(f, raw), nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toText(v any) string {
	switch n := v.(type) {
	case string:
		return n
	default:
		return strconv.FormatInt(int64(toInt(v)), 10)
	}
}
