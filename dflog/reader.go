// Package dflog implements the Reader Façade (4.F): the public entry
// point that drives the indexer, clock, framing, and codec layers and
// exposes rewindable, filtered, live-stateful access to a DataFlash log.
package dflog

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ardupilot/dflog/clock"
	"github.com/ardupilot/dflog/codec"
	"github.com/ardupilot/dflog/diag"
	"github.com/ardupilot/dflog/errs"
	"github.com/ardupilot/dflog/format"
	"github.com/ardupilot/dflog/framing"
	"github.com/ardupilot/dflog/index"
	"github.com/ardupilot/dflog/internal/options"
	"github.com/ardupilot/dflog/registry"
	"github.com/ardupilot/dflog/source"
	"github.com/ardupilot/dflog/textlog"
)

// ModeTable is the external mode/type lookup collaborator (§1): it maps a
// vehicle type and numeric mode to a display name. The core never embeds
// MAVLink symbolic tables itself.
type ModeTable interface {
	ModeName(vehicleType string, modeNum int) (name string, ok bool)
}

// MetadataTree is the optional external metadata collaborator (§1): a
// tree keyed by message name, e.g. for field documentation lookup. The
// core never downloads or parses this itself.
type MetadataTree interface {
	Lookup(messageName string) (doc string, ok bool)
}

// OpenConfig carries Open's options. Use the With* functions to build an
// option list; OpenConfig itself is not part of the public API surface a
// caller is expected to construct directly.
type OpenConfig struct {
	ZeroTimeBase  bool
	NativeIndexer bool
	ProgressFunc  func(percent int)
	ModeTable     ModeTable
	Metadata      MetadataTree
	DiagSink      diag.Sink
}

// OpenOption configures Open, following the module's generic functional
// options pattern.
type OpenOption = options.Option[*OpenConfig]

func WithZeroTimeBase(v bool) OpenOption {
	return options.NoError(func(c *OpenConfig) { c.ZeroTimeBase = v })
}

// WithNativeIndexer(true) requests the native indexer accelerator for this
// Open call regardless of the DFLOG_NATIVE_INDEXER environment variable;
// with false, the environment variable still decides. Since
// no native accelerator ships with this implementation, requesting it
// always falls back to the portable indexer with a diagnostic.
func WithNativeIndexer(v bool) OpenOption {
	return options.NoError(func(c *OpenConfig) { c.NativeIndexer = v })
}

func WithProgress(fn func(percent int)) OpenOption {
	return options.NoError(func(c *OpenConfig) { c.ProgressFunc = fn })
}

func WithModeTable(mt ModeTable) OpenOption {
	return options.NoError(func(c *OpenConfig) { c.ModeTable = mt })
}

func WithMetadata(mt MetadataTree) OpenOption {
	return options.NoError(func(c *OpenConfig) { c.Metadata = mt })
}

func WithDiagSink(sink diag.Sink) OpenOption {
	return options.NoError(func(c *OpenConfig) { c.DiagSink = sink })
}

// bookkeepingTypes are implicitly added to skip_to_type's type set when
// called non-strict, so live state (mode, banners, parameters) stays
// coherent across a jump (§4.F).
var bookkeepingTypes = []string{"MODE", "MSG", "PARM", "STAT", "ORGN", "VER"}

// ModeSpan is one entry of flightmode_list: a flight mode and the time
// range over which it was active.
type ModeSpan struct {
	Mode  string
	Start float64
	End   float64
}

// scanCursor wraps whichever dialect's framer is live for this source
// (binary magic-byte framing or the ASCII text dialect), presenting both
// as one decoded-message stream so the rest of the façade stays dialect-
// agnostic.
type scanCursor struct {
	bin *framing.Scanner
	txt *textlog.Scanner
}

// newScanCursor picks a framer by sniffing data for the text dialect's
// marker (§4.G); everything else falls through to the binary framer.
func newScanCursor(data []byte, reg *registry.Registry, sink diag.Sink) *scanCursor {
	if textlog.IsText(data) {
		return &scanCursor{txt: textlog.NewScanner(data)}
	}

	return &scanCursor{bin: framing.NewScanner(data, framing.LengthFromRegistry(reg), sink)}
}

func (c *scanCursor) Pos() int64 {
	if c.bin != nil {
		return c.bin.Pos()
	}

	return c.txt.Pos()
}

func (c *scanCursor) Seek(pos int64) {
	if c.bin != nil {
		c.bin.Seek(pos)
	} else {
		c.txt.Seek(pos)
	}
}

// next returns the next successfully decoded message, skipping records
// that fail to decode (reporting them to sink) and, in the text dialect,
// lines of unknown type. It returns (nil, nil) at end of stream, which in
// the binary dialect includes the framer stopping at an unknown type id.
func (c *scanCursor) next(reg *registry.Registry, sink diag.Sink) (*codec.Message, error) {
	if c.bin != nil {
		return c.nextBinary(reg, sink)
	}

	return c.nextText(reg, sink)
}

func (c *scanCursor) nextBinary(reg *registry.Registry, sink diag.Sink) (*codec.Message, error) {
	for {
		frame, err := c.bin.Next()
		if err != nil {
			return nil, err
		}
		if frame == nil {
			return nil, nil
		}

		f, err := reg.Get(frame.TypeID)
		if err != nil {
			continue
		}

		msg, err := codec.Decode(f, frame.Payload)
		if err != nil {
			sink.Warn(diag.Diagnostic{
				Kind:    diag.KindDecodeFailure,
				Offset:  frame.Offset,
				Message: err.Error(),
			})

			continue
		}
		msg.Offset = frame.Offset
		if instBytes, ok := f.InstanceFieldBytes(frame.Payload); ok {
			msg.Instance = instBytes
		}

		return msg, nil
	}
}

func (c *scanCursor) nextText(reg *registry.Registry, sink diag.Sink) (*codec.Message, error) {
	for {
		frame, ok := c.txt.Next()
		if !ok {
			return nil, nil
		}
		if len(frame.Fields) == 0 {
			continue
		}

		f, err := reg.GetByName(frame.Fields[0])
		if err != nil {
			continue
		}

		msg, err := textlog.DecodeLine(f, frame.Fields)
		if err != nil {
			sink.Warn(diag.Diagnostic{
				Kind:    diag.KindDecodeFailure,
				Offset:  frame.Offset,
				Message: err.Error(),
			})

			continue
		}
		msg.Offset = frame.Offset
		if f.InstanceFieldIndex >= 0 {
			msg.Instance = []byte(fmt.Sprint(msg.RawValue(f.InstanceFieldIndex)))
		}

		return msg, nil
	}
}

// Reader is the stateful façade over one opened log.
//
// Reader is not safe for concurrent use (§5): a single cursor, a single
// live-state snapshot, one owner.
type Reader struct {
	src source.Source
	data []byte
	reg  *registry.Registry
	idx  *index.Index
	cfg  *OpenConfig

	scanner *scanCursor
	clk     *clock.Clock

	messages      map[string]*codec.Message
	params        map[string]float64
	paramDefaults map[string]float64
	vehicleType   string
	flightMode    string

	modeList     []ModeSpan
	modeListDone bool
}

// Open opens src, builds the schema registry and indexes, selects a
// clock, seeds live state, and rewinds the cursor to the start.
func Open(src source.Source, opts ...OpenOption) (*Reader, error) {
	cfg := &OpenConfig{DiagSink: diag.NoopSink{}}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}
	if cfg.DiagSink == nil {
		cfg.DiagSink = diag.NoopSink{}
	}

	data := src.Bytes()
	if len(data) == 0 {
		return nil, errs.ErrEmptySource
	}

	reg := registry.New()

	var idx *index.Index
	var err error
	if textlog.IsText(data) {
		idx, err = textlog.Build(data, reg, cfg.DiagSink)
	} else {
		builder := selectBuilder(cfg)
		idx, err = builder.Build(data, reg, cfg.DiagSink, cfg.ProgressFunc)
	}
	if err != nil {
		return nil, err
	}

	if _, err := reg.Get(format.BootstrapTypeID); err != nil {
		return nil, errs.ErrNoBootstrapFormat
	}
	if indexIsEmpty(idx) {
		return nil, errs.ErrNoMagic
	}

	r := &Reader{
		src:           src,
		data:          data,
		reg:           reg,
		idx:           idx,
		cfg:           cfg,
		messages:      make(map[string]*codec.Message),
		params:        make(map[string]float64),
		paramDefaults: make(map[string]float64),
	}

	r.clk = r.selectClock()
	r.seedLiveState()
	r.Rewind()

	return r, nil
}

func selectBuilder(cfg *OpenConfig) index.Builder {
	if cfg.NativeIndexer {
		cfg.DiagSink.Warn(diag.Diagnostic{
			Kind:    diag.KindFallback,
			Message: "native indexer requested but not available, using portable indexer",
		})

		return index.Portable{}
	}

	return index.Select(cfg.DiagSink)
}

func indexIsEmpty(idx *index.Index) bool {
	for _, c := range idx.Counts {
		if c > 0 {
			return false
		}
	}

	return true
}

// selectClock runs clock selection over a fresh, silent replay of the
// whole log, stopping as soon as the state machine decides.
func (r *Reader) selectClock() *clock.Clock {
	sel := clock.NewSelector()

	scanner := newScanCursor(r.data, r.reg, diag.NoopSink{})
	for !sel.Decided() {
		msg, err := scanner.next(r.reg, diag.NoopSink{})
		if err != nil || msg == nil {
			break
		}

		sel.Observe(msg)
	}
	sel.Finalize()

	return clock.FromSelector(sel, r.cfg.ZeroTimeBase)
}

// seedLiveState primes messages/params/vehicle-type/flight-mode from the
// indexer's seed messages (§4.D), so a caller can query live state
// immediately after Open without having read a single record. Seed
// messages are not stamped: they are visited here in type-id order, not
// chronological order, and feeding that through the clock would corrupt
// its running monotonic state before real sequential reading begins.
func (r *Reader) seedLiveState() {
	for t := 0; t < 256; t++ {
		for _, msg := range r.idx.Seeds[t] {
			r.applyLiveState(msg)
		}
	}
}

// Close releases the underlying source.
func (r *Reader) Close() error {
	return r.src.Close()
}

// Rewind resets the read cursor to the start. Built indexes and the
// schema registry survive; the clock's selected variant and timebase
// survive, but its running replay state (latest stamp, interpolation
// rates) is reset since a fresh sequential replay is about to begin.
func (r *Reader) Rewind() {
	r.scanner = newScanCursor(r.data, r.reg, r.cfg.DiagSink)
	r.clk.Reset()
}

// RecvMsg returns the next framed, decoded message, or (nil, nil) at EOF.
// A record that fails to decode is routed to the diagnostics sink and
// skipped; RecvMsg never returns early because of it. An unknown type id
// in a binary log ends the stream there, so RecvMsg returns (nil, nil).
func (r *Reader) RecvMsg() (*codec.Message, error) {
	msg, err := r.scanner.next(r.reg, r.cfg.DiagSink)
	if err != nil || msg == nil {
		return nil, err
	}

	r.clk.Stamp(msg)
	r.applyLiveState(msg)

	return msg, nil
}

// RecvMatch advances past messages until one whose type is in types (or
// any type, if types is empty) satisfies cond (or cond is nil). Every
// intervening message is still fully decoded and applied to live state,
// since recv_match is a filtered recv_msg, not a jump. strict is accepted
// for API symmetry with SkipToType; it has no effect here because no
// record is ever skipped over undecoded.
func (r *Reader) RecvMatch(types []string, cond func(*codec.Message) bool, strict bool) (*codec.Message, error) {
	var typeSet map[string]struct{}
	if len(types) > 0 {
		typeSet = make(map[string]struct{}, len(types))
		for _, t := range types {
			typeSet[t] = struct{}{}
		}
	}

	for {
		msg, err := r.RecvMsg()
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, nil
		}

		if typeSet != nil {
			if _, ok := typeSet[msg.Name()]; !ok {
				continue
			}
		}
		if cond != nil && !cond(msg) {
			continue
		}

		return msg, nil
	}
}

// SkipToType moves the cursor to the next record whose type is in types,
// without decoding anything in between. If not strict, bookkeepingTypes
// are implicitly added to the set so the jump never steps over a record
// that keeps live state (mode, banners, parameters) coherent.
func (r *Reader) SkipToType(types []string, strict bool) error {
	ids := r.resolveTypeIDs(types, strict)

	pos := r.scanner.Pos()
	best := int64(-1)

	for id := range ids {
		offs := r.idx.Offsets[id]
		i := sort.Search(len(offs), func(i int) bool { return offs[i] >= pos })
		if i < len(offs) && (best == -1 || offs[i] < best) {
			best = offs[i]
		}
	}

	if best == -1 {
		r.scanner.Seek(int64(len(r.data)))

		return nil
	}

	r.scanner.Seek(best)

	return nil
}

func (r *Reader) resolveTypeIDs(types []string, strict bool) map[uint8]struct{} {
	ids := make(map[uint8]struct{}, len(types))

	for _, name := range types {
		if f, err := r.reg.GetByName(name); err == nil {
			ids[f.TypeID] = struct{}{}
		}
	}

	if !strict {
		for _, name := range bookkeepingTypes {
			if f, err := r.reg.GetByName(name); err == nil {
				ids[f.TypeID] = struct{}{}
			}
		}
	}

	return ids
}

// replay performs a non-intrusive full sequential scan of the log using a
// cloned clock, calling visit for every successfully decoded message. It
// does not touch the reader's cursor or live state.
func (r *Reader) replay(visit func(msg *codec.Message)) {
	clk := r.clk.Clone()
	scanner := newScanCursor(r.data, r.reg, diag.NoopSink{})

	for {
		msg, err := scanner.next(r.reg, diag.NoopSink{})
		if err != nil || msg == nil {
			return
		}

		clk.Stamp(msg)
		visit(msg)
	}
}

// LastTimestamp returns the stamp of the record at the highest offset; if
// that record fails to decode, it falls back to the next-to-last.
func (r *Reader) LastTimestamp() (float64, bool) {
	var last, prev *codec.Message

	r.replay(func(msg *codec.Message) {
		prev = last
		last = msg
	})

	if last != nil {
		return last.Timestamp, true
	}
	if prev != nil {
		return prev.Timestamp, true
	}

	return 0, false
}

// FlightModeList returns an ordered list of (mode, start, end) spans
// covering the entire log, collapsing consecutive identical modes. The
// first call scans once and memoizes; the cursor is left rewound.
func (r *Reader) FlightModeList() []ModeSpan {
	if r.modeListDone {
		return r.modeList
	}

	var spans []ModeSpan

	r.replay(func(msg *codec.Message) {
		if msg.Name() != "MODE" {
			return
		}

		mode := r.modeString(msg)
		if mode == "" {
			return
		}

		if len(spans) > 0 {
			if spans[len(spans)-1].Mode == mode {
				return
			}
			spans[len(spans)-1].End = msg.Timestamp
		}

		spans = append(spans, ModeSpan{Mode: mode, Start: msg.Timestamp})
	})

	if len(spans) > 0 {
		if last, ok := r.LastTimestamp(); ok {
			spans[len(spans)-1].End = last
		}
	}

	r.modeList = spans
	r.modeListDone = true
	r.Rewind()

	return spans
}

// Param returns the last-seen value of parameter name. If it was never
// seen, it returns def[0] if supplied, else the parameter's declared
// default if one was recorded, else (0, false).
func (r *Reader) Param(name string, def ...float64) (float64, bool) {
	if v, ok := r.params[name]; ok {
		return v, true
	}
	if len(def) > 0 {
		return def[0], true
	}
	if v, ok := r.paramDefaults[name]; ok {
		return v, true
	}

	return 0, false
}

// Message returns the live last-seen message for key, where key is either
// a bare type name ("GPS") or an instance-qualified name ("IMU[1]").
func (r *Reader) Message(key string) (*codec.Message, bool) {
	m, ok := r.messages[key]

	return m, ok
}

// VehicleType returns the detected vehicle type banner (e.g. "QUADROTOR"),
// or "" if none has been observed yet.
func (r *Reader) VehicleType() string {
	return r.vehicleType
}

// FlightMode returns the current live flight mode string, or "" if none
// has been observed yet.
func (r *Reader) FlightMode() string {
	return r.flightMode
}

// Registry exposes the schema registry built at Open, for callers that
// need schema introspection (e.g. the text variant, demo tooling).
func (r *Reader) Registry() *registry.Registry {
	return r.reg
}

func (r *Reader) applyLiveState(msg *codec.Message) {
	name := msg.Name()
	r.messages[name] = msg

	if msg.Format.InstanceFieldIndex >= 0 && msg.Instance != nil {
		r.messages[name+"["+instanceLabel(msg)+"]"] = msg
	}

	switch name {
	case "MSG":
		r.applyBanner(msg)
	case "VER":
		r.applyVersion(msg)
	case "MODE":
		if m := r.modeString(msg); m != "" {
			r.flightMode = m
		}
	case "STAT":
		r.applyStat(msg)
	case "PARM":
		r.applyParam(msg)
	}
}

func instanceLabel(msg *codec.Message) string {
	return fmt.Sprint(msg.RawValue(msg.Format.InstanceFieldIndex))
}

// applyBanner detects the vehicle-type banner ArduPilot prints at boot
// into a MSG record's text field (§4.F).
func (r *Reader) applyBanner(msg *codec.Message) {
	idx, ok := findStringColumn(msg.Format)
	if !ok {
		return
	}

	text, _ := msg.RawValue(idx).(string)

	switch {
	case strings.Contains(text, "Rover"):
		r.vehicleType = "ROVER"
	case strings.Contains(text, "Plane"):
		r.vehicleType = "FIXED_WING"
	case strings.Contains(text, "Copter"):
		r.vehicleType = "QUADROTOR"
	case strings.Contains(text, "Antenna"):
		r.vehicleType = "ANTENNA_TRACKER"
	case strings.Contains(text, "ArduSub"):
		r.vehicleType = "SUBMARINE"
	case strings.Contains(text, "Blimp"):
		r.vehicleType = "AIRSHIP"
	}
}

func findStringColumn(f *format.DFFormat) (int, bool) {
	for i, ch := range []byte(f.FormatSpec) {
		if format.Table[ch].Kind == format.KindString {
			return i, true
		}
	}

	return 0, false
}

// verBUNames maps VER's BU (build/vehicle) field to the same banner
// vocabulary applyBanner uses.
var verBUNames = map[int]string{
	1:  "ROVER",
	2:  "QUADROTOR",
	3:  "FIXED_WING",
	4:  "ANTENNA_TRACKER",
	7:  "SUBMARINE",
	12: "AIRSHIP",
	13: "HELICOPTER",
}

func (r *Reader) applyVersion(msg *codec.Message) {
	if _, ok := msg.Format.ColumnIndex["BU"]; !ok {
		return
	}

	v, err := codec.GetField(msg, "BU")
	if err != nil {
		return
	}

	if name, ok := verBUNames[toInt(v)]; ok {
		r.vehicleType = name
	}
}

// px4MainStateNames mirrors PX4's vehicle_status main_state enum order.
var px4MainStateNames = map[int]string{
	0:  "MANUAL",
	1:  "ALTCTL",
	2:  "POSCTL",
	3:  "AUTO_MISSION",
	4:  "AUTO_LOITER",
	5:  "AUTO_RTL",
	6:  "ACRO",
	7:  "OFFBOARD",
	8:  "STABILIZED",
	9:  "RATTITUDE",
	10: "AUTO_TAKEOFF",
	11: "AUTO_LAND",
	12: "AUTO_FOLLOW_TARGET",
	13: "AUTO_PRECLAND",
	14: "ORBIT",
}

func (r *Reader) applyStat(msg *codec.Message) {
	if _, ok := msg.Format.ColumnIndex["MainState"]; !ok {
		return
	}

	v, err := codec.GetField(msg, "MainState")
	if err != nil {
		return
	}

	if name, ok := px4MainStateNames[toInt(v)]; ok {
		r.flightMode = name
	}
}

func (r *Reader) applyParam(msg *codec.Message) {
	nameIdx, ok := msg.Format.ColumnIndex["Name"]
	if !ok {
		return
	}

	name, _ := msg.RawValue(nameIdx).(string)
	if name == "" {
		return
	}

	if v, err := codec.GetField(msg, "Value"); err == nil {
		r.params[name] = toFloat(v)
	}

	if _, ok := msg.Format.ColumnIndex["Default"]; ok {
		if v, err := codec.GetField(msg, "Default"); err == nil {
			if fv := toFloat(v); !math.IsNaN(fv) {
				r.paramDefaults[name] = fv
			}
		}
	}
}

// modeString resolves a MODE message's display name: a string Mode
// column wins outright; otherwise ModeNum is resolved via the external
// ModeTable collaborator, falling back to legacy numeric-mode decoding
// (§4.F).
func (r *Reader) modeString(msg *codec.Message) string {
	if idx, ok := msg.Format.ColumnIndex["Mode"]; ok {
		if s, ok := msg.RawValue(idx).(string); ok && s != "" {
			return s
		}
	}

	if _, ok := msg.Format.ColumnIndex["ModeNum"]; ok {
		v, err := codec.GetField(msg, "ModeNum")
		if err == nil {
			num := toInt(v)
			if r.cfg.ModeTable != nil {
				if name, ok := r.cfg.ModeTable.ModeName(r.vehicleType, num); ok {
					return name
				}
			}

			return strconv.Itoa(num)
		}
	}

	return ""
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

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
