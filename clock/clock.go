// Package clock implements the Clock Subsystem (4.E): the four timestamp
// variants ArduPilot logs require depending on what timing records a log
// actually contains, and the deterministic selection state machine that
// picks one at Open.
package clock

import (
	"strings"

	"github.com/ardupilot/dflog/codec"
)

// gpsLeapSeconds is the constant GPS-to-UTC leap second offset this reader
// applies; it does not track the leap second table, matching the source
// reader's fixed offset.
const gpsLeapSeconds = 18

// gpsEpochUnix is 1980-01-06T00:00:00Z expressed as a Unix timestamp, the
// origin of the GPS week/ms-of-week timebase.
const gpsEpochUnix = 315964800

// defaultIMURate is the hard-coded rate the GPS-interpolated clock sets
// for IMU messages at every GPS fix, replacing whatever rate was observed
// for IMU, and the rate it assumes for any type whose rate has not been
// observed yet.
const defaultIMURate = 50.0

// Variant identifies which of the four clock strategies is active.
type Variant int

const (
	VariantNone Variant = iota
	VariantMicros
	VariantMillis
	VariantPX4
	VariantInterp
)

func (v Variant) String() string {
	switch v {
	case VariantMicros:
		return "micros"
	case VariantMillis:
		return "millis"
	case VariantPX4:
		return "px4"
	case VariantInterp:
		return "interp"
	default:
		return "none"
	}
}

// Clock stamps decoded messages with an absolute Unix timestamp, using
// whichever variant was selected for the log. Clock is not safe for
// concurrent use, matching the single-threaded reader model.
type Clock struct {
	variant      Variant
	zeroTimeBase bool

	timebase float64 // micros/millis variants: seconds to add to scaled on-board time
	latest   float64 // running latest stamp, for monotonicity and inherit-on-miss

	// PX4 state.
	px4Timebase float64
	havePX4Time bool

	// GPS-interpolated state.
	sinceGPS map[string]int64
	rates    map[string]float64
}

// New creates an unselected Clock; drive NewSelector/Observe/Finalize over
// a chronological replay and pass the result to FromSelector before Stamp
// produces meaningful output.
func New(zeroTimeBase bool) *Clock {
	return &Clock{
		zeroTimeBase: zeroTimeBase,
		sinceGPS:     make(map[string]int64),
		rates:        make(map[string]float64),
	}
}

// Variant reports the selected clock strategy.
func (c *Clock) Variant() Variant {
	return c.variant
}

// Clone returns an independent copy of c with the same selected variant
// and timebase but freshly reset running state, for a non-intrusive
// replay (last_timestamp, flightmode_list) that must not disturb the
// reader's live clock.
func (c *Clock) Clone() *Clock {
	clone := New(c.zeroTimeBase)
	clone.variant = c.variant
	clone.timebase = c.timebase
	clone.px4Timebase = c.px4Timebase
	clone.havePX4Time = c.havePX4Time

	return clone
}

// Reset clears c's running replay state (latest stamp, per-type rates and
// counters) while preserving the selected variant and timebase, for
// rewind: the selection outcome survives a rewind, only the cursor-bound
// accumulation does not.
func (c *Clock) Reset() {
	c.latest = 0
	c.sinceGPS = make(map[string]int64)
	c.rates = make(map[string]float64)
}

// Selector implements the deterministic clock-selection state machine
// described in §4.E's "Clock selection" and "State machine" subsections.
// Callers feed it decoded messages in ascending offset order via Observe
// and stop once Decided reports true (or the log is exhausted), then call
// Finalize before handing the result to FromSelector.
type Selector struct {
	variant Variant
	final   bool

	timebase float64

	firstTimeUS   float64
	haveTimeUS    bool
	firstTimeMS   float64
	haveTimeMS    bool

	px4Timebase    float64
	havePX4Time    bool
	haveGPSTimeFix bool
	gpsTimeUS      float64

	weekOnlyFixes int
}

// NewSelector creates an empty Selector, ready for Observe.
func NewSelector() *Selector {
	return &Selector{}
}

// FromSelector builds a Clock from a finalized Selector's outcome. If
// zeroTimeBase is set, the discovered variant is kept but its timebase is
// discarded: Stamp then returns bare on-board deltas from zero.
func FromSelector(sel *Selector, zeroTimeBase bool) *Clock {
	c := New(zeroTimeBase)
	c.variant = sel.variant
	c.timebase = sel.timebase
	c.px4Timebase = sel.px4Timebase
	c.havePX4Time = sel.havePX4Time

	if zeroTimeBase {
		c.timebase = 0
		c.px4Timebase = 0
	}

	return c
}

func (s *Selector) Decided() bool {
	return s.final
}

func (s *Selector) Observe(msg *codec.Message) {
	if s.final {
		return
	}

	name := msg.Name()
	cols := msg.Format.ColumnIndex

	if _, ok := cols["TimeUS"]; ok && !s.haveTimeUS {
		if v, ok := fieldFloat(msg, "TimeUS"); ok {
			s.firstTimeUS = v
			s.haveTimeUS = true
		}
	}

	if name != "GPS" && name != "GPS2" {
		if _, ok := cols["TimeMS"]; ok && !s.haveTimeMS {
			if v, ok := fieldFloat(msg, "TimeMS"); ok {
				s.firstTimeMS = v
				s.haveTimeMS = true
			}
		}
	}

	switch name {
	case "GPS", "GPS2":
		s.observeGPS(msg)
	case "TIME":
		s.observeTIME(msg)
	}
}

func (s *Selector) observeGPS(msg *codec.Message) {
	cols := msg.Format.ColumnIndex

	_, hasTimeUS := cols["TimeUS"]
	_, hasGWk := cols["GWk"]
	_, hasGMS := cols["GMS"]

	if hasTimeUS && hasGWk && hasGMS {
		gwk, _ := fieldFloat(msg, "GWk")
		if gwk > 0 {
			gms, _ := fieldFloat(msg, "GMS")
			s.variant = VariantMicros
			s.timebase = gpsTimeToUnix(int64(gwk), gms) - gpsLeapSeconds - s.firstTimeUS*1e-6
			s.final = true

			return
		}
	}

	_, hasT := cols["T"]
	_, hasWeek := cols["Week"]

	if hasT && hasWeek {
		week, _ := fieldFloat(msg, "Week")
		t, _ := fieldFloat(msg, "T")
		s.variant = VariantMillis
		s.timebase = gpsTimeToUnix(int64(week), t) - gpsLeapSeconds - t*1e-3

		if s.haveTimeUS {
			// micros clock already in progress from an earlier record;
			// ms clock never overrides it.
			return
		}
		s.final = true

		return
	}

	if _, hasGPSTime := cols["GPSTime"]; hasGPSTime {
		v, ok := fieldFloat(msg, "GPSTime")
		if ok {
			s.gpsTimeUS = v
			s.haveGPSTimeFix = true

			if s.havePX4Time {
				s.variant = VariantPX4
				s.timebase = s.gpsTimeUS*1e-6 - s.px4Timebase
				s.final = true
			}
		}

		return
	}

	if hasWeek {
		s.weekOnlyFixes++
		if s.weekOnlyFixes >= 2 && s.variant == VariantNone {
			s.variant = VariantInterp
			s.final = true
		}
	}
}

func (s *Selector) observeTIME(msg *codec.Message) {
	if _, ok := msg.Format.ColumnIndex["StartTime"]; !ok {
		return
	}

	v, ok := fieldFloat(msg, "StartTime")
	if !ok {
		return
	}

	s.px4Timebase = v * 1e-6
	s.havePX4Time = true

	if s.haveGPSTimeFix {
		s.variant = VariantPX4
		s.timebase = s.gpsTimeUS*1e-6 - s.px4Timebase
		s.final = true
	}
}

func (s *Selector) Finalize() {
	if s.final {
		return
	}

	switch {
	case s.haveTimeUS:
		s.variant = VariantMicros
		s.timebase = -s.firstTimeUS * 1e-6
	case s.haveTimeMS:
		s.variant = VariantMillis
		s.timebase = -s.firstTimeMS * 1e-3
	default:
		s.variant = VariantNone
	}
}

// gpsTimeToUnix converts a GPS week number and millisecond-of-week to a
// Unix timestamp (seconds), ignoring the leap-second adjustment (applied
// separately by callers so it can be composed with other offsets).
func gpsTimeToUnix(week int64, ms float64) float64 {
	return float64(gpsEpochUnix) + float64(week)*604800 + ms/1000
}

// Stamp computes and records the absolute timestamp for msg according to
// the selected variant, updating Clock's running state as needed, and
// assigns it to msg.Timestamp.
func (c *Clock) Stamp(msg *codec.Message) {
	switch c.variant {
	case VariantMicros:
		c.stampMicros(msg)
	case VariantMillis:
		c.stampMillis(msg)
	case VariantPX4:
		c.stampPX4(msg)
	case VariantInterp:
		c.stampInterp(msg)
	default:
		msg.Timestamp = c.latest
	}
}

func (c *Clock) stampMicros(msg *codec.Message) {
	cols := msg.Format.ColumnIndex
	name := msg.Name()

	if _, ok := cols["TimeUS"]; ok {
		if v, ok := fieldFloat(msg, "TimeUS"); ok {
			c.latest = c.timebase + v*1e-6
			msg.Timestamp = c.latest

			return
		}
	}

	if _, ok := cols["TimeMS"]; ok && !strings.HasPrefix(name, "ACC") && !strings.HasPrefix(name, "GYR") {
		if v, ok := fieldFloat(msg, "TimeMS"); ok {
			candidate := c.timebase + v*1e-3
			if candidate >= c.latest {
				c.latest = candidate
				msg.Timestamp = c.latest

				return
			}
		}
	}

	msg.Timestamp = c.latest
}

func (c *Clock) stampMillis(msg *codec.Message) {
	cols := msg.Format.ColumnIndex
	name := msg.Name()

	if _, ok := cols["TimeMS"]; ok {
		if v, ok := fieldFloat(msg, "TimeMS"); ok {
			c.latest = c.timebase + v*1e-3
			msg.Timestamp = c.latest

			return
		}
	}

	if name == "GPS" || name == "GPS2" {
		if v, ok := fieldFloat(msg, "T"); ok {
			c.latest = c.timebase + v*1e-3
			msg.Timestamp = c.latest

			return
		}
	}

	msg.Timestamp = c.latest
}

func (c *Clock) stampPX4(msg *codec.Message) {
	if msg.Name() == "TIME" {
		if v, ok := fieldFloat(msg, "StartTime"); ok {
			c.px4Timebase = v * 1e-6
		}
	}

	c.latest = c.timebase + c.px4Timebase
	msg.Timestamp = c.latest
}

func (c *Clock) stampInterp(msg *codec.Message) {
	name := msg.Name()
	cols := msg.Format.ColumnIndex

	if name == "GPS" || name == "GPS2" {
		var (
			t  float64
			ok bool
		)

		switch {
		case hasAll(cols, "Week", "TimeMS"):
			week, _ := fieldFloat(msg, "Week")
			ms, _ := fieldFloat(msg, "TimeMS")
			t, ok = gpsTimeToUnix(int64(week), ms), true
		case hasAll(cols, "GWk", "GMS"):
			wk, _ := fieldFloat(msg, "GWk")
			ms, _ := fieldFloat(msg, "GMS")
			t, ok = gpsTimeToUnix(int64(wk), ms), true
		case hasAll(cols, "Wk", "TWk"):
			wk, _ := fieldFloat(msg, "Wk")
			ms, _ := fieldFloat(msg, "TWk")
			t, ok = gpsTimeToUnix(int64(wk), ms), true
		}

		if ok {
			t -= gpsLeapSeconds

			dt := t - c.timebase
			if dt > 0 {
				for typ, count := range c.sinceGPS {
					rate := float64(count) / dt
					if rate > c.rates[typ] {
						c.rates[typ] = rate
					}
				}
			}
			c.rates["IMU"] = defaultIMURate

			c.timebase = t
			for typ := range c.sinceGPS {
				c.sinceGPS[typ] = 0
			}

			c.latest = c.timebase
			msg.Timestamp = c.latest

			return
		}
	}

	c.sinceGPS[name]++

	rate := c.rates[name]
	if rate == 0 {
		rate = defaultIMURate
	}

	c.latest = c.timebase + float64(c.sinceGPS[name])/rate
	msg.Timestamp = c.latest
}

func hasAll(cols map[string]int, names ...string) bool {
	for _, n := range names {
		if _, ok := cols[n]; !ok {
			return false
		}
	}

	return true
}

// fieldFloat reads column name from msg as a float64, accepting any of the
// raw numeric Go types Decode can produce.
func fieldFloat(msg *codec.Message, name string) (float64, bool) {
	v, err := codec.GetField(msg, name)
	if err != nil {
		return 0, false
	}

	switch n := v.(type) {
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
