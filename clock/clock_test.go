package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardupilot/dflog/codec"
	"github.com/ardupilot/dflog/format"
)

func buildMsg(t *testing.T, typeID uint8, name, spec string, cols []string, values []any) *codec.Message {
	t.Helper()
	f, err := format.NewDFFormat(typeID, name, 0, spec, cols)
	require.NoError(t, err)

	return codec.NewMessage(f, values)
}

func TestGpsTimeToUnix(t *testing.T) {
	got := gpsTimeToUnix(2000, 123456)
	want := float64(gpsEpochUnix) + 2000*604800 + 123456.0/1000
	assert.InDelta(t, want, got, 1e-9)
}

func TestSelector_GPSFixDecidesMicrosVariant(t *testing.T) {
	msg := buildMsg(t, 1, "GPS", "QII", []string{"TimeUS", "GWk", "GMS"},
		[]any{uint64(0), uint64(2000), uint64(123456)})

	sel := NewSelector()
	assert.False(t, sel.Decided())

	sel.Observe(msg)
	assert.True(t, sel.Decided())

	sel.Finalize()

	clk := FromSelector(sel, false)
	assert.Equal(t, VariantMicros, clk.Variant())

	clk.Stamp(msg)
	want := gpsTimeToUnix(2000, 123456) - gpsLeapSeconds
	assert.InDelta(t, want, msg.Timestamp, 1e-6)
}

func TestFromSelector_ZeroTimeBaseDiscardsTimebase(t *testing.T) {
	msg := buildMsg(t, 1, "GPS", "QII", []string{"TimeUS", "GWk", "GMS"},
		[]any{uint64(0), uint64(2000), uint64(123456)})

	sel := NewSelector()
	sel.Observe(msg)
	sel.Finalize()

	clk := FromSelector(sel, true)

	second := buildMsg(t, 1, "ATT", "Q", []string{"TimeUS"}, []any{uint64(2000000)})
	clk.Stamp(second)
	assert.InDelta(t, 2.0, second.Timestamp, 1e-9)
}

func TestSelector_FallsBackToMicrosOnFinalizeWithNoFix(t *testing.T) {
	msg := buildMsg(t, 1, "ATT", "Q", []string{"TimeUS"}, []any{uint64(5000000)})

	sel := NewSelector()
	sel.Observe(msg)
	assert.False(t, sel.Decided())

	sel.Finalize()

	clk := FromSelector(sel, false)
	assert.Equal(t, VariantMicros, clk.Variant())

	clk.Stamp(msg)
	assert.InDelta(t, 0, msg.Timestamp, 1e-9)
}

func TestStampMicros_TimeMSFallbackRespectsMonotonicity(t *testing.T) {
	clk := New(false)
	clk.variant = VariantMicros
	clk.timebase = 0

	first := buildMsg(t, 1, "BARO", "QI", []string{"TimeUS", "TimeMS"}, []any{uint64(2000000), uint64(1000)})
	clk.Stamp(first)
	assert.InDelta(t, 2.0, first.Timestamp, 1e-9)

	// A record with only TimeMS that lands earlier than the latest stamp
	// must not move the clock backwards.
	second := buildMsg(t, 1, "BARO2", "I", []string{"TimeMS"}, []any{uint64(500)})
	clk.Stamp(second)
	assert.InDelta(t, 2.0, second.Timestamp, 1e-9)

	third := buildMsg(t, 1, "BARO2", "I", []string{"TimeMS"}, []any{uint64(3000)})
	clk.Stamp(third)
	assert.InDelta(t, 3.0, third.Timestamp, 1e-9)
}

func TestStampInterp_DefaultIMURateBetweenFixes(t *testing.T) {
	clk := New(false)
	clk.variant = VariantInterp
	clk.timebase = 1000

	imu1 := buildMsg(t, 1, "IMU", "Q", []string{"TimeUS"}, []any{uint64(0)})
	clk.Stamp(imu1)
	assert.InDelta(t, 1000+1.0/defaultIMURate, imu1.Timestamp, 1e-9)

	imu2 := buildMsg(t, 1, "IMU", "Q", []string{"TimeUS"}, []any{uint64(0)})
	clk.Stamp(imu2)
	assert.InDelta(t, 1000+2.0/defaultIMURate, imu2.Timestamp, 1e-9)
}

func TestStampInterp_GPSFixRebasesTimebaseAndResetsCounters(t *testing.T) {
	clk := New(false)
	clk.variant = VariantInterp
	clk.timebase = 0

	for i := 0; i < 10; i++ {
		imu := buildMsg(t, 1, "IMU", "Q", []string{"TimeUS"}, []any{uint64(0)})
		clk.Stamp(imu)
	}

	gps := buildMsg(t, 2, "GPS", "QII", []string{"TimeUS", "GWk", "GMS"},
		[]any{uint64(0), uint64(2000), uint64(600000)})
	clk.Stamp(gps)

	want := gpsTimeToUnix(2000, 600000) - gpsLeapSeconds
	assert.InDelta(t, want, gps.Timestamp, 1e-6)
	assert.Equal(t, int64(0), clk.sinceGPS["IMU"])
}

func TestClock_CloneCopiesVariantButResetsRunningState(t *testing.T) {
	clk := New(false)
	clk.variant = VariantInterp
	clk.timebase = 500

	for i := 0; i < 5; i++ {
		imu := buildMsg(t, 1, "IMU", "Q", []string{"TimeUS"}, []any{uint64(0)})
		clk.Stamp(imu)
	}
	require.Equal(t, int64(5), clk.sinceGPS["IMU"])

	clone := clk.Clone()
	assert.Equal(t, clk.Variant(), clone.Variant())
	assert.Equal(t, clk.timebase, clone.timebase)
	assert.Equal(t, int64(0), clone.sinceGPS["IMU"])

	firstOnClone := buildMsg(t, 1, "IMU", "Q", []string{"TimeUS"}, []any{uint64(0)})
	clone.Stamp(firstOnClone)
	assert.InDelta(t, 500+1.0/defaultIMURate, firstOnClone.Timestamp, 1e-9)
}

func TestClock_ResetPreservesVariantAndTimebase(t *testing.T) {
	clk := New(false)
	clk.variant = VariantInterp
	clk.timebase = 500

	imu := buildMsg(t, 1, "IMU", "Q", []string{"TimeUS"}, []any{uint64(0)})
	clk.Stamp(imu)
	require.Equal(t, int64(1), clk.sinceGPS["IMU"])

	clk.Reset()
	assert.Equal(t, VariantInterp, clk.Variant())
	assert.Equal(t, 500.0, clk.timebase)
	assert.Equal(t, int64(0), clk.sinceGPS["IMU"])

	after := buildMsg(t, 1, "IMU", "Q", []string{"TimeUS"}, []any{uint64(0)})
	clk.Stamp(after)
	assert.InDelta(t, 500+1.0/defaultIMURate, after.Timestamp, 1e-9)
}

func TestVariant_String(t *testing.T) {
	assert.Equal(t, "micros", VariantMicros.String())
	assert.Equal(t, "millis", VariantMillis.String())
	assert.Equal(t, "px4", VariantPX4.String())
	assert.Equal(t, "interp", VariantInterp.String())
	assert.Equal(t, "none", VariantNone.String())
}
