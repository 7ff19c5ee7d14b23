package dflog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardupilot/dflog/endian"
	"github.com/ardupilot/dflog/format"
)

// memSource is a fixed in-memory source.Source for tests.
type memSource struct {
	data []byte
}

func (m *memSource) Bytes() []byte { return m.data }
func (m *memSource) Close() error  { return nil }

// fmtLine builds a binary FMT record (wire type 0x80) that registers
// typeID/name/spec/cols with the schema registry.
func fmtLine(typeID, length byte, name, spec, cols string) []byte {
	payload := make([]byte, format.BootstrapLength-3)
	payload[0] = typeID
	payload[1] = length
	copy(payload[2:6], name)
	copy(payload[6:22], spec)
	copy(payload[22:86], cols)

	return append([]byte{format.MagicHi, format.MagicLo, format.BootstrapTypeID}, payload...)
}

func header(typeID byte) []byte {
	return []byte{format.MagicHi, format.MagicLo, typeID}
}

func msgRecord(timeUS uint64, text string) []byte {
	payload := make([]byte, 8+64)
	endian.Engine.PutUint64(payload[0:8], timeUS)
	copy(payload[8:], text)

	return append(header(12), payload...)
}

func parmRecord(timeUS uint64, name string, value float32) []byte {
	payload := make([]byte, 8+4+4)
	endian.Engine.PutUint64(payload[0:8], timeUS)
	copy(payload[8:12], name)
	endian.Engine.PutUint32(payload[12:16], math.Float32bits(value))

	return append(header(13), payload...)
}

func attRecord(timeUS uint64, roll float32) []byte {
	payload := make([]byte, 8+4)
	endian.Engine.PutUint64(payload[0:8], timeUS)
	endian.Engine.PutUint32(payload[8:12], math.Float32bits(roll))

	return append(header(10), payload...)
}

func modeRecord(timeUS uint64, modeNum int8) []byte {
	payload := make([]byte, 8+1)
	endian.Engine.PutUint64(payload[0:8], timeUS)
	payload[8] = byte(modeNum)

	return append(header(11), payload...)
}

// buildSampleLog assembles a small but complete binary DataFlash log: the
// self-describing FMT record, four type definitions, one banner MSG, one
// PARM, and an interleaved ATT/MODE/ATT/MODE/ATT sequence.
func buildSampleLog() []byte {
	var data []byte
	data = append(data, fmtLine(format.BootstrapTypeID, format.BootstrapLength, format.BootstrapName, format.BootstrapFormatSpec, format.BootstrapColumns)...)
	data = append(data, fmtLine(10, 15, "ATT", "Qf", "TimeUS,Roll")...)
	data = append(data, fmtLine(11, 12, "MODE", "QM", "TimeUS,ModeNum")...)
	data = append(data, fmtLine(12, 75, "MSG", "QZ", "TimeUS,Message")...)
	data = append(data, fmtLine(13, 19, "PARM", "Qnf", "TimeUS,Name,Value")...)

	data = append(data, msgRecord(0, "ArduCopter V4.0.0")...)
	data = append(data, parmRecord(300000, "THR", 0.75)...)
	data = append(data, attRecord(0, 0.1)...)
	data = append(data, modeRecord(500000, 3)...)
	data = append(data, attRecord(1000000, 0.2)...)
	data = append(data, modeRecord(1500000, 5)...)
	data = append(data, attRecord(2000000, 0.3)...)

	return data
}

func openSample(t *testing.T) *Reader {
	t.Helper()
	r, err := Open(&memSource{data: buildSampleLog()})
	require.NoError(t, err)

	return r
}

func TestOpen_SeedsLiveStateBeforeAnyRead(t *testing.T) {
	r := openSample(t)
	defer r.Close()

	assert.Equal(t, "QUADROTOR", r.VehicleType())
}

func TestRecvMsg_SequentialDecodeAndLiveState(t *testing.T) {
	r := openSample(t)
	defer r.Close()

	type seen struct {
		name string
		ts   float64
	}
	var got []seen

	for {
		msg, err := r.RecvMsg()
		require.NoError(t, err)
		if msg == nil {
			break
		}
		got = append(got, seen{msg.Name(), msg.Timestamp})
	}

	require.Len(t, got, 12)
	want := []string{"FMT", "FMT", "FMT", "FMT", "FMT", "MSG", "PARM", "ATT", "MODE", "ATT", "MODE", "ATT"}
	for i, w := range want {
		assert.Equal(t, w, got[i].name, "index %d", i)
	}

	assert.InDelta(t, 0.0, got[5].ts, 1e-9)
	assert.InDelta(t, 0.3, got[6].ts, 1e-9)
	assert.InDelta(t, 0.0, got[7].ts, 1e-9)
	assert.InDelta(t, 0.5, got[8].ts, 1e-9)
	assert.InDelta(t, 1.0, got[9].ts, 1e-9)
	assert.InDelta(t, 1.5, got[10].ts, 1e-9)
	assert.InDelta(t, 2.0, got[11].ts, 1e-9)

	v, ok := r.Param("THR")
	require.True(t, ok)
	assert.InDelta(t, 0.75, v, 1e-6)

	last, ok := r.Message("ATT")
	require.True(t, ok)
	assert.InDelta(t, 2.0, last.Timestamp, 1e-9)

	assert.Equal(t, "5", r.FlightMode())
}

func TestRecvMatch_FiltersByType(t *testing.T) {
	r := openSample(t)
	defer r.Close()

	msg, err := r.RecvMatch([]string{"ATT"}, nil, true)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "ATT", msg.Name())
	assert.InDelta(t, 0.0, msg.Timestamp, 1e-9)

	msg, err = r.RecvMatch([]string{"ATT"}, nil, true)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.InDelta(t, 1.0, msg.Timestamp, 1e-9)
}

func TestRewind_RestartsCursorAndResetsClock(t *testing.T) {
	r := openSample(t)
	defer r.Close()

	for i := 0; i < 8; i++ {
		_, err := r.RecvMsg()
		require.NoError(t, err)
	}

	r.Rewind()

	msg, err := r.RecvMsg()
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "FMT", msg.Name())
}

func TestLastTimestamp_ReturnsFinalRecordStamp(t *testing.T) {
	r := openSample(t)
	defer r.Close()

	ts, ok := r.LastTimestamp()
	require.True(t, ok)
	assert.InDelta(t, 2.0, ts, 1e-9)
}

func TestFlightModeList_CollapsesConsecutiveModesAndRewinds(t *testing.T) {
	r := openSample(t)
	defer r.Close()

	spans := r.FlightModeList()
	require.Len(t, spans, 2)

	assert.Equal(t, "3", spans[0].Mode)
	assert.InDelta(t, 0.5, spans[0].Start, 1e-9)
	assert.InDelta(t, 1.5, spans[0].End, 1e-9)

	assert.Equal(t, "5", spans[1].Mode)
	assert.InDelta(t, 1.5, spans[1].Start, 1e-9)
	assert.InDelta(t, 2.0, spans[1].End, 1e-9)

	// the cursor is left rewound
	msg, err := r.RecvMsg()
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "FMT", msg.Name())

	// memoized: a second call returns the same slice without rescanning.
	again := r.FlightModeList()
	assert.Equal(t, spans, again)
}

func TestOpen_RejectsEmptySource(t *testing.T) {
	_, err := Open(&memSource{data: nil})
	assert.Error(t, err)
}

func TestOpen_RejectsLogWithoutBootstrapFormat(t *testing.T) {
	data := attRecord(0, 0.1)
	_, err := Open(&memSource{data: data})
	assert.Error(t, err)
}
