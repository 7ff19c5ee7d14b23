package textlog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardupilot/dflog/codec"
	"github.com/ardupilot/dflog/diag"
	"github.com/ardupilot/dflog/format"
	"github.com/ardupilot/dflog/registry"
)

func TestIsText(t *testing.T) {
	assert.True(t, IsText([]byte("FMT, 128, 89, FMT, BBnNZ\n")))
	assert.False(t, IsText([]byte{0xA3, 0x95, 0x80, 0x01, 0x02}))

	padding := strings.Repeat("x", probeWindow)
	assert.False(t, IsText([]byte(padding+"FMT,")))
}

func TestScanner_SplitsOnDetectedCommaDelimiter(t *testing.T) {
	data := []byte("FMT,128,89,FMT,BBnNZ,Type,Length,Name,Format,Columns\nATT,0,1.5\n")
	s := NewScanner(data)

	f1, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, []string{"FMT", "128", "89", "FMT", "BBnNZ", "Type", "Length", "Name", "Format", "Columns"}, f1.Fields)

	f2, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, []string{"ATT", "0", "1.5"}, f2.Fields)

	_, ok = s.Next()
	assert.False(t, ok)
}

func TestScanner_SkipsBlankLines(t *testing.T) {
	data := []byte("FMT,128,89,FMT,BBnNZ,Type,Length,Name,Format,Columns\n\nATT,0,1.5\n")
	s := NewScanner(data)

	_, ok := s.Next()
	require.True(t, ok)

	f2, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "ATT", f2.Fields[0])
}

func TestParseFMTLine_DefinesNewType(t *testing.T) {
	reg := registry.New()
	frame := &Frame{Fields: []string{"FMT", "10", "15", "ATT", "Qf", "TimeUS", "Roll"}}

	require.NoError(t, parseFMTLine(reg, frame))

	f, err := reg.GetByName("ATT")
	require.NoError(t, err)
	assert.Equal(t, uint8(10), f.TypeID)
	assert.Equal(t, []string{"TimeUS", "Roll"}, f.Columns)
	assert.Equal(t, 12, f.WireSize())
}

func TestParseFMTLine_BootstrapSelfDescribingFallback(t *testing.T) {
	reg := registry.New()
	frame := &Frame{Fields: []string{"FMT", "128", "89", "FMT", "BBnNZ"}}

	require.NoError(t, parseFMTLine(reg, frame))

	f, err := reg.GetByName("FMT")
	require.NoError(t, err)
	assert.Equal(t, strings.Split(format.BootstrapColumns, ","), f.Columns)
}

func TestParseFMTLine_RejectsShortLine(t *testing.T) {
	reg := registry.New()
	frame := &Frame{Fields: []string{"FMT", "10", "15"}}

	assert.Error(t, parseFMTLine(reg, frame))
}

func TestDecodeLine_ParsesTypedTokens(t *testing.T) {
	f, err := format.NewDFFormat(10, "ATT", 15, "Qf", []string{"TimeUS", "Roll"})
	require.NoError(t, err)

	msg, err := DecodeLine(f, []string{"ATT", "1000000", "1.5"})
	require.NoError(t, err)

	ts, err := codec.GetField(msg, "TimeUS")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000000), ts)

	roll, err := codec.GetField(msg, "Roll")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, roll.(float64), 1e-9)
}

func TestDecodeLine_ShortLineIsRejected(t *testing.T) {
	f, err := format.NewDFFormat(10, "ATT", 15, "Qf", []string{"TimeUS", "Roll"})
	require.NoError(t, err)

	_, err = DecodeLine(f, []string{"ATT", "1000000"})
	assert.Error(t, err)
}

func TestBuild_IndexesFMTULineAndSeedsDistinctInstances(t *testing.T) {
	lines := []string{
		"FMT,128,89,FMT,BBnNZ,Type,Length,Name,Format,Columns",
		"FMT,10,15,ATT,Qf,TimeUS,Roll",
		"FMT,14,41,FMTU,QBNN,TimeUS,FmtType,UnitIds,MultIds",
		"FMT,15,10,IMU,QB,TimeUS,I",
		"FMTU,0,15,-#,,",
		"ATT,0,1.5",
		"ATT,1000000,2.5",
		"IMU,0,0",
		"IMU,1000,1",
		"IMU,2000,0",
	}
	data := []byte(strings.Join(lines, "\n") + "\n")

	reg := registry.New()
	idx, err := Build(data, reg, diag.NoopSink{})
	require.NoError(t, err)

	att, err := reg.Get(10)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Counts[att.TypeID])
	require.Len(t, idx.Seeds[att.TypeID], 1)

	imu, err := reg.Get(15)
	require.NoError(t, err)
	assert.Equal(t, 1, imu.InstanceFieldIndex)
	assert.Equal(t, 3, idx.Counts[imu.TypeID])
	assert.Len(t, idx.Seeds[imu.TypeID], 2)
}

func TestBuild_UNITAndMULTLinesFeedFMTUMultiplierResolution(t *testing.T) {
	lines := []string{
		"FMT,128,89,FMT,BBnNZ,Type,Length,Name,Format,Columns",
		"FMT,20,41,FMTU,QBNN,TimeUS,FmtType,UnitIds,MultIds",
		"FMT,21,68,UNIT,bZ,Id,Label",
		"FMT,22,12,MULT,bd,Id,Mult",
		"FMT,23,15,BARO,Qf,TimeUS,Press",
		"UNIT,67,hectopascal",
		"MULT,67,0.01",
		"FMTU,0,23,--,-C",
		"BARO,0,12345",
	}
	data := []byte(strings.Join(lines, "\n") + "\n")

	reg := registry.New()
	_, err := Build(data, reg, diag.NoopSink{})
	require.NoError(t, err)

	baro, err := reg.Get(23)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, baro.Mults[1], 1e-9)
}
