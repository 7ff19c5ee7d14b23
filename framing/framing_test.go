package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardupilot/dflog/diag"
	"github.com/ardupilot/dflog/format"
	"github.com/ardupilot/dflog/registry"
)

// fixedLength is a RecordLength stub for tests that don't need a live
// registry: every type id resolves to the same fixed total record length.
func fixedLength(typeID uint8, total int) RecordLength {
	return func(id uint8) (int, bool) {
		if id == typeID {
			return total, true
		}

		return 0, false
	}
}

func frame(typeID byte, payload ...byte) []byte {
	return append([]byte{format.MagicHi, format.MagicLo, typeID}, payload...)
}

func TestScanner_DecodesSequentialFrames(t *testing.T) {
	data := append(frame(1, 0xAA, 0xBB), frame(1, 0xCC, 0xDD)...)

	s := NewScanner(data, fixedLength(1, 5), diag.NoopSink{})

	f1, err := s.Next()
	require.NoError(t, err)
	require.NotNil(t, f1)
	assert.Equal(t, int64(0), f1.Offset)
	assert.Equal(t, []byte{0xAA, 0xBB}, f1.Payload)

	f2, err := s.Next()
	require.NoError(t, err)
	require.NotNil(t, f2)
	assert.Equal(t, int64(5), f2.Offset)
	assert.Equal(t, []byte{0xCC, 0xDD}, f2.Payload)

	f3, err := s.Next()
	require.NoError(t, err)
	assert.Nil(t, f3)
}

func TestScanner_ResyncsPastGarbage(t *testing.T) {
	garbage := []byte{0x00, 0x11, 0x22, 0x33}
	data := append(garbage, frame(1, 0xAA, 0xBB)...)
	// Pad past ResyncTolerance so the resync diagnostic isn't suppressed as
	// harmless trailing-garbage.
	data = append(data, make([]byte, ResyncTolerance+16)...)

	var warned []diag.Diagnostic
	sink := &captureSink{warn: &warned}

	s := NewScanner(data, fixedLength(1, 5), sink)

	f, err := s.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, int64(len(garbage)), f.Offset)

	require.Len(t, warned, 1)
	assert.Equal(t, diag.KindResync, warned[0].Kind)
	assert.Equal(t, int64(len(garbage)), warned[0].SkippedBytes)
}

func TestScanner_UnknownTypeStopsWithoutError(t *testing.T) {
	data := frame(99)

	s := NewScanner(data, fixedLength(1, 5), diag.NoopSink{})

	f, err := s.Next()
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestScanner_SeekAndPos(t *testing.T) {
	data := append(frame(1, 0xAA, 0xBB), frame(1, 0xCC, 0xDD)...)
	s := NewScanner(data, fixedLength(1, 5), diag.NoopSink{})

	assert.Equal(t, int64(0), s.Pos())
	s.Seek(5)
	assert.Equal(t, int64(5), s.Pos())

	f, err := s.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, int64(5), f.Offset)
}

func TestLengthFromRegistry_BootstrapFallback(t *testing.T) {
	length := LengthFromRegistry(registry.New())

	n, known := length(format.BootstrapTypeID)
	require.True(t, known)
	assert.Equal(t, format.BootstrapLength, n)

	_, known = length(7)
	assert.False(t, known)
}

type captureSink struct {
	warn *[]diag.Diagnostic
}

func (c *captureSink) Warn(d diag.Diagnostic)  { *c.warn = append(*c.warn, d) }
func (c *captureSink) Debug(d diag.Diagnostic) {}
