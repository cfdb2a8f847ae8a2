package vedirect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func assertUpdate(t *testing.T, cs *ChangeSet, field, value, units string) {
	t.Helper()
	u, ok := cs.Get(field)
	require.True(t, ok, "field %s not in change set", field)
	assert.Equal(t, value, u.ValueOrEmpty(), "value of %s", field)
	assert.Equal(t, units, u.UnitsOrEmpty(), "units of %s", field)
}

func TestSplitLine(t *testing.T) {

	cases := []struct {
		line  string
		field string
		value string
		ok    bool
	}{
		{"V\t12340\r", "V", "12340", true},
		{"V\t12340", "V", "12340", true},
		{"\tV\t12340\r", "V", "12340", true},
		{"SER#\tHQ2132QY2KR\r", "SER#", "HQ2132QY2KR", true},
		{"V\t\t12340\r", "V", "\t12340", true},
		{"V\t\r", "", "", false},
		{"V", "", "", false},
		{"", "", "", false},
		{"\t\t\r", "", "", false},
	}
	for _, c := range cases {
		field, value, ok := SplitLine(c.line)
		assert.Equal(t, c.ok, ok, "line %q", c.line)
		assert.Equal(t, c.field, field, "line %q", c.line)
		assert.Equal(t, c.value, value, "line %q", c.line)
	}
}

func TestHandleLine(t *testing.T) {

	decoder := NewDecoder(loadTestSchema(t), WithLogger(zap.NewNop()))

	cs := NewChangeSet()
	assert.True(t, decoder.HandleLine("V\t12340\r", cs))
	assertUpdate(t, cs, "v", "12.34", "V")

	// field keys are lower cased, units keys derive from them
	r, ok := decoder.Store().Get("v_units")
	require.True(t, ok)
	assert.Equal(t, "V", r.Value)

	cs = NewChangeSet()
	assert.True(t, decoder.HandleLine("PID\t0xA053\r", cs))
	assertUpdate(t, cs, "pid", "SmartSolar MPPT 75/15", "")
}

func TestHandleLineIdempotent(t *testing.T) {

	decoder := NewDecoder(loadTestSchema(t))

	cs := NewChangeSet()
	decoder.HandleLine("CS\t3\r", cs)
	assert.Equal(t, 1, cs.Len())

	cs = NewChangeSet()
	assert.True(t, decoder.HandleLine("CS\t3\r", cs))
	assert.True(t, cs.IsEmpty())
}

func TestHandleLineUnknownField(t *testing.T) {

	decoder := NewDecoder(loadTestSchema(t))

	cs := NewChangeSet()
	assert.False(t, decoder.HandleLine("Checksum\tX\r", cs))
	assert.False(t, decoder.HandleLine("garbage", cs))
	assert.True(t, cs.IsEmpty())
	assert.Equal(t, 0, decoder.Store().Len())
}

func TestHandleLineUnknownType(t *testing.T) {

	decoder := NewDecoder(loadTestSchema(t))

	cs := NewChangeSet()
	assert.True(t, decoder.HandleLine("AC_OUT_S\t120\r", cs))
	assert.True(t, cs.IsEmpty())
	assert.Equal(t, 0, decoder.Store().Len())
}

func TestDerivationPropagation(t *testing.T) {

	decoder := NewDecoder(loadTestSchema(t))

	cs := NewChangeSet()
	decoder.HandleLine("VPV\t12340\r", cs)
	assertUpdate(t, cs, "vpv", "12.34", "V")
	_, ok := cs.Get("ipv")
	assert.False(t, ok)

	cs = NewChangeSet()
	decoder.HandleLine("PPV\t50\r", cs)
	assertUpdate(t, cs, "ppv", "50", "W")
	assertUpdate(t, cs, "ipv", "4.1", "A")

	cs = NewChangeSet()
	decoder.HandleLine("V\t12000\r", cs)
	assertUpdate(t, cs, "v", "12.00", "V")
	assert.Equal(t, 1, cs.Len())

	cs = NewChangeSet()
	decoder.HandleLine("I\t2000\r", cs)
	assertUpdate(t, cs, "i", "2.0", "A")
	assertUpdate(t, cs, "p", "24", "W")
	assertUpdate(t, cs, "eff", "48", "%")
	assert.Equal(t, []string{"i", "p", "eff"}, cs.Fields())

	cs = NewChangeSet()
	decoder.HandleLine("I\t2000\r", cs)
	assert.True(t, cs.IsEmpty())

	cs = NewChangeSet()
	decoder.HandleLine("PPV\t0\r", cs)
	assertUpdate(t, cs, "ppv", "0", "W")
	assertUpdate(t, cs, "ipv", "0", "mA")
	assertUpdate(t, cs, "eff", "0", "%")

	// zero volts: ipv is left alone
	cs = NewChangeSet()
	decoder.HandleLine("VPV\t0\r", cs)
	assertUpdate(t, cs, "vpv", "0", "mV")
	assert.Equal(t, 1, cs.Len())
}

func TestDecodersAreIsolated(t *testing.T) {

	schema := loadTestSchema(t)
	a := NewDecoder(schema)
	b := NewDecoder(schema)

	cs := NewChangeSet()
	a.HandleLine("V\t12340\r", cs)
	assert.Equal(t, 1, cs.Len())

	_, ok := b.Store().Get("v")
	assert.False(t, ok)

	// same line is news for b
	cs = NewChangeSet()
	b.HandleLine("V\t12340\r", cs)
	assertUpdate(t, cs, "v", "12.34", "V")
}

func TestLineFramer(t *testing.T) {

	framer := NewLineFramer(16)
	assert.Empty(t, framer.Feed([]byte("V\t12")))
	assert.Equal(t, []string{"V\t12340\r"}, framer.Feed([]byte("340\r\nI")))
	assert.Equal(t, []string{"I\t500\r"}, framer.Feed([]byte("\t500\r\n")))

	// over-long lines are cut at the buffer size
	assert.Equal(t, []string{"ABCDEFGH", "IJ"}, SplitLines([]byte("ABCDEFGHIJ\n"), 8))
	assert.Equal(t, []string{"", "x"}, SplitLines([]byte("\nx\n"), 0))
}

func TestReplaySource(t *testing.T) {

	source := NewReplaySource("testdata/smartsolar.log", DEFAULT_MAX_LINE_LENGTH)
	require.NoError(t, source.Open())
	defer source.Close()

	decoder := NewDecoder(loadTestSchema(t))

	first := source.Drain()
	require.Len(t, first, 20)
	assert.Equal(t, "Checksum\tX\r", first[len(first)-1])

	cs := NewChangeSet()
	for _, line := range first {
		decoder.HandleLine(line, cs)
	}
	assertUpdate(t, cs, "pid", "SmartSolar MPPT 75/15", "")
	assertUpdate(t, cs, "fw", "1.59", "")
	assertUpdate(t, cs, "cs", "Bulk", "")
	assertUpdate(t, cs, "h19", "12.34", "kWh")
	assertUpdate(t, cs, "h20", "450", "Wh")
	// 20 W / 18.2 V
	assertUpdate(t, cs, "ipv", "1.1", "A")
	// 12.34 V * 1.5 A = 18.51 W, 18 / 20
	assertUpdate(t, cs, "p", "18", "W")
	assertUpdate(t, cs, "eff", "90", "%")

	second := source.Drain()
	require.Len(t, second, 20)
	cs = NewChangeSet()
	for _, line := range second {
		decoder.HandleLine(line, cs)
	}
	assertUpdate(t, cs, "cs", "Absorption", "")
	_, ok := cs.Get("pid")
	assert.False(t, ok)

	assert.Empty(t, source.Drain())
}

func TestTestSourceReadFailure(t *testing.T) {

	source := NewTestSource("V\t12340\r")
	require.NoError(t, source.Open())
	assert.NoError(t, source.Err())

	source.Fail(errors.New("device unplugged"))
	source.Push("I\t500\r")
	assert.Empty(t, source.Drain())
	assert.EqualError(t, source.Err(), "device unplugged")

	// reopening clears the failure
	require.NoError(t, source.Close())
	require.NoError(t, source.Open())
	assert.NoError(t, source.Err())
	assert.Equal(t, []string{"V\t12340\r", "I\t500\r"}, source.Drain())
	assert.Equal(t, 2, source.Opens())
}
