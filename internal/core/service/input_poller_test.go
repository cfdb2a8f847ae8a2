package service

import (
	"context"
	"errors"
	"testing"

	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const SCHEMA_FILE = "../../../configs/victron_data_def.json"

func testPoller(t *testing.T, lines ...string) (*DefaultInputPoller, *vedirect.TestSource) {
	schema, err := vedirect.LoadSchemaFile(SCHEMA_FILE)
	require.NoError(t, err)
	source := vedirect.NewTestSource(lines...)
	return NewInputPollerWithSource("bmv", source, schema, zap.NewNop()), source
}

func TestPollDecodesBufferedLines(t *testing.T) {

	poller, source := testPoller(t, "V\t12340\r", "I\t-1500\r", "Checksum\t\x12\r", "BOGUS\t1\r")
	require.NoError(t, poller.Open(context.Background()))
	defer poller.Close()

	cs := poller.Poll()
	assert.Equal(t, []string{"v", "i", "p"}, cs.Fields())
	u, _ := cs.Get("p")
	assert.Equal(t, "-18", u.ValueOrEmpty())

	// nothing new
	assert.True(t, poller.Poll().IsEmpty())

	source.Push("V\t12340\r", "CS\t5\r")
	cs = poller.Poll()
	assert.Equal(t, []string{"cs"}, cs.Fields())
	u, _ = cs.Get("cs")
	assert.Equal(t, "Float", u.ValueOrEmpty())
}

func TestPollerSnapshot(t *testing.T) {

	poller, _ := testPoller(t, "V\t12340\r", "PID\t0xA053\r")
	require.NoError(t, poller.Open(context.Background()))
	poller.Poll()

	snapshot := poller.Snapshot()
	assert.Equal(t, []string{"pid", "v"}, snapshot.Fields())
	u, _ := snapshot.Get("v")
	assert.Equal(t, "12.34", u.ValueOrEmpty())
	assert.Equal(t, "V", u.UnitsOrEmpty())
}

func TestPollerOpenErrors(t *testing.T) {

	poller, source := testPoller(t)
	source.OpenErr = errors.New("no such device")
	assert.ErrorContains(t, poller.Open(context.Background()), "no such device")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	source.OpenErr = nil
	assert.ErrorIs(t, poller.Open(ctx), context.Canceled)
}

func TestNewLineSource(t *testing.T) {

	serial := NewLineSource(config.InputConfig{Name: "bmv", Device: "/dev/ttyUSB0", BaudRate: 19200}, zap.NewNop())
	assert.IsType(t, &vedirect.SerialSource{}, serial)

	replay := NewLineSource(config.InputConfig{Name: "bmv", ReplayFile: "capture.log"}, zap.NewNop())
	assert.IsType(t, &vedirect.ReplaySource{}, replay)
}

func TestPollerSurfacesSourceFailure(t *testing.T) {

	poller, source := testPoller(t, "V\t12340\r")
	require.NoError(t, poller.Open(context.Background()))
	assert.NoError(t, poller.Err())

	source.Fail(errors.New("device unplugged"))
	assert.True(t, poller.Poll().IsEmpty())
	assert.EqualError(t, poller.Err(), "device unplugged")
}
