package actor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/core/port"
	"github.com/berfenger/vedirect2mqtt/internal/core/service"
	"github.com/berfenger/vedirect2mqtt/internal/util"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const SCHEMA_FILE = "../../../configs/victron_data_def.json"

type eventCollector struct {
	mu     sync.Mutex
	events []domain.ChangeSetEvent
}

func (c *eventCollector) collect(value any) {
	if ev, ok := value.(domain.ChangeSetEvent); ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, ev)
	}
}

func (c *eventCollector) all() []domain.ChangeSetEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChangeSetEvent(nil), c.events...)
}

func (c *eventCollector) snapshots() int {
	n := 0
	for _, ev := range c.all() {
		if ev.Snapshot {
			n++
		}
	}
	return n
}

// testPollers builds pollers over in-memory sources, one per input.
func testPollers(t *testing.T, logger *zap.Logger) (InputPollerProvider, func(name string) *vedirect.TestSource) {
	schema, err := vedirect.LoadSchemaFile(SCHEMA_FILE)
	require.NoError(t, err)
	var mu sync.Mutex
	sources := map[string]*vedirect.TestSource{}
	source := func(name string) *vedirect.TestSource {
		mu.Lock()
		defer mu.Unlock()
		s, ok := sources[name]
		if !ok {
			s = vedirect.NewTestSource()
			sources[name] = s
		}
		return s
	}
	return func(input config.InputConfig) port.InputPoller {
		return service.NewInputPollerWithSource(input.Name, source(input.Name), schema, logger)
	}, source
}

func TestInputActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logger := zap.NewNop()
	provider, sources := testPollers(t, logger)
	input := cfg.Inputs[1]

	es := &eventstream.EventStream{}
	collector := &eventCollector{}
	es.Subscribe(collector.collect)

	poller := provider(input)
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewInputActor(&cfg, input, poller, es, logger)
	})
	pid := context.Spawn(props)

	sources(input.Name).Push("V\t12340\r", "VPV\t18200\r", "PPV\t20\r", "Checksum\tX\r")

	assert.Eventually(t, func() bool { return len(collector.all()) == 1 }, 2*time.Second, 20*time.Millisecond)
	ev := collector.all()[0]
	assert.Equal(t, "solar_100_50", ev.Input)
	assert.Equal(t, "solar/100-50", ev.Topic)
	assert.False(t, ev.Snapshot)
	var fields []string
	for _, fv := range ev.Fields {
		fields = append(fields, fv.Field)
	}
	assert.Equal(t, []string{"v", "vpv", "ppv", "ipv"}, fields)

	// unchanged values produce no event
	sources(input.Name).Push("V\t12340\r")
	time.Sleep(3 * time.Duration(cfg.ReportIntervalMillis) * time.Millisecond)
	assert.Len(t, collector.all(), 1)

	res, err := context.RequestFuture(pid, domain.GetCurrentDataRequest{Input: input.Name}, time.Second).Result()
	require.NoError(t, err)
	data, ok := res.(domain.GetCurrentDataResponse)
	require.True(t, ok)
	assert.Len(t, data.Fields, 4)
	assert.Equal(t, "1.1", data.Fields["ipv"].ValueOrEmpty())
	assert.Equal(t, "A", data.Fields["ipv"].UnitsOrEmpty())

	res, err = context.RequestFuture(pid, domain.RepublishRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.Equal(t, domain.RepublishResponse{Inputs: 1}, res)
	assert.Eventually(t, func() bool { return collector.snapshots() == 1 }, time.Second, 20*time.Millisecond)

	res, err = context.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	health, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, health.Healthy)
	assert.Equal(t, "input_solar_100_50", health.Id)

	context.Stop(pid)
	as.Shutdown()
}

func inputHealth(t *testing.T, context *actor.RootContext, pid *actor.PID) domain.ActorHealthResponse {
	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	health, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	return health
}

func TestInputActorReportsFailedInput(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	// no tick during the test, the failure stays observable
	cfg.ReportIntervalMillis = 60000
	logger := zap.NewNop()
	provider, sources := testPollers(t, logger)
	input := cfg.Inputs[0]

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewInputActor(&cfg, input, provider(input), &eventstream.EventStream{}, logger)
	})
	pid := context.Spawn(props)

	assert.Eventually(t, func() bool { return inputHealth(t, context, pid).Healthy }, time.Second, 20*time.Millisecond)

	sources(input.Name).Fail(errors.New("device unplugged"))
	health := inputHealth(t, context, pid)
	assert.False(t, health.Healthy)
	assert.Equal(t, "failed", health.State)
	assert.EqualError(t, health.GetResponseError(), "device unplugged")

	context.Stop(pid)
	as.Shutdown()
}

func TestInputActorReopensFailedInput(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logger := zap.NewNop()
	provider, sources := testPollers(t, logger)
	input := cfg.Inputs[0]
	source := sources(input.Name)

	es := &eventstream.EventStream{}
	collector := &eventCollector{}
	es.Subscribe(collector.collect)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewInputActor(&cfg, input, provider(input), es, logger)
	})
	pid := context.Spawn(props)

	source.Push("V\t12650\r")
	assert.Eventually(t, func() bool { return len(collector.all()) == 1 }, 2*time.Second, 20*time.Millisecond)

	source.Fail(errors.New("device unplugged"))
	assert.Eventually(t, func() bool { return source.Opens() == 2 }, 2*time.Second, 20*time.Millisecond)

	// the reopened input decodes from scratch
	source.Push("V\t12650\r")
	assert.Eventually(t, func() bool { return len(collector.all()) == 2 }, 2*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return inputHealth(t, context, pid).Healthy }, time.Second, 20*time.Millisecond)

	context.Stop(pid)
	as.Shutdown()
}
