package actor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/util"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ptr(s string) *string {
	return &s
}

func TestChangeSetMessages(t *testing.T) {

	cfg := util.LoadTestConfig()

	msgs, err := changeSetMessages(&cfg, domain.ChangeSetEvent{
		Input: "solar_100_50",
		Topic: "solar/100-50",
		Fields: []domain.FieldValue{
			{Field: "v", Value: ptr("12.34"), Units: ptr("V")},
			{Field: "ser#", Value: ptr("HQ2132QY2KR"), Units: ptr("")},
		},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "vedirect/solar/100-50/v", msgs[0].topic)
	assert.Equal(t, "{\n  \"value\": \"12.34\",\n  \"units\": \"V\"\n}", msgs[0].message)
	assert.False(t, msgs[0].retain)
	assert.Equal(t, "vedirect/solar/100-50/ser-", msgs[1].topic)

	// snapshots are retained
	msgs, err = changeSetMessages(&cfg, domain.ChangeSetEvent{
		Input:    "bmv-712",
		Topic:    "bmv-712",
		Fields:   []domain.FieldValue{{Field: "v", Value: ptr("12.34"), Units: ptr("V")}},
		Snapshot: true,
	})
	require.NoError(t, err)
	assert.True(t, msgs[0].retain)

	cfg.MQTT.Retain = true
	msgs, err = changeSetMessages(&cfg, domain.ChangeSetEvent{
		Input:  "bmv-712",
		Topic:  "bmv-712",
		Fields: []domain.FieldValue{{Field: "v", Value: ptr("12.34"), Units: ptr("V")}},
	})
	require.NoError(t, err)
	assert.True(t, msgs[0].retain)
}

func TestMQTTActor(t *testing.T) {

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	es := eventstream.EventStream{}
	recorder := NewPublishRecorder()

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, &es, recorder, logger) })
	pid := context.Spawn(props)

	time.Sleep(500 * time.Millisecond)

	msg := domain.ActorHealthRequest{}
	result, err := context.RequestFuture(pid, msg, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, resp.Healthy)

	es.Publish(domain.ChangeSetEvent{
		Input: "bmv-712",
		Topic: "bmv-712",
		Fields: []domain.FieldValue{
			{Field: "v", Value: ptr("12.34"), Units: ptr("V")},
			{Field: "i", Value: ptr("-350"), Units: ptr("mA")},
		},
	})

	assert.Eventually(t, func() bool { return recorder.Len() == 2 }, 2*time.Second, 50*time.Millisecond)
	payload, retained, ok := recorder.Last("vedirect/bmv-712/i")
	require.True(t, ok)
	assert.False(t, retained)
	assert.Contains(t, payload, `"value": "-350"`)

	context.Send(pid, domain.PublishDiscoveryRequest{
		Sensors: domain.BridgeSensors(domain.BridgeDevice(cfg.MQTT.BaseTopic)),
	})
	assert.Eventually(t, func() bool { return recorder.Len() == 3 }, 2*time.Second, 50*time.Millisecond)

	context.Stop(pid)

	time.Sleep(200 * time.Millisecond)

	as.Shutdown()
}

func TestMQTTActorRestartWhilePublishing(t *testing.T) {

	cfg := util.LoadTestConfig()
	logger := zap.NewNop()

	as := actor.NewActorSystem()
	context := as.Root

	es := &eventstream.EventStream{}
	recorder := NewPublishRecorder()

	var incarnations atomic.Int32
	props := actor.PropsFromProducer(func() actor.Actor {
		act := NewTestMQTTActor(&cfg, es, recorder, logger)
		if incarnations.Add(1) == 1 {
			// first incarnation is waiting for a publish batch when the connection drops
			act.behavior.Become(func(ctx actor.Context) {
				act.DummyReceive(ctx)
				if _, ok := ctx.Message().(*actor.Started); ok {
					act.pending = 1
					act.behavior.BecomeStacked(act.PublishResultReceive)
				}
			})
		}
		return act
	})
	pid := context.Spawn(props)
	assert.Eventually(t, func() bool { return es.Length() == 1 }, time.Second, 10*time.Millisecond)

	context.Send(pid, MQTTConnectionLost{Error: errors.New("broker went away")})
	assert.Eventually(t, func() bool { return incarnations.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return es.Length() == 1 }, time.Second, 10*time.Millisecond)

	es.Publish(domain.ChangeSetEvent{
		Input:  "bmv-712",
		Topic:  "bmv-712",
		Fields: []domain.FieldValue{{Field: "v", Value: ptr("12.34"), Units: ptr("V")}},
	})
	assert.Eventually(t, func() bool { return recorder.Count("vedirect/bmv-712/v") == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, recorder.Count("vedirect/bmv-712/v"))
	assert.Equal(t, int32(1), es.Length())

	context.Stop(pid)
	as.Shutdown()
}
