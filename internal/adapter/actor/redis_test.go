package actor

import (
	"testing"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/redis"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRedisActor(t *testing.T) {

	mr := miniredis.RunT(t)
	store := redis.NewStoreWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "test:")

	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor { return NewRedisActor(store, &es, logger) })
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.Equal(t, domain.ACTOR_ID_REDIS, resp.Id)

	es.Publish(domain.ChangeSetEvent{
		Input:  "bmv-712",
		Topic:  "bmv-712",
		Fields: []domain.FieldValue{{Field: "soc", Value: ptr("87.5"), Units: ptr("%")}},
	})

	assert.Eventually(t, func() bool {
		return mr.HGet("test:bmv-712", "soc") == `{"value":"87.5","units":"%"}`
	}, 2*time.Second, 50*time.Millisecond)

	context.Stop(pid)
	as.Shutdown()
}
