package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/metrics"
	"github.com/berfenger/vedirect2mqtt/internal/redis"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

const REDIS_TIMEOUT = 2 * time.Second

// RedisActor mirrors every change set of the event stream into Redis.
type RedisActor struct {
	behavior       actor.Behavior
	stash          *actorutil.Stash
	store          *redis.Store
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	logger         *zap.Logger
}

type redisConnected struct {
	Error error
}

type redisWritten struct {
	Error error
}

func NewRedisActor(store *redis.Store, eventStream *eventstream.EventStream, logger *zap.Logger) *RedisActor {
	act := &RedisActor{
		store:       store,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_REDIS, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *RedisActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *RedisActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("redis@starting started")
		actorutil.NewBackgroundTask(ctx, func() (*redisConnected, error) {
			pingCtx, cancel := context.WithTimeout(context.Background(), REDIS_TIMEOUT)
			defer cancel()
			return &redisConnected{Error: state.store.Ping(pingCtx)}, nil
		}).WithTimeout(REDIS_TIMEOUT).OnError(func(err error) {
			ctx.Send(ctx.Self(), redisConnected{Error: err})
		}).PipeTo(ctx.Self())
	case redisConnected:
		if msg.Error != nil {
			// let the supervisor retry with backoff
			state.logger.Error("redis@starting could not connect", zap.Error(msg.Error))
			panic(msg.Error)
		}
		state.logger.Debug("redis@starting connected")

		// subscribe to eventStream
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			if ev, ok := value.(domain.ChangeSetEvent); ok {
				ctx.Send(ctx.Self(), OnEventStreamMessage{Event: ev})
			}
		})

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("redis@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *RedisActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("redis@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_REDIS,
			Healthy: true,
			State:   "idle",
		})
	case OnEventStreamMessage:
		state.logger.Debug("redis@default ChangeSetEvent", zap.String("input", msg.Event.Input))
		ev := msg.Event
		actorutil.NewBackgroundTask(ctx, func() (*redisWritten, error) {
			writeCtx, cancel := context.WithTimeout(context.Background(), REDIS_TIMEOUT)
			defer cancel()
			return &redisWritten{Error: state.store.WriteChangeSet(writeCtx, ev)}, nil
		}).WithTimeout(REDIS_TIMEOUT).OnError(func(err error) {
			ctx.Send(ctx.Self(), redisWritten{Error: err})
		}).PipeTo(ctx.Self())
	case redisWritten:
		if msg.Error != nil {
			metrics.RedisErrors.Inc()
			state.logger.Error("redis@default could not write change set", zap.Error(msg.Error))
		}
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("redis@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *RedisActor) stop() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if err := state.store.Close(); err != nil {
		state.logger.Debug("redis: close failed", zap.Error(err))
	}
}
