package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/core/events"
	"github.com/berfenger/vedirect2mqtt/internal/core/port"
	. "github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const INPUT_OPEN_TIMEOUT = 5 * time.Second

type InputPollerProvider func(input config.InputConfig) port.InputPoller

// InputActor owns the decoder of one VE.Direct port. Every tick it decodes the
// lines received since the previous tick and publishes the resulting change
// set on the event stream.
type InputActor struct {
	behavior   actor.Behavior
	stash      *Stash
	scheduler  *scheduler.TimerScheduler
	cancelTick scheduler.CancelFunc

	input       config.InputConfig
	config      *config.Config
	poller      port.InputPoller
	eventStream *eventstream.EventStream

	logger *zap.Logger
}

type inputTick struct {
}

type inputOpened struct {
	Error error
}

func NewInputActor(config *config.Config, input config.InputConfig, poller port.InputPoller, eventStream *eventstream.EventStream, logger *zap.Logger) *InputActor {
	act := &InputActor{
		config:      config,
		input:       input,
		poller:      poller,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		logger:      ActorLogger(domain.InputActorId(input.Name), logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *InputActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *InputActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("input@starting started")

		NewBackgroundTask(ctx, func() (*inputOpened, error) {
			openCtx, cancel := context.WithTimeout(context.Background(), INPUT_OPEN_TIMEOUT)
			defer cancel()
			return &inputOpened{Error: state.poller.Open(openCtx)}, nil
		}).WithTimeout(INPUT_OPEN_TIMEOUT).OnError(func(err error) {
			ctx.Send(ctx.Self(), inputOpened{Error: err})
		}).PipeTo(ctx.Self())
	case inputOpened:
		if msg.Error != nil {
			// let the supervisor retry with backoff
			state.logger.Error("input@starting could not open input", zap.Error(msg.Error))
			panic(msg.Error)
		}
		state.logger.Info("input@starting opened", zap.String("device", state.input.Device), zap.String("replay_file", state.input.ReplayFile))

		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduleTick(ctx)

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.InputActorId(state.input.Name),
			Healthy: false,
			State:   "opening",
		})
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("input@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *InputActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case inputTick:
		cs := state.poller.Poll()
		if !cs.IsEmpty() {
			state.logger.Debug("input@default changes", zap.Strings("fields", cs.Fields()))
			state.eventStream.Publish(events.ChangeSetToEvent(state.input.Name, state.input.Topic, cs, false))
		}
		if err := state.poller.Err(); err != nil {
			// let the supervisor reopen the input
			state.logger.Error("input@default input failed", zap.Error(err))
			panic(err)
		}
		state.scheduleTick(ctx)
	case domain.ActorHealthRequest:
		state.logger.Debug("input@default: ActorHealthRequest")
		resp := domain.ActorHealthResponse{
			Id:      domain.InputActorId(state.input.Name),
			Healthy: true,
			State:   "polling",
		}
		if err := state.poller.Err(); err != nil {
			resp.Healthy = false
			resp.State = "failed"
			resp.ResponseError = err
		}
		ForRequest(msg).Respond(ctx, resp)
	case domain.GetCurrentDataRequest:
		state.logger.Debug("input@default: GetCurrentDataRequest")
		ForRequest(msg).Respond(ctx, domain.GetCurrentDataResponse{
			Input:  state.input.Name,
			Fields: state.poller.Snapshot().Map(),
		})
	case domain.RepublishRequest:
		state.logger.Debug("input@default: RepublishRequest")
		snapshot := state.poller.Snapshot()
		if !snapshot.IsEmpty() {
			state.eventStream.Publish(events.ChangeSetToEvent(state.input.Name, state.input.Topic, snapshot, true))
		}
		if msg.ReplyTo() != nil || ctx.Sender() != nil {
			ForRequest(msg).Respond(ctx, domain.RepublishResponse{Inputs: 1})
		}
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("input@default: ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *InputActor) scheduleTick(ctx actor.Context) {
	interval := time.Duration(state.config.ReportIntervalMillis) * time.Millisecond
	state.cancelTick = state.scheduler.RequestOnce(interval, ctx.Self(), inputTick{})
}

func (state *InputActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	if err := state.poller.Close(); err != nil {
		state.logger.Warn("input: close failed", zap.Error(err))
	}
}
