package actor

import (
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/vedirect2mqtt/internal/adapter/actor"
	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	. "github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const HEALTH_CHECK_TIMEOUT = 1 * time.Second

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type RedisActorProvider func(*eventstream.EventStream) *adactor.RedisActor

type MasterOfPuppetsActor struct {
	config    config.Config
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	currentHealthCheck  healthCheckResult
	eventStream         *eventstream.EventStream
	mqttActor           *actor.PID
	redisActor          *actor.PID
	inputActors         map[string]*actor.PID
	snapshotTrigger     *quartz.CronTrigger
	mqttActorProvider   MQTTActorProvider
	redisActorProvider  RedisActorProvider
	inputPollerProvider InputPollerProvider
	logger              *zap.Logger
}

type healthCheckResult struct {
	expected  int
	healthy   map[string]bool
	respondTo *actor.PID
}

type snapshotTick struct {
}

func NewMasterOfPuppetsActor(config config.Config, mqttActorProvider MQTTActorProvider, redisActorProvider RedisActorProvider,
	inputPollerProvider InputPollerProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:              config,
		behavior:            actor.NewBehavior(),
		stash:               &Stash{},
		logger:              ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:         &eventstream.EventStream{},
		inputActors:         map[string]*actor.PID{},
		mqttActorProvider:   mqttActorProvider,
		redisActorProvider:  redisActorProvider,
		inputPollerProvider: inputPollerProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset(0)

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start Redis child
		if state.config.Redis.Enable && state.redisActorProvider != nil {
			redisActorPID, err := state.startRedisActor(ctx)
			if err != nil {
				panic(err)
			}
			state.redisActor = redisActorPID
		}

		// start one child per input
		for _, input := range state.config.Inputs {
			inputActorPID, err := state.startInputActor(ctx, input)
			if err != nil {
				panic(err)
			}
			state.inputActors[input.Name] = inputActorPID
		}

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		// periodic retained snapshots
		if state.config.SnapshotCron != "" {
			trigger, err := quartz.NewCronTrigger(state.config.SnapshotCron)
			if err != nil {
				panic(err)
			}
			state.snapshotTrigger = trigger
			state.scheduler = scheduler.NewTimerScheduler(ctx)
			state.scheduleSnapshot(ctx)
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		children := state.children()
		state.currentHealthCheck.reset(len(children))
		state.currentHealthCheck.respondTo = ForRequest(msg).ReplyTo(ctx)
		for id, pid := range children {
			childId := id
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      childId,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(HEALTH_CHECK_TIMEOUT)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.ActorHealthResponse:
		// late answer of a finished health check
	case domain.GetCurrentDataRequest:
		state.logger.Debug("master@default GetCurrentDataRequest", zap.String("input", msg.Input))
		pid, ok := state.inputActors[msg.Input]
		if !ok {
			ForRequest(msg).Respond(ctx, domain.GetCurrentDataResponse{
				ActorResponseMixIn: domain.ErrorResponse(&domain.UnknownInputError{Input: msg.Input}),
				Input:              msg.Input,
			})
			return
		}
		ctx.RequestWithCustomSender(pid, msg, ForRequest(msg).ReplyTo(ctx))
	case domain.RepublishRequest:
		state.logger.Debug("master@default RepublishRequest", zap.String("input", msg.Input))
		inputs, err := state.republish(ctx, msg.Input)
		resp := domain.RepublishResponse{Inputs: inputs}
		if err != nil {
			resp.ActorResponseMixIn = domain.ErrorResponse(err)
		}
		if msg.ReplyTo() != nil || ctx.Sender() != nil {
			ForRequest(msg).Respond(ctx, resp)
		}
	case snapshotTick:
		state.logger.Debug("master@default snapshot")
		state.republish(ctx, "")
		state.scheduleSnapshot(ctx)
	case adactor.ParsedCommand:
		// redirect parsedCommand to actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToRequest(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default unsupported command", zap.Error(err))
				return
			}
			switch pcmd := cmd.(type) {
			case domain.RepublishRequest:
				state.republish(ctx, pcmd.Input)
			}
		}
	case *actor.Terminated:
		state.logger.Warn("master@default child terminated", zap.String("child", msg.Who.Id))
	default:
		state.logger.Debug("master@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.finishHealthCheck(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.healthy[msg.Id] = msg.Healthy
		if state.currentHealthCheck.allReceived() {
			state.finishHealthCheck(ctx)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) finishHealthCheck(ctx actor.Context) {
	ctx.CancelReceiveTimeout()
	state.currentHealthCheck.respond(ctx)
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

// republish asks one input, or every input when input is empty, to publish its
// whole table. The inputs get no sender, so nothing answers back.
func (state *MasterOfPuppetsActor) republish(ctx actor.Context, input string) (int, error) {
	targets := state.inputActors
	if input != "" {
		pid, ok := state.inputActors[input]
		if !ok {
			state.logger.Warn("master@republish unknown input", zap.String("input", input))
			return 0, &domain.UnknownInputError{Input: input}
		}
		targets = map[string]*actor.PID{input: pid}
	}
	for _, pid := range targets {
		ctx.Send(pid, domain.RepublishRequest{Input: input})
	}
	return len(targets), nil
}

func (state *MasterOfPuppetsActor) scheduleSnapshot(ctx actor.Context) {
	now := time.Now()
	next, err := state.snapshotTrigger.NextFireTime(now.UnixNano())
	if err != nil {
		state.logger.Error("master@snapshot no next fire time", zap.Error(err))
		return
	}
	state.scheduler.SendOnce(time.Unix(0, next).Sub(now), ctx.Self(), snapshotTick{})
}

func (state *MasterOfPuppetsActor) children() map[string]*actor.PID {
	children := map[string]*actor.PID{
		domain.ACTOR_ID_MQTT: state.mqttActor,
	}
	if state.redisActor != nil {
		children[domain.ACTOR_ID_REDIS] = state.redisActor
	}
	for name, pid := range state.inputActors {
		children[domain.InputActorId(name)] = pid
	}
	return children
}

func (state *MasterOfPuppetsActor) startInputActor(ctx actor.Context, input config.InputConfig) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	inputProps := actor.PropsFromProducer(func() actor.Actor {
		return NewInputActor(&state.config, input, state.inputPollerProvider(input), state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(inputProps, domain.InputActorId(input.Name))
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startRedisActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	redisProps := actor.PropsFromProducer(func() actor.Actor {
		return state.redisActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(redisProps, domain.ACTOR_ID_REDIS)
}

func (state *healthCheckResult) reset(expected int) {
	state.expected = expected
	state.healthy = make(map[string]bool, expected)
	state.respondTo = nil
}

func (state *healthCheckResult) allReceived() bool {
	return len(state.healthy) >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	if len(state.healthy) < state.expected {
		return false
	}
	for _, healthy := range state.healthy {
		if !healthy {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
