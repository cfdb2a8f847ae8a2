package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/mqtt"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// HADiscoveryActor announces the bridge once MQTT is up, then announces every
// input field the first time it shows up on the event stream.
type HADiscoveryActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	mqttActor      *actor.PID
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	bridgeDevice   domain.Device
	announced      map[string]bool
	devices        map[string]bool

	logger *zap.Logger
}

type discoveryEvent struct {
	event domain.ChangeSetEvent
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		mqttActor:   mqttActor,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		announced:   map[string]bool{},
		devices:     map[string]bool{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}

		state.bridgeDevice = domain.BridgeDevice(state.config.MQTT.BaseTopic)
		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: domain.BridgeSensors(state.bridgeDevice),
		})

		// subscribe to eventStream
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			if ev, ok := value.(domain.ChangeSetEvent); ok {
				ctx.Send(ctx.Self(), discoveryEvent{event: ev})
			}
		})

		state.behavior.Become(state.DiscoveryReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DiscoveryReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case discoveryEvent:
		sensors := state.newFieldSensors(msg.event)
		if len(sensors) > 0 {
			state.logger.Debug("hadiscovery@discovery: announce", zap.String("input", msg.event.Input), zap.Int("sensors", len(sensors)))
			ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
				Sensors: sensors,
			})
		}
	case *actor.Restarting:
		state.unsubscribe()
	case *actor.Stopping:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@discovery: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) newFieldSensors(ev domain.ChangeSetEvent) []domain.GenericSensor {
	var sensors []domain.GenericSensor
	inputDevice := domain.InputDevice(state.config.MQTT.BaseTopic, ev.Input)
	inputDevice.ViaDevice = state.bridgeDevice.Id
	for _, fv := range ev.Fields {
		key := ev.Input + "/" + fv.Field
		if state.announced[key] {
			continue
		}
		state.announced[key] = true
		units := ""
		if fv.Units != nil {
			units = *fv.Units
		}
		sensor := domain.FieldSensor(inputDevice, fv.Field, mqtt.FieldTopic(state.config.MQTT.BaseTopic, ev.Topic, fv.Field), units)
		// the full device description travels once per input
		if state.devices[ev.Input] {
			sensor.Device = domain.IdDevice(inputDevice)
		}
		state.devices[ev.Input] = true
		sensors = append(sensors, sensor)
	}
	return sensors
}

func (state *HADiscoveryActor) unsubscribe() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
}
