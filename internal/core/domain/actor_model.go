package domain

import (
	"fmt"

	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_REDIS        = "redis"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
	ACTOR_ID_INPUT_PREFIX = "input_"
)

func InputActorId(inputName string) string {
	return fmt.Sprintf("%s%s", ACTOR_ID_INPUT_PREFIX, inputName)
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// GetCurrentDataRequest asks an input for its whole field table.
type GetCurrentDataRequest struct {
	ActorRequestMixIn
	Input string
}

type GetCurrentDataResponse struct {
	ActorResponseMixIn
	Input  string
	Fields map[string]vedirect.FieldUpdate
}

// RepublishRequest makes an input publish its whole table again, retained.
// An empty Input targets every input.
type RepublishRequest struct {
	ActorRequestMixIn
	Input string
}

type RepublishResponse struct {
	ActorResponseMixIn
	Inputs int
}
