package events

import (
	"encoding/json"

	. "github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"
)

const PAYLOAD_INDENT = "  "

func ChangeSetToEvent(input, topic string, cs *vedirect.ChangeSet, snapshot bool) ChangeSetEvent {
	ev := ChangeSetEvent{
		Input:    input,
		Topic:    topic,
		Snapshot: snapshot,
	}
	for _, field := range cs.Fields() {
		u, _ := cs.Get(field)
		ev.Fields = append(ev.Fields, FieldValue{
			Field: field,
			Value: u.Value,
			Units: u.Units,
		})
	}
	return ev
}

// FieldPayload renders the pretty-printed {"value": ..., "units": ...} object
// published for one field.
func FieldPayload(fv FieldValue) (string, error) {
	payload, err := json.MarshalIndent(vedirect.FieldUpdate{
		Value: fv.Value,
		Units: fv.Units,
	}, "", PAYLOAD_INDENT)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
