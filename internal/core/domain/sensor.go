package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"
	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
	FIELD_VALUE_TEMPLATE         = "{{ value_json.value }}"
)

// units are not fixed per field (mA/A, Wh/kWh), so they only pick an icon
var unitIcons = map[string]string{
	vedirect.UNITS_VOLT:       "mdi:flash-triangle",
	vedirect.UNITS_MILLIVOLT:  "mdi:flash-triangle",
	vedirect.UNITS_AMP:        "mdi:current-dc",
	vedirect.UNITS_MILLIAMP:   "mdi:current-dc",
	vedirect.UNITS_WATT:       "mdi:lightning-bolt",
	vedirect.UNITS_WATT_HOUR:  "mdi:counter",
	vedirect.UNITS_KILOWATT_H: "mdi:counter",
	vedirect.UNITS_AMP_HOUR:   "mdi:battery-charging",
	vedirect.UNITS_MILLIAMP_H: "mdi:battery-charging",
	vedirect.UNITS_PERCENT:    "mdi:percent",
	vedirect.UNITS_CELSIUS:    "mdi:thermometer",
	vedirect.UNITS_MINUTES:    "mdi:timer-sand",
	vedirect.UNITS_SECONDS:    "mdi:timer-outline",
}

// energy counters only grow or reset; everything else with a unit is a reading
var unitStateClasses = map[string]string{
	vedirect.UNITS_VOLT:       STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_MILLIVOLT:  STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_AMP:        STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_MILLIAMP:   STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_WATT:       STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_AMP_HOUR:   STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_MILLIAMP_H: STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_PERCENT:    STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_CELSIUS:    STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_MINUTES:    STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_SECONDS:    STATE_CLASS_MEASUREMENT,
	vedirect.UNITS_WATT_HOUR:  STATE_CLASS_TOTAL_INCREASING,
	vedirect.UNITS_KILOWATT_H: STATE_CLASS_TOTAL_INCREASING,
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("vedirect_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "VE.Direct bridge",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("VE.Direct %s", md5HashShort(baseTopic)),
	}
}

func InputDevice(baseTopic, inputName string) Device {
	return Device{
		Id:           fmt.Sprintf("vedirect_input_%s", md5HashShort(baseTopic+"/"+inputName)),
		Manufacturer: "Victron Energy",
		Model:        "VE.Direct",
		Name:         fmt.Sprintf("Victron %s", inputName),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection state
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

// FieldSensor describes one decoded field of an input. The state topic carries
// the {"value","units"} payload, so the value is templated out of it and the
// units are exposed as an attribute.
func FieldSensor(inputDevice Device, field, stateTopic, units string) GenericSensor {
	id := sensorId(field)
	return GenericSensor{
		Device:          inputDevice,
		Id:              id,
		SensorType:      SENSOR_TYPE_SENSOR,
		Name:            strings.ToUpper(field),
		UniqueId:        uniqueId(inputDevice.Id, id),
		Icon:            unitIcons[units],
		StateClass:      unitStateClasses[units],
		StateTopic:      stateTopic,
		ValueTemplate:   FIELD_VALUE_TEMPLATE,
		AttributesTopic: stateTopic,
	}
}

func sensorId(field string) string {
	return strings.ReplaceAll(field, "#", "_")
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
