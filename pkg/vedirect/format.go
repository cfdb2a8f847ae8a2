package vedirect

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	UNITS_NONE         = ""
	UNITS_PERCENT      = "%"
	UNITS_VOLT         = "V"
	UNITS_MILLIVOLT    = "mV"
	UNITS_AMP          = "A"
	UNITS_MILLIAMP     = "mA"
	UNITS_AMP_HOUR     = "Ah"
	UNITS_MILLIAMP_H   = "mAh"
	UNITS_WATT         = "W"
	UNITS_WATT_HOUR    = "Wh"
	UNITS_KILOWATT_H   = "kWh"
	UNITS_CELSIUS      = "°C"
	UNITS_MINUTES      = "min"
	UNITS_SECONDS      = "sec"
	NO_ALARM_LABEL     = "No alarm"
	NOT_OFF_LABEL      = "Not off"
	BITMASK_SEPARATOR  = " | "
	RELEASE_CANDIDATE  = " (RC)"
	FW_CANDIDATE_TOKEN = 'C'
)

type formatFunc func(f Formatter, raw string) (value, units string)

// Formatter turns raw VE.Direct values into display values and units.
type Formatter struct {
	schema *Schema
}

func NewFormatter(schema *Schema) Formatter {
	return Formatter{schema: schema}
}

var formatters = map[TypeTag]formatFunc{
	TYPE_PERCENTAGE:       passthrough(UNITS_PERCENT),
	TYPE_TENTHS_PERCENT:   scaled(10, 1, UNITS_PERCENT),
	TYPE_HUNDREDTHS_VOLT:  scaled(100, 2, UNITS_VOLT),
	TYPE_HUNDREDTHS_KWH:   formatEnergy,
	TYPE_TENTHS_AMP:       scaled(10, 1, UNITS_AMP),
	TYPE_WATTS:            passthrough(UNITS_WATT),
	TYPE_COUNT:            passthrough(UNITS_NONE),
	TYPE_TEMPERATURE_C:    passthrough(UNITS_CELSIUS),
	TYPE_FIRMWARE_VERSION: formatFirmware,
	TYPE_MILLIAMP:         milli(1, UNITS_MILLIAMP, UNITS_AMP),
	TYPE_MILLIAMP_HOUR:    milli(2, UNITS_MILLIAMP_H, UNITS_AMP_HOUR),
	TYPE_MILLIVOLT:        milli(2, UNITS_MILLIVOLT, UNITS_VOLT),
	TYPE_ALARM_REASONS:    bitmask(MAP_ALARM_REASONS, NO_ALARM_LABEL),
	TYPE_OFF_REASONS:      bitmask(MAP_OFF_REASONS, NOT_OFF_LABEL),
	TYPE_CODED_STATE:      coded(MAP_STATE, "state"),
	TYPE_CODED_ERROR:      coded(MAP_ERROR, "error"),
	TYPE_CODED_MODE:       coded(MAP_MODE, "mode"),
	TYPE_CODED_MPPT_STATE: coded(MAP_MPPT_STATE, "mppt"),
	TYPE_CODED_PRODUCT_ID: formatProduct,
	TYPE_MINUTES:          passthrough(UNITS_MINUTES),
	TYPE_ON_OFF:           passthrough(UNITS_NONE),
	TYPE_DAY_OF_YEAR:      passthrough(UNITS_NONE),
	TYPE_SECONDS:          passthrough(UNITS_SECONDS),
	TYPE_SERIAL_NUMBER:    passthrough(UNITS_NONE),
	TYPE_PLAIN_STRING:     passthrough(UNITS_NONE),
}

// Format returns the display value and units for raw. ok is false for type
// tags the formatter does not know; callers must then produce nothing.
func (f Formatter) Format(tag TypeTag, raw string) (value, units string, ok bool) {
	fn, ok := formatters[tag]
	if !ok {
		return "", "", false
	}
	value, units = fn(f, raw)
	return value, units, true
}

func KnownTypeTag(tag TypeTag) bool {
	_, ok := formatters[tag]
	return ok
}

func passthrough(units string) formatFunc {
	return func(_ Formatter, raw string) (string, string) {
		return raw, units
	}
}

func scaled(divisor float32, decimals int, units string) formatFunc {
	return func(_ Formatter, raw string) (string, string) {
		tmp := float32(atoi(raw))
		return formatFloat32(tmp/divisor, decimals), units
	}
}

// milli keeps small readings in the milli unit as sent and switches to the
// base unit from 1000 upwards.
func milli(decimals int, smallUnits, largeUnits string) formatFunc {
	return func(_ Formatter, raw string) (string, string) {
		tmp := float32(atoi(raw))
		if tmp > -1000 && tmp < 1000 {
			return raw, smallUnits
		}
		return formatFloat32(tmp/1000, decimals), largeUnits
	}
}

// formatEnergy: raw is in 0.01 kWh, small values are shown as Wh.
func formatEnergy(_ Formatter, raw string) (string, string) {
	tmp := float32(atoi(raw))
	if tmp > -100 && tmp < 100 {
		return strconv.Itoa(int(tmp * 10)), UNITS_WATT_HOUR
	}
	return formatFloat32(tmp/100, 2), UNITS_KILOWATT_H
}

// formatFloat32 rounds the exact single precision value, so half-way
// readings like 1.45 A or 1.065 V land where the device firmware puts them.
func formatFloat32(f float32, decimals int) string {
	return strconv.FormatFloat(float64(f), 'f', decimals, 32)
}

// formatFirmware: "156" is 1.56, "C208" is release candidate 2.08.
func formatFirmware(_ Formatter, raw string) (string, string) {
	candidate := false
	version := raw
	if len(version) > 0 && version[0] == FW_CANDIDATE_TOKEN {
		candidate = true
		version = version[1:]
	}
	if len(version) == 0 {
		return raw, UNITS_NONE
	}
	value := fmt.Sprintf("%c.%s", version[0], version[1:])
	if candidate {
		value += RELEASE_CANDIDATE
	}
	return value, UNITS_NONE
}

func bitmask(mapName MapName, zeroLabel string) formatFunc {
	return func(f Formatter, raw string) (string, string) {
		reasons := atoi(raw)
		if reasons == 0 {
			return zeroLabel, UNITS_NONE
		}
		return strings.Join(f.schema.MapBitsSet(mapName, reasons), BITMASK_SEPARATOR), UNITS_NONE
	}
}

func coded(mapName MapName, kind string) formatFunc {
	return func(f Formatter, raw string) (string, string) {
		if label, ok := f.schema.MapLookup(mapName, atoi(raw)); ok {
			return label, UNITS_NONE
		}
		return fmt.Sprintf("Unknown %s (%s)", kind, raw), UNITS_NONE
	}
}

func formatProduct(f Formatter, raw string) (string, string) {
	if label, ok := f.schema.ProductLookup(raw); ok {
		return label, UNITS_NONE
	}
	return fmt.Sprintf("Unknown product (%s)", raw), UNITS_NONE
}
