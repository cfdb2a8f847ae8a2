package vedirect

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	FIELD_PANEL_VOLTAGE   = "vpv"
	FIELD_PANEL_POWER     = "ppv"
	FIELD_PANEL_CURRENT   = "ipv"
	FIELD_BATTERY_VOLTAGE = "v"
	FIELD_BATTERY_CURRENT = "i"
	FIELD_BATTERY_POWER   = "p"
	FIELD_EFFICIENCY      = "eff"
)

var ErrDivisionByZero = errors.New("division by zero")

// DerivationError suppresses one derived update; it never leaves the store.
type DerivationError struct {
	Rule string
	Err  error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("derivation %s: %v", e.Rule, e.Err)
}

func (e *DerivationError) Unwrap() error {
	return e.Err
}

// derivations maps a trigger field to its rule. p is both measured and
// derived, so v and i updates cascade into p -> eff. ipv and eff have no rule,
// which keeps the graph acyclic; nothing enforces that.
var derivations = map[string]Listener{
	FIELD_PANEL_VOLTAGE:   panelVoltageUpdated,
	FIELD_PANEL_POWER:     panelPowerUpdated,
	FIELD_BATTERY_VOLTAGE: batteryVoltageUpdated,
	FIELD_BATTERY_CURRENT: batteryCurrentUpdated,
	FIELD_BATTERY_POWER:   batteryPowerUpdated,
}

// RegisterDerivations installs the derived-value rules on store.
func RegisterDerivations(store *FieldStore) {
	for field, rule := range derivations {
		store.AddListener(field, rule)
	}
}

func toVolts(value, units string) float32 {
	volts := float32(atof(value))
	if units == UNITS_MILLIVOLT {
		volts /= 1000.0
	}
	return volts
}

func toAmps(value, units string) float32 {
	amps := float32(atof(value))
	if units == UNITS_MILLIAMP {
		amps /= 1000.0
	}
	return amps
}

func panelCurrent(watts, volts float32) (float32, error) {
	if volts == 0 {
		return 0, &DerivationError{Rule: "ipv", Err: ErrDivisionByZero}
	}
	return watts / volts, nil
}

// efficiency is battery power over panel power in percent, 0 when either is 0.
func efficiency(wattsBat, wattsPv int) float32 {
	if wattsPv == 0 || wattsBat == 0 {
		return 0
	}
	return (float32(wattsBat) / float32(wattsPv)) * 100.0
}

// vpv -> ipv
func panelVoltageUpdated(store *FieldStore, cs *ChangeSet, fieldValue, unitsValue string) error {
	ppv, ok := store.Get(FIELD_PANEL_POWER)
	if !ok {
		return nil
	}
	amps, err := panelCurrent(float32(atoi(ppv.Value)), toVolts(fieldValue, unitsValue))
	if err != nil {
		return err
	}
	updatePanelCurrent(store, cs, amps)
	return nil
}

// ppv -> ipv, ppv -> eff
func panelPowerUpdated(store *FieldStore, cs *ChangeSet, fieldValue, _ string) error {
	var errs []error

	vpv, hasVpv := store.Get(FIELD_PANEL_VOLTAGE)
	vpvUnits, hasVpvUnits := store.Get(UnitsKey(FIELD_PANEL_VOLTAGE))
	if hasVpv && hasVpvUnits {
		amps, err := panelCurrent(float32(atoi(fieldValue)), toVolts(vpv.Value, vpvUnits.Value))
		if err != nil {
			errs = append(errs, err)
		} else {
			updatePanelCurrent(store, cs, amps)
		}
	}

	if p, ok := store.Get(FIELD_BATTERY_POWER); ok {
		updateEfficiency(store, cs, efficiency(atoi(p.Value), atoi(fieldValue)))
	}
	return errors.Join(errs...)
}

// v -> p
func batteryVoltageUpdated(store *FieldStore, cs *ChangeSet, fieldValue, unitsValue string) error {
	i, hasI := store.Get(FIELD_BATTERY_CURRENT)
	iUnits, hasIUnits := store.Get(UnitsKey(FIELD_BATTERY_CURRENT))
	if !hasI || !hasIUnits {
		return nil
	}
	watts := toVolts(fieldValue, unitsValue) * toAmps(i.Value, iUnits.Value)
	updateBatteryPower(store, cs, watts)
	return nil
}

// i -> p
func batteryCurrentUpdated(store *FieldStore, cs *ChangeSet, fieldValue, unitsValue string) error {
	v, hasV := store.Get(FIELD_BATTERY_VOLTAGE)
	vUnits, hasVUnits := store.Get(UnitsKey(FIELD_BATTERY_VOLTAGE))
	if !hasV || !hasVUnits {
		return nil
	}
	watts := toVolts(v.Value, vUnits.Value) * toAmps(fieldValue, unitsValue)
	updateBatteryPower(store, cs, watts)
	return nil
}

// p -> eff
func batteryPowerUpdated(store *FieldStore, cs *ChangeSet, fieldValue, _ string) error {
	ppv, ok := store.Get(FIELD_PANEL_POWER)
	if !ok {
		return nil
	}
	updateEfficiency(store, cs, efficiency(atoi(fieldValue), atoi(ppv.Value)))
	return nil
}

// FormatPanelCurrent renders a derived panel current. Below 1 A the value is
// rounded to 100 mA steps; a result of 1000 mA is shown as 1.0 A.
// Arithmetic stays in single precision like the device firmware.
func FormatPanelCurrent(amps float32) (value, units string) {
	if amps > -1.0 && amps < 1.0 {
		milliAmps := int(math.Round(float64(amps*10.0))) * 100
		if milliAmps == 1000 {
			return formatFloat32(1.0, 1), UNITS_AMP
		}
		return strconv.Itoa(milliAmps), UNITS_MILLIAMP
	}
	return formatFloat32(amps, 1), UNITS_AMP
}

func updatePanelCurrent(store *FieldStore, cs *ChangeSet, amps float32) {
	value, units := FormatPanelCurrent(amps)
	store.UpdateCurrentData(cs, FIELD_PANEL_CURRENT, value, UnitsKey(FIELD_PANEL_CURRENT), units)
}

// updateBatteryPower truncates to whole watts.
func updateBatteryPower(store *FieldStore, cs *ChangeSet, watts float32) {
	store.UpdateCurrentData(cs, FIELD_BATTERY_POWER, strconv.Itoa(int(watts)), UnitsKey(FIELD_BATTERY_POWER), UNITS_WATT)
}

func updateEfficiency(store *FieldStore, cs *ChangeSet, pct float32) {
	store.UpdateCurrentData(cs, FIELD_EFFICIENCY, strconv.Itoa(int(math.Round(float64(pct)))), UnitsKey(FIELD_EFFICIENCY), UNITS_PERCENT)
}
