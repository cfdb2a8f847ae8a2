package vedirect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFormatPanelCurrent(t *testing.T) {

	cases := []struct {
		amps  float32
		value string
		units string
	}{
		{4.0518, "4.1", "A"},
		{1.0, "1.0", "A"},
		{0.995, "1.0", "A"},
		{0.994, "1.0", "A"},
		{0.94, "900", "mA"},
		{0.95, "1.0", "A"},
		{1.45, "1.5", "A"},
		{1.05, "1.0", "A"},
		{0.26, "300", "mA"},
		{0.04, "0", "mA"},
		{0, "0", "mA"},
		{-0.26, "-300", "mA"},
		{-2.5, "-2.5", "A"},
	}
	for _, c := range cases {
		value, units := FormatPanelCurrent(c.amps)
		assert.Equal(t, c.value, value, "amps %v", c.amps)
		assert.Equal(t, c.units, units, "amps %v", c.amps)
	}
}

func TestEfficiencyZeroGuard(t *testing.T) {
	assert.Equal(t, float32(0), efficiency(0, 100))
	assert.Equal(t, float32(0), efficiency(100, 0))
	assert.Equal(t, float32(50), efficiency(50, 100))
}

func TestPanelCurrentDivisionByZero(t *testing.T) {
	_, err := panelCurrent(50, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	amps, err := panelCurrent(50, 12.5)
	require.NoError(t, err)
	assert.Equal(t, float32(4), amps)
}

func derivationStore() *FieldStore {
	store := NewFieldStore(zap.NewNop())
	RegisterDerivations(store)
	return store
}

func TestBatteryPowerCascadesToEfficiency(t *testing.T) {

	store := derivationStore()
	store.UpdateCurrentData(NewChangeSet(), FIELD_PANEL_POWER, "60", UnitsKey(FIELD_PANEL_POWER), UNITS_WATT)
	store.UpdateCurrentData(NewChangeSet(), FIELD_BATTERY_VOLTAGE, "12.50", UnitsKey(FIELD_BATTERY_VOLTAGE), UNITS_VOLT)

	cs := NewChangeSet()
	store.UpdateCurrentData(cs, FIELD_BATTERY_CURRENT, "3.3", UnitsKey(FIELD_BATTERY_CURRENT), UNITS_AMP)

	// 12.5 V * 3.3 A = 41.25 W, truncated
	p, ok := cs.Get(FIELD_BATTERY_POWER)
	require.True(t, ok)
	assert.Equal(t, "41", p.ValueOrEmpty())
	assert.Equal(t, UNITS_WATT, p.UnitsOrEmpty())

	// 41 / 60 = 68.3 %
	eff, ok := cs.Get(FIELD_EFFICIENCY)
	require.True(t, ok)
	assert.Equal(t, "68", eff.ValueOrEmpty())
	assert.Equal(t, UNITS_PERCENT, eff.UnitsOrEmpty())
}

func TestBatteryPowerFromMilliUnits(t *testing.T) {

	store := derivationStore()
	store.UpdateCurrentData(NewChangeSet(), FIELD_BATTERY_CURRENT, "500", UnitsKey(FIELD_BATTERY_CURRENT), UNITS_MILLIAMP)

	cs := NewChangeSet()
	store.UpdateCurrentData(cs, FIELD_BATTERY_VOLTAGE, "900", UnitsKey(FIELD_BATTERY_VOLTAGE), UNITS_MILLIVOLT)

	// 0.9 V * 0.5 A
	p, ok := cs.Get(FIELD_BATTERY_POWER)
	require.True(t, ok)
	assert.Equal(t, "0", p.ValueOrEmpty())

	// no ppv, no efficiency
	_, ok = cs.Get(FIELD_EFFICIENCY)
	assert.False(t, ok)
}

func TestPanelVoltageZeroSuppressesCurrent(t *testing.T) {

	store := derivationStore()
	store.UpdateCurrentData(NewChangeSet(), FIELD_PANEL_POWER, "40", UnitsKey(FIELD_PANEL_POWER), UNITS_WATT)

	cs := NewChangeSet()
	store.UpdateCurrentData(cs, FIELD_PANEL_VOLTAGE, "0", UnitsKey(FIELD_PANEL_VOLTAGE), UNITS_MILLIVOLT)

	assert.Equal(t, []string{FIELD_PANEL_VOLTAGE}, cs.Fields())
	_, ok := store.Get(FIELD_PANEL_CURRENT)
	assert.False(t, ok)

	cs = NewChangeSet()
	store.UpdateCurrentData(cs, FIELD_PANEL_VOLTAGE, "20.00", UnitsKey(FIELD_PANEL_VOLTAGE), UNITS_VOLT)

	ipv, ok := cs.Get(FIELD_PANEL_CURRENT)
	require.True(t, ok)
	assert.Equal(t, "2.0", ipv.ValueOrEmpty())
	assert.Equal(t, UNITS_AMP, ipv.UnitsOrEmpty())
}
