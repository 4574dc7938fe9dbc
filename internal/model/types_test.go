package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeriodForHour(t *testing.T) {
	cases := map[int]DemandPeriod{
		0:  PeriodNight,
		5:  PeriodNight,
		6:  PeriodMorning,
		8:  PeriodMorning,
		9:  PeriodAfternoon,
		12: PeriodAfternoon,
		17: PeriodAfternoon,
		18: PeriodEvening,
		21: PeriodEvening,
		22: PeriodAfternoon,
		23: PeriodAfternoon,
	}
	for hour, want := range cases {
		assert.Equal(t, want, PeriodForHour(hour), "hour %d", hour)
	}
}

func TestSimulatedTimeAdvance(t *testing.T) {
	ts := SimulatedTime{Day: 1, Hour: 7}

	ts = ts.Advance()
	assert.Equal(t, SimulatedTime{Day: 1, Hour: 8}, ts)

	ts = SimulatedTime{Day: 3, Hour: 23}.Advance()
	assert.Equal(t, SimulatedTime{Day: 4, Hour: 0}, ts)
}

func TestSOCPercent(t *testing.T) {
	assert.InDelta(t, 50.0, StorageState{SOCKWh: 25, CapKWh: 50}.SOCPercent(), 1e-9)
	assert.InDelta(t, 100.0, StorageState{SOCKWh: 50, CapKWh: 50}.SOCPercent(), 1e-9)
	assert.Zero(t, StorageState{SOCKWh: 10, CapKWh: 0}.SOCPercent())
}
