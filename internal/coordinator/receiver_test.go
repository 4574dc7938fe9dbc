package coordinator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/eventlog"
	"microgrid_simulator/internal/model"
)

func newReceiverFixture(t *testing.T) (*Coordinator, *eventlog.Memory) {
	t.Helper()
	events := eventlog.NewMemory()
	c := New(Options{
		Config: config.Default(),
		Bus:    bus.New(),
		Events: events,
	})
	return c, events
}

func inboundMsg(t *testing.T, msgType, from string, body any) bus.Message {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return bus.Message{
		Type:   msgType,
		From:   from,
		To:     bus.CoordinatorAddr,
		Body:   raw,
		SentAt: time.Now(),
	}
}

func (c *Coordinator) openTestRound(deadline time.Duration) {
	c.roundID = c.clock.NextRound()
	c.ledger, _ = c.window.Open(c.roundID, time.Now())
	c.roundDeadline = time.Now().Add(deadline)
	c.ledger.Deadline = c.roundDeadline
}

func TestReceiverRegistration(t *testing.T) {
	c, events := newReceiverFixture(t)

	c.handleMessage(inboundMsg(t, bus.TypeRegisterHousehold, "household_1", bus.RegisterHouseholdBody{JID: "household_1"}))
	c.handleMessage(inboundMsg(t, bus.TypeRegisterProducer, "producer_wind", bus.RegisterProducerBody{
		JID: "producer_wind", ProductionType: "wind", MaxCapacityKWh: 50,
	}))
	c.handleMessage(inboundMsg(t, bus.TypeRegisterStorage, "storage_1", bus.RegisterStorageBody{JID: "storage_1"}))

	// Duplicate registration logs nothing new.
	c.handleMessage(inboundMsg(t, bus.TypeRegisterHousehold, "household_1", bus.RegisterHouseholdBody{JID: "household_1"}))

	hh, pr, st := c.registry.Counts()
	assert.Equal(t, 1, hh)
	assert.Equal(t, 1, pr)
	assert.Equal(t, 1, st)
	assert.Len(t, events.EventsOfKind("register"), 3)

	prod, ok := c.states.Producer("producer_wind")
	require.True(t, ok)
	assert.InDelta(t, 50.0, prod.MaxCapacityKWh, 1e-9)
}

func TestReceiverStatusReport(t *testing.T) {
	c, _ := newReceiverFixture(t)
	c.registry.Add("household_1", CategoryHousehold)
	c.openTestRound(time.Minute)

	c.handleMessage(inboundMsg(t, bus.TypeStatusReport, "household_1", bus.StatusReportBody{
		JID:        "household_1",
		IsProsumer: true,
		DemandKWh:  2.5,
		ProdKWh:    1.0,
		WindSpeed:  6.0,
	}))

	st, ok := c.states.Household("household_1")
	require.True(t, ok)
	assert.True(t, st.IsProsumer)
	assert.InDelta(t, 2.5, st.DemandKWh, 1e-9)
	assert.Equal(t, 1, c.registry.SeenCount(c.roundID))
}

func TestReceiverOfferAccepted(t *testing.T) {
	c, events := newReceiverFixture(t)
	c.openTestRound(time.Minute)

	c.handleMessage(inboundMsg(t, bus.TypeEnergyOffer, "producer_wind", bus.EnergyOfferBody{
		RoundID:  int64(c.roundID),
		OfferKWh: 5,
		Price:    0.17,
	}))

	o, ok := c.ledger.Offer("producer_wind")
	require.True(t, ok)
	assert.InDelta(t, 5.0, o.OfferKWh, 1e-9)
	assert.Len(t, events.EventsOfKind("offer"), 1)
	assert.Empty(t, events.EventsOfKind("late"))
}

func TestReceiverLateOfferRejected(t *testing.T) {
	c, events := newReceiverFixture(t)
	c.openTestRound(-time.Second)

	c.handleMessage(inboundMsg(t, bus.TypeEnergyOffer, "producer_wind", bus.EnergyOfferBody{
		RoundID:  int64(c.roundID),
		OfferKWh: 5,
		Price:    0.17,
	}))

	assert.Zero(t, c.ledger.OfferCount())
	assert.Len(t, events.EventsOfKind("late"), 1)
}

func TestReceiverStaleRoundOfferRejected(t *testing.T) {
	c, events := newReceiverFixture(t)
	c.openTestRound(time.Minute)

	c.handleMessage(inboundMsg(t, bus.TypeEnergyOffer, "producer_wind", bus.EnergyOfferBody{
		RoundID:  int64(c.roundID) - 1,
		OfferKWh: 5,
		Price:    0.17,
	}))

	assert.Zero(t, c.ledger.OfferCount())
	assert.Len(t, events.EventsOfKind("late"), 1)
}

func TestReceiverOfflineSellerOfferDropped(t *testing.T) {
	c, _ := newReceiverFixture(t)
	c.openTestRound(time.Minute)
	c.states.MergeProduction("producer_wind", report(5))
	c.states.MarkProducerFailed("producer_wind", 2)

	c.handleMessage(inboundMsg(t, bus.TypeEnergyOffer, "producer_wind", bus.EnergyOfferBody{
		RoundID:  int64(c.roundID),
		OfferKWh: 5,
		Price:    0.17,
	}))

	assert.Zero(t, c.ledger.OfferCount())
}

func TestReceiverRequestRoundMatch(t *testing.T) {
	c, _ := newReceiverFixture(t)
	c.openTestRound(time.Minute)

	c.handleMessage(inboundMsg(t, bus.TypeEnergyRequest, "household_1", bus.EnergyRequestBody{
		RoundID: int64(c.roundID), NeedKWh: 2, PriceMax: 0.25,
	}))
	c.handleMessage(inboundMsg(t, bus.TypeEnergyRequest, "household_2", bus.EnergyRequestBody{
		RoundID: int64(c.roundID) + 1, NeedKWh: 2, PriceMax: 0.25,
	}))

	assert.Equal(t, 1, c.ledger.RequestCount())
}

func TestReceiverProductionMergeAndRecovery(t *testing.T) {
	c, _ := newReceiverFixture(t)
	c.openTestRound(time.Minute)
	c.states.MergeProduction("producer_solar", report(4))
	c.states.MarkProducerFailed("producer_solar", 1)

	c.handleMessage(inboundMsg(t, bus.TypeProductionReport, "producer_solar", report(4)))

	require.Len(t, c.recovered, 1)
	assert.Equal(t, model.ParticipantID("producer_solar"), c.recovered[0])

	c.sweepRecoveries()
	assert.Empty(t, c.recovered)
}

func TestReceiverDeclined(t *testing.T) {
	c, events := newReceiverFixture(t)
	c.openTestRound(time.Minute)

	c.handleMessage(inboundMsg(t, bus.TypeDeclinedOffer, "producer_wind", bus.DeclinedOfferBody{
		RoundID: int64(c.roundID), Reason: "maintenance",
	}))

	assert.Contains(t, c.ledger.Declined, model.ParticipantID("producer_wind"))
	assert.Len(t, events.EventsOfKind("declined"), 1)
}

func TestReceiverGarbageDropped(t *testing.T) {
	c, _ := newReceiverFixture(t)
	c.openTestRound(time.Minute)

	c.handleMessage(bus.Message{Type: bus.TypeEnergyOffer, From: "x", Body: []byte("{broken")})
	c.handleMessage(bus.Message{Type: "no_such_type", From: "x", Body: []byte("{}")})

	assert.Zero(t, c.ledger.OfferCount())
}

func TestReceiverEnvironmentUpdate(t *testing.T) {
	c, _ := newReceiverFixture(t)

	c.handleMessage(inboundMsg(t, bus.TypeEnvironmentUpdate, bus.EnvironmentAddr, bus.EnvironmentUpdateBody{
		SolarIrradiance: 0.7, WindSpeed: 5, TemperatureC: 21, SimHour: 12,
	}))

	assert.InDelta(t, 0.7, c.states.Ambient().SolarIrradiance, 1e-9)
	assert.Equal(t, 12, c.states.Ambient().SimHour)
}

func TestReceiverProductionReportRefreshesAmbient(t *testing.T) {
	c, _ := newReceiverFixture(t)
	c.openTestRound(time.Minute)
	c.states.SetAmbient(model.EnvironmentSnapshot{SimHour: 9})

	c.handleMessage(inboundMsg(t, bus.TypeProductionReport, "producer_wind", bus.ProductionReportBody{
		JID: "producer_wind", ProdKWh: 4, Type: "wind", IsOperational: true,
		SolarIrradiance: 0.6, WindSpeed: 7.5, TemperatureC: 19,
	}))

	amb := c.states.Ambient()
	assert.InDelta(t, 0.6, amb.SolarIrradiance, 1e-9)
	assert.InDelta(t, 7.5, amb.WindSpeed, 1e-9)
	assert.InDelta(t, 19.0, amb.TemperatureC, 1e-9)
	assert.Equal(t, 9, amb.SimHour)
}
