package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microgrid_simulator/internal/coordinator"
	"microgrid_simulator/internal/model"
)

func newTestBridge() (*Bridge, *Client) {
	hub := NewHub()
	client := &Client{hub: hub, send: make(chan []byte, 256)}
	hub.Register(client)
	bridge := NewBridge(hub)
	return bridge, client
}

func nextEnvelope(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case msg := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		return env
	default:
		t.Fatal("expected a broadcast message")
		return Envelope{}
	}
}

func TestBridge_OnRoundStart(t *testing.T) {
	bridge, client := newTestBridge()

	bridge.OnRoundStart(coordinator.RoundInfo{
		Round:   3,
		Counter: 3,
		SimTime: model.SimulatedTime{Day: 1, Hour: 9},
		Env:     model.EnvironmentSnapshot{SolarIrradiance: 0.8, WindSpeed: 5.5},
	})

	env := nextEnvelope(t, client)
	assert.Equal(t, TypeRoundStart, env.Type)

	var p RoundStartPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, int64(3), p.Round)
	assert.Equal(t, 9, p.Hour)
	assert.Equal(t, "morning", p.Period)
	assert.InDelta(t, 0.8, p.SolarIrradiance, 1e-9)
	assert.InDelta(t, 5.5, p.WindSpeed, 1e-9)
}

func TestBridge_OnAllocation(t *testing.T) {
	bridge, client := newTestBridge()

	bridge.OnAllocation(model.Allocation{
		Round:   3,
		Buyer:   "household_2",
		Seller:  "producer_wind",
		KWh:     2.4,
		Price:   0.18,
		Partial: true,
	})

	env := nextEnvelope(t, client)
	assert.Equal(t, TypeAllocation, env.Type)

	var p AllocationPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "household_2", p.Buyer)
	assert.Equal(t, "producer_wind", p.Seller)
	assert.InDelta(t, 2.4, p.KWh, 1e-9)
	assert.True(t, p.Partial)
}

func TestBridge_OnGridTransaction(t *testing.T) {
	bridge, client := newTestBridge()

	bridge.OnGridTransaction(model.GridTransaction{
		Round:       3,
		Participant: "household_1",
		KWh:         1.5,
		Price:       0.28,
		Import:      true,
	})

	env := nextEnvelope(t, client)
	assert.Equal(t, TypeGridTrade, env.Type)

	var p GridTradePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "household_1", p.Participant)
	assert.True(t, p.Import)
}

func TestBridge_RoundSummaryCachedForNewClients(t *testing.T) {
	bridge, client := newTestBridge()

	assert.Nil(t, bridge.LastRoundResult())

	bridge.OnRoundSummary(coordinator.RoundSummary{
		Round:          5,
		SimTime:        model.SimulatedTime{Day: 1, Hour: 11},
		Sellers:        2,
		Buyers:         3,
		MatchedCount:   3,
		TotalTraded:    6.5,
		TotalValue:     1.17,
		AvgFulfillment: 100,
		GridAvailable:  true,
	})

	env := nextEnvelope(t, client)
	assert.Equal(t, TypeRoundResult, env.Type)

	var p RoundResultPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, int64(5), p.Round)
	assert.Equal(t, 3, p.Matched)
	assert.InDelta(t, 6.5, p.TotalTradedKWh, 1e-9)
	assert.InDelta(t, 100.0, p.AvgFulfillmentPct, 1e-9)

	cached := bridge.LastRoundResult()
	require.NotNil(t, cached)
	var cachedEnv Envelope
	require.NoError(t, json.Unmarshal(cached, &cachedEnv))
	assert.Equal(t, TypeRoundResult, cachedEnv.Type)
}

func TestBridge_OnPerformanceReport(t *testing.T) {
	bridge, client := newTestBridge()

	bridge.OnPerformanceReport(coordinator.PerformanceReport{
		FromRound:            1,
		ToRound:              10,
		WindowDemand:         40,
		WindowSupplied:       38,
		WindowNetBalance:     -1.2,
		CumulativeNetBalance: -1.2,
	})

	env := nextEnvelope(t, client)
	assert.Equal(t, TypePerformance, env.Type)

	var p PerformancePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, 1, p.FromRound)
	assert.Equal(t, 10, p.ToRound)
	assert.InDelta(t, -1.2, p.NetBalanceEUR, 1e-9)
	assert.InDelta(t, -1.2, p.TotalBalanceEUR, 1e-9)
}

func TestBridge_AllocationFloodRateLimited(t *testing.T) {
	bridge, client := newTestBridge()

	// Limiter burst is 100; a flood beyond it gets dropped.
	for i := 0; i < 500; i++ {
		bridge.OnAllocation(model.Allocation{Round: 1, Buyer: "b", Seller: "s", KWh: 1})
	}
	assert.Less(t, len(client.send), 150)

	// Round results are never rate limited.
	before := len(client.send)
	for i := 0; i < 100; i++ {
		bridge.OnRoundSummary(coordinator.RoundSummary{Round: model.RoundID(i)})
	}
	assert.Equal(t, before+100, len(client.send))
}
