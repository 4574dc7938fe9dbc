package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink(t *testing.T) {
	m := NewMemory()

	m.LogEvent("offer", "producer_solar", 4.2, 0.18, 3)
	m.LogEvent("match", "household_1", 2.0, 0.18, 3)
	m.LogEvent("offer", "storage_1", 10.0, 0.25, 4)

	events := m.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "offer", events[0].Kind)
	assert.InDelta(t, 4.2, events[0].KWh, 1e-9)

	offers := m.EventsOfKind("offer")
	require.Len(t, offers, 2)
	assert.Equal(t, "producer_solar", string(offers[0].Agent))
	assert.Equal(t, "storage_1", string(offers[1].Agent))

	assert.Empty(t, m.EventsOfKind("failure"))
}

func TestMemoryAuctions(t *testing.T) {
	m := NewMemory()
	m.LogAuction(5, "household_1", "producer_wind", 3.0, 0.17)

	auctions := m.Auctions()
	require.Len(t, auctions, 1)
	assert.Equal(t, "household_1", string(auctions[0].Buyer))
	assert.Equal(t, "producer_wind", string(auctions[0].Seller))
	assert.InDelta(t, 3.0, auctions[0].KWh, 1e-9)

	require.NoError(t, m.Close())
}

func TestMemoryCopiesAreIsolated(t *testing.T) {
	m := NewMemory()
	m.LogEvent("status", "household_1", 1, 0, 1)

	events := m.Events()
	events[0].Kind = "mutated"
	assert.Equal(t, "status", m.Events()[0].Kind)
}
