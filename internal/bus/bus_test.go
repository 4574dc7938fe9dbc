package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndDecode(t *testing.T) {
	b := New()
	inbox := b.Register("coordinator")

	err := b.SendJSON(PerformativeRequest, TypeEnergyRequest, "household_1", "coordinator", EnergyRequestBody{
		RoundID:  7,
		NeedKWh:  2.5,
		PriceMax: 0.25,
	})
	require.NoError(t, err)

	msg := <-inbox
	assert.Equal(t, PerformativeRequest, msg.Performative)
	assert.Equal(t, TypeEnergyRequest, msg.Type)
	assert.Equal(t, "household_1", msg.From)
	assert.False(t, msg.SentAt.IsZero())

	var body EnergyRequestBody
	require.NoError(t, msg.DecodeBody(&body))
	assert.Equal(t, int64(7), body.RoundID)
	assert.InDelta(t, 2.5, body.NeedKWh, 1e-9)
	assert.InDelta(t, 0.25, body.PriceMax, 1e-9)
}

func TestSendUnknownAddress(t *testing.T) {
	b := New()
	err := b.Send(Message{Type: TypeStatusReport, From: "a", To: "nobody"})
	require.Error(t, err)
}

func TestSendFullInboxDrops(t *testing.T) {
	b := New()
	b.Register("slow")

	for i := 0; i < defaultInboxSize; i++ {
		require.NoError(t, b.Send(Message{Type: TypeStatusReport, From: "a", To: "slow"}))
	}
	err := b.Send(Message{Type: TypeStatusReport, From: "a", To: "slow"})
	require.Error(t, err)
}

func TestUnregisterClosesInbox(t *testing.T) {
	b := New()
	inbox := b.Register("agent")
	b.Unregister("agent")

	_, ok := <-inbox
	assert.False(t, ok)

	err := b.Send(Message{Type: TypeStatusReport, From: "a", To: "agent"})
	require.Error(t, err)
}

func TestDecodeBodyEmpty(t *testing.T) {
	msg := Message{Type: TypeStatusReport, From: "a"}
	var body StatusReportBody
	require.Error(t, msg.DecodeBody(&body))
}

func TestOrderingPerSender(t *testing.T) {
	b := New()
	inbox := b.Register("coordinator")

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, b.SendJSON(PerformativePropose, TypeEnergyOffer, "seller", "coordinator", EnergyOfferBody{RoundID: i}))
	}
	for i := int64(1); i <= 5; i++ {
		msg := <-inbox
		var body EnergyOfferBody
		require.NoError(t, msg.DecodeBody(&body))
		assert.Equal(t, i, body.RoundID)
	}
}
