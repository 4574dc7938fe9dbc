package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/eventlog"
	"microgrid_simulator/internal/model"
)

type auctionFixture struct {
	engine *AuctionEngine
	bus    *bus.Bus
	events *eventlog.Memory
	reg    *Registry
	states *StateStore
	ledger *RoundLedger
}

func newAuctionFixture(t *testing.T, transmissionLimit float64) *auctionFixture {
	t.Helper()
	cfg := config.Default()
	b := bus.New()
	events := eventlog.NewMemory()
	engine := NewAuctionEngine(b, bus.CoordinatorAddr,
		NewCapacityEnforcer(cfg.Simulation, cfg.Households),
		transmissionLimit, events, NopObserver{})

	return &auctionFixture{
		engine: engine,
		bus:    b,
		events: events,
		reg:    NewRegistry(),
		states: NewStateStore(),
		ledger: NewRoundLedger(1, time.Now()),
	}
}

func (fx *auctionFixture) seller(id model.ParticipantID, kwh, price float64) {
	fx.reg.Add(id, CategoryProducer)
	fx.states.MergeProduction(id, report(kwh))
	fx.ledger.AddOffer(model.Offer{Round: 1, Seller: id, OfferKWh: kwh, Price: price})
}

func (fx *auctionFixture) buyer(id model.ParticipantID, need, priceMax float64) {
	fx.reg.Add(id, CategoryHousehold)
	fx.states.SetHousehold(id, model.HouseholdState{DemandKWh: need})
	fx.ledger.AddRequest(model.Request{Round: 1, Buyer: id, NeedKWh: need, PriceMax: priceMax})
}

func TestMatchPrefersCheapestSeller(t *testing.T) {
	fx := newAuctionFixture(t, 10)
	fx.seller("expensive", 5, 0.30)
	fx.seller("cheap", 5, 0.10)
	fx.buyer("h1", 2, 0.40)

	out := fx.engine.Match(fx.ledger, fx.reg, fx.states)

	assert.Equal(t, 1, out.MatchedCount)
	require.Len(t, fx.ledger.Matches, 1)
	assert.Equal(t, model.ParticipantID("cheap"), fx.ledger.Matches[0].Seller)
	assert.InDelta(t, 2.0, fx.ledger.Matches[0].KWh, 1e-9)
	assert.False(t, fx.ledger.Matches[0].Partial)
	assert.InDelta(t, 100.0, out.Fulfillment["h1"], 1e-9)
}

func TestMatchTieBreaksOnSellerID(t *testing.T) {
	fx := newAuctionFixture(t, 10)
	fx.seller("zeta", 5, 0.20)
	fx.seller("alpha", 5, 0.20)
	fx.buyer("h1", 3, 0.25)

	fx.engine.Match(fx.ledger, fx.reg, fx.states)

	require.Len(t, fx.ledger.Matches, 1)
	assert.Equal(t, model.ParticipantID("alpha"), fx.ledger.Matches[0].Seller)
}

func TestMatchSpansMultipleSellers(t *testing.T) {
	fx := newAuctionFixture(t, 10)
	fx.seller("s1", 1.5, 0.10)
	fx.seller("s2", 5, 0.20)
	fx.buyer("h1", 4, 0.25)

	out := fx.engine.Match(fx.ledger, fx.reg, fx.states)

	require.Len(t, fx.ledger.Matches, 2)
	assert.InDelta(t, 1.5, fx.ledger.Matches[0].KWh, 1e-9)
	assert.InDelta(t, 2.5, fx.ledger.Matches[1].KWh, 1e-9)
	assert.InDelta(t, 4.0, out.TotalTraded, 1e-9)
	assert.InDelta(t, 1.5*0.10+2.5*0.20, out.TotalValue, 1e-9)
	assert.Equal(t, 1, out.MatchedCount)
	assert.Zero(t, out.PartialCount)
}

func TestMatchPartialWhenSupplyShort(t *testing.T) {
	fx := newAuctionFixture(t, 10)
	fx.seller("s1", 1, 0.10)
	fx.buyer("h1", 4, 0.25)

	out := fx.engine.Match(fx.ledger, fx.reg, fx.states)

	assert.Equal(t, 1, out.PartialCount)
	assert.Zero(t, out.MatchedCount)
	require.Len(t, fx.ledger.Matches, 1)
	assert.True(t, fx.ledger.Matches[0].Partial)
	assert.InDelta(t, 25.0, out.Fulfillment["h1"], 1e-9)
}

func TestMatchUnmatchedWhenTooExpensive(t *testing.T) {
	fx := newAuctionFixture(t, 10)
	fx.seller("s1", 5, 0.30)
	fx.buyer("h1", 2, 0.20)

	out := fx.engine.Match(fx.ledger, fx.reg, fx.states)

	assert.Equal(t, 1, out.UnmatchedCount)
	assert.Empty(t, fx.ledger.Matches)
	assert.Zero(t, out.Fulfillment["h1"])
	// The offer stays unsold.
	assert.InDelta(t, 5.0, fx.ledger.SellerRemaining["s1"], 1e-9)
}

func TestMatchEnforcesTransmissionLimit(t *testing.T) {
	fx := newAuctionFixture(t, 3)
	fx.seller("s1", 10, 0.10)
	fx.buyer("h1", 8, 0.25)

	out := fx.engine.Match(fx.ledger, fx.reg, fx.states)

	require.Len(t, fx.ledger.Matches, 1)
	assert.InDelta(t, 3.0, fx.ledger.Matches[0].KWh, 1e-9)
	assert.Equal(t, 1, out.PartialCount)
	require.Len(t, fx.events.EventsOfKind("transmission_limit"), 1)
}

func TestMatchBuyersInArrivalOrder(t *testing.T) {
	fx := newAuctionFixture(t, 10)
	fx.seller("s1", 3, 0.10)
	fx.buyer("late_but_first", 3, 0.25)
	fx.buyer("second", 3, 0.25)

	out := fx.engine.Match(fx.ledger, fx.reg, fx.states)

	// First arrival drains the seller; second gets nothing.
	assert.InDelta(t, 100.0, out.Fulfillment["late_but_first"], 1e-9)
	assert.Zero(t, out.Fulfillment["second"])
	assert.Equal(t, 1, out.UnmatchedCount)
}

func TestMatchNotifiesBothParties(t *testing.T) {
	fx := newAuctionFixture(t, 10)
	buyerInbox := fx.bus.Register("h1")
	sellerInbox := fx.bus.Register("s1")

	fx.seller("s1", 5, 0.10)
	fx.buyer("h1", 2, 0.25)

	fx.engine.Match(fx.ledger, fx.reg, fx.states)

	buyerMsg := <-buyerInbox
	assert.Equal(t, bus.TypeControlCommand, buyerMsg.Type)
	var cmd bus.ControlCommandBody
	require.NoError(t, buyerMsg.DecodeBody(&cmd))
	assert.Equal(t, bus.CommandEnergyPurchased, cmd.Command)
	assert.InDelta(t, 2.0, cmd.KW, 1e-9)
	assert.Equal(t, "s1", cmd.From)

	sellerMsg := <-sellerInbox
	assert.Equal(t, bus.TypeOfferAccept, sellerMsg.Type)
	var acc bus.OfferAcceptBody
	require.NoError(t, sellerMsg.DecodeBody(&acc))
	assert.Equal(t, "h1", acc.Buyer)
	assert.InDelta(t, 2.0, acc.KW, 1e-9)

	require.Len(t, fx.events.Auctions(), 1)
}

func TestClassifySellers(t *testing.T) {
	fx := newAuctionFixture(t, 10)
	fx.states.MergeProduction("producer_ok", report(4))
	fx.states.MergeProduction("producer_idle", report(0))
	fx.states.MergeProduction("producer_down", report(4))
	fx.states.MarkProducerFailed("producer_down", 2)

	fx.states.SetHousehold("prosumer_surplus", model.HouseholdState{IsProsumer: true, ProdKWh: 5, DemandKWh: 2})
	fx.states.SetHousehold("household_deficit", model.HouseholdState{DemandKWh: 3})

	fx.states.SetStorage("storage_full", model.StorageState{SOCKWh: 48, CapKWh: 50})
	fx.states.SetStorage("storage_low", model.StorageState{SOCKWh: 20, CapKWh: 50})
	fx.states.SetStorage("storage_emergency", model.StorageState{SOCKWh: 40, CapKWh: 50, EmergencyOnly: true})

	// No failure: emergency storage must not sell.
	sellers := fx.engine.ClassifySellers(fx.states, false)
	assert.ElementsMatch(t, []model.ParticipantID{"producer_ok", "prosumer_surplus", "storage_full"}, sellers)

	// During a failure the emergency reserve joins the sellers.
	sellers = fx.engine.ClassifySellers(fx.states, true)
	assert.Contains(t, sellers, model.ParticipantID("storage_emergency"))
}

func TestClassifyBuyers(t *testing.T) {
	fx := newAuctionFixture(t, 10)
	fx.states.SetHousehold("household_deficit", model.HouseholdState{DemandKWh: 3, ProdKWh: 1})
	fx.states.SetHousehold("prosumer_surplus", model.HouseholdState{IsProsumer: true, ProdKWh: 5, DemandKWh: 2})
	fx.states.SetStorage("storage_low", model.StorageState{SOCKWh: 20, CapKWh: 50})
	fx.states.SetStorage("storage_emergency", model.StorageState{SOCKWh: 40, CapKWh: 50, EmergencyOnly: true})

	buyers := fx.engine.ClassifyBuyers(fx.states, false)
	assert.ElementsMatch(t, []model.ParticipantID{"household_deficit", "storage_low", "storage_emergency"}, buyers)

	// Emergency storage never buys while a producer is down.
	buyers = fx.engine.ClassifyBuyers(fx.states, true)
	assert.NotContains(t, buyers, model.ParticipantID("storage_emergency"))
}

func TestMatchDeterministicAcrossRuns(t *testing.T) {
	participants := []string{"s_wind", "s_solar", "s_store", "h1", "h2", "h3"}

	run := func() (MatchOutcome, []model.Allocation, map[string][]string) {
		fx := newAuctionFixture(t, 10)
		inboxes := make(map[string]<-chan bus.Message, len(participants))
		for _, id := range participants {
			inboxes[id] = fx.bus.Register(id)
		}
		fx.seller("s_wind", 4, 0.17)
		fx.seller("s_solar", 3, 0.17)
		fx.seller("s_store", 5, 0.25)
		fx.buyer("h1", 2.5, 0.30)
		fx.buyer("h2", 4, 0.20)
		fx.buyer("h3", 3, 0.15)

		out := fx.engine.Match(fx.ledger, fx.reg, fx.states)

		notes := make(map[string][]string, len(participants))
		for _, id := range participants {
			inbox := inboxes[id]
			for len(inbox) > 0 {
				msg := <-inbox
				notes[id] = append(notes[id], msg.Type+" "+string(msg.Body))
			}
		}
		return out, fx.ledger.Matches, notes
	}

	out1, matches1, notes1 := run()
	out2, matches2, notes2 := run()

	// Identical inputs must produce identical allocation sequences and
	// identical per-party notification sequences.
	require.NotEmpty(t, matches1)
	assert.Equal(t, matches1, matches2)
	assert.Equal(t, out1, out2)
	assert.Equal(t, notes1, notes2)
}

func TestBroadcastCFP(t *testing.T) {
	fx := newAuctionFixture(t, 10)
	inbox := fx.bus.Register("p1")

	deadline := time.Now().Add(10 * time.Second)
	fx.engine.BroadcastCFP(4, deadline, true, []model.ParticipantID{"p1"})

	msg := <-inbox
	assert.Equal(t, bus.TypeCallForOffers, msg.Type)
	var cfp bus.CallForOffersBody
	require.NoError(t, msg.DecodeBody(&cfp))
	assert.Equal(t, int64(4), cfp.RoundID)
	assert.True(t, cfp.ProducersFailed)
	assert.InDelta(t, float64(deadline.UnixNano())/1e9, cfp.DeadlineTS, 1e-3)
}
