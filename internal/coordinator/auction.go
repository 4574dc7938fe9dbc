package coordinator

import (
	"log"
	"sort"
	"time"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/eventlog"
	"microgrid_simulator/internal/model"
)

// Negligible amounts below this are treated as zero by the market.
const minTradeKWh = 0.01

// Storage classification thresholds, as fractions of capacity. The 20 %
// floor is a hard reserve the auction never discharges below.
const (
	storageSellThreshold = 0.95
	storageReserveFloor  = 0.20
	emergencyBuyCeiling  = 0.99
	fullFulfillmentPct   = 99.0
)

// AuctionEngine classifies sellers and buyers, broadcasts the CFP, and
// clears the market for one round with deterministic greedy matching.
type AuctionEngine struct {
	bus      *bus.Bus
	addr     string
	capacity *CapacityEnforcer

	transmissionLimit float64
	events            eventlog.Sink
	observer          Observer
}

func NewAuctionEngine(b *bus.Bus, addr string, capacity *CapacityEnforcer, transmissionLimit float64, events eventlog.Sink, observer Observer) *AuctionEngine {
	return &AuctionEngine{
		bus:               b,
		addr:              addr,
		capacity:          capacity,
		transmissionLimit: transmissionLimit,
		events:            events,
		observer:          observer,
	}
}

// ClassifySellers returns the participants eligible to sell this round:
// operational producers with production, prosumers with surplus, full
// non-emergency storage, and emergency storage while a producer is down.
func (a *AuctionEngine) ClassifySellers(states *StateStore, anyProducerFailed bool) []model.ParticipantID {
	var sellers []model.ParticipantID

	states.ForEachProducer(func(id model.ParticipantID, st model.ProducerState) {
		if st.IsOperational && st.ProdKWh > minTradeKWh {
			sellers = append(sellers, id)
		}
	})

	states.ForEachHousehold(func(id model.ParticipantID, st model.HouseholdState) {
		if st.ProdKWh > st.DemandKWh {
			sellers = append(sellers, id)
		}
	})

	states.ForEachStorage(func(id model.ParticipantID, st model.StorageState) {
		socPct := st.SOCPercent()
		if st.EmergencyOnly {
			if anyProducerFailed && socPct > storageReserveFloor*100 {
				sellers = append(sellers, id)
			}
			return
		}
		if socPct >= storageSellThreshold*100 {
			if st.SOCKWh-storageReserveFloor*st.CapKWh > 0 {
				sellers = append(sellers, id)
			}
		}
	})

	return sellers
}

// ClassifyBuyers returns the participants eligible to buy this round:
// households in deficit, non-emergency storage below its sell threshold,
// and emergency storage topping up while no producer is down.
func (a *AuctionEngine) ClassifyBuyers(states *StateStore, anyProducerFailed bool) []model.ParticipantID {
	var buyers []model.ParticipantID

	states.ForEachHousehold(func(id model.ParticipantID, st model.HouseholdState) {
		if st.DemandKWh > st.ProdKWh {
			buyers = append(buyers, id)
		}
	})

	states.ForEachStorage(func(id model.ParticipantID, st model.StorageState) {
		socPct := st.SOCPercent()
		if st.EmergencyOnly {
			if socPct < emergencyBuyCeiling*100 && !anyProducerFailed {
				buyers = append(buyers, id)
			}
			return
		}
		if socPct < storageSellThreshold*100 {
			buyers = append(buyers, id)
		}
	})

	return buyers
}

// BroadcastCFP invites targets into the round's auction.
func (a *AuctionEngine) BroadcastCFP(round model.RoundID, deadline time.Time, producersFailed bool, targets []model.ParticipantID) {
	body := bus.CallForOffersBody{
		RoundID:         int64(round),
		DeadlineTS:      float64(deadline.UnixNano()) / 1e9,
		ProducersFailed: producersFailed,
	}
	for _, id := range targets {
		if err := a.bus.SendJSON(bus.PerformativeCFP, bus.TypeCallForOffers, a.addr, string(id), body); err != nil {
			log.Printf("auction: cfp to %s: %v", id, err)
		}
	}
}

// purchase is one sub-allocation of a buyer's fill.
type purchase struct {
	seller model.ParticipantID
	kwh    float64
	price  float64
	cost   float64
}

// MatchOutcome summarizes one market clearing.
type MatchOutcome struct {
	MatchedCount   int
	PartialCount   int
	UnmatchedCount int

	TotalTraded float64
	TotalValue  float64
	PricesPaid  []float64

	// Fulfillment maps each requesting buyer to its percentage filled by
	// the internal market.
	Fulfillment map[model.ParticipantID]float64

	// BuyerDeliverableCap is min(need, role limit) per buyer, reused by the
	// external-grid step.
	BuyerDeliverableCap map[model.ParticipantID]float64
}

// Match clears the round: buyers in request arrival order, candidate
// sellers by (price asc, seller id asc), partial allocation, per-agent caps
// and the per-buyer transmission limit enforced on every amount. Emits the
// acceptance notifications as it goes and records matches in the ledger.
func (a *AuctionEngine) Match(ledger *RoundLedger, registry *Registry, states *StateStore) MatchOutcome {
	out := MatchOutcome{
		Fulfillment:         make(map[model.ParticipantID]float64),
		BuyerDeliverableCap: make(map[model.ParticipantID]float64),
	}

	// Seller deliverables start from the offer clamped by the role limit.
	ledger.Offers(func(o model.Offer) {
		limit := a.capacity.Limit(o.Seller, OpSell, registry, states)
		ledger.SellerRemaining[o.Seller] = limit.Clamp(o.OfferKWh)
	})

	for _, req := range ledger.Requests() {
		buyerLimit := a.capacity.Limit(req.Buyer, OpBuy, registry, states)
		deliverableCap := buyerLimit.Clamp(req.NeedKWh)
		out.BuyerDeliverableCap[req.Buyer] = deliverableCap

		// Sellers the buyer can afford, cheapest first.
		var candidates []model.Offer
		ledger.Offers(func(o model.Offer) {
			if ledger.SellerRemaining[o.Seller] > minTradeKWh && o.Price <= req.PriceMax {
				candidates = append(candidates, o)
			}
		})
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Price != candidates[j].Price {
				return candidates[i].Price < candidates[j].Price
			}
			return candidates[i].Seller < candidates[j].Seller
		})

		if len(candidates) == 0 {
			log.Printf("auction: %s needs %.1f kWh, no affordable sellers", req.Buyer, req.NeedKWh)
			out.UnmatchedCount++
			out.Fulfillment[req.Buyer] = 0
			continue
		}

		var bought, cost float64
		var purchases []purchase

		for _, o := range candidates {
			available := ledger.SellerRemaining[o.Seller]
			remainingDeliverable := deliverableCap - bought
			transmissionRemaining := a.transmissionLimit - bought
			if remainingDeliverable <= 0 || transmissionRemaining <= 0 {
				break
			}

			raw := available
			if remainingDeliverable < raw {
				raw = remainingDeliverable
			}
			if raw <= 0 {
				continue
			}

			amount := raw
			if transmissionRemaining < amount {
				amount = transmissionRemaining
			}
			if amount <= 0 {
				break
			}
			if amount < raw {
				log.Printf("auction: transmission limit trims %s<-%s from %.1f to %.1f kWh", req.Buyer, o.Seller, raw, amount)
				a.events.LogEvent("transmission_limit", req.Buyer, amount, o.Price, ledger.Round)
			}

			ledger.SellerRemaining[o.Seller] -= amount
			bought += amount
			cost += amount * o.Price
			purchases = append(purchases, purchase{
				seller: o.Seller,
				kwh:    amount,
				price:  o.Price,
				cost:   amount * o.Price,
			})
		}

		if bought <= 0 {
			log.Printf("auction: %s needs %.1f kWh, no match", req.Buyer, req.NeedKWh)
			out.UnmatchedCount++
			out.Fulfillment[req.Buyer] = 0
			continue
		}

		fulfillment := bought / req.NeedKWh * 100
		ledger.BuyerReceived[req.Buyer] = bought
		out.Fulfillment[req.Buyer] = fulfillment
		if fulfillment >= fullFulfillmentPct {
			out.MatchedCount++
		} else {
			out.PartialCount++
		}

		partial := bought < req.NeedKWh
		for _, p := range purchases {
			alloc := model.Allocation{
				Round:   ledger.Round,
				Buyer:   req.Buyer,
				Seller:  p.seller,
				KWh:     p.kwh,
				Price:   p.price,
				Partial: partial,
			}
			ledger.Matches = append(ledger.Matches, alloc)
			a.notify(alloc, bought, req.NeedKWh)
			a.events.LogAuction(ledger.Round, req.Buyer, p.seller, p.kwh, p.price)
			a.observer.OnAllocation(alloc)
		}

		avgPrice := cost / bought
		log.Printf("auction: %s received %.1f/%.1f kWh (%.0f%%) for €%.2f (avg €%.2f/kWh)",
			req.Buyer, bought, req.NeedKWh, fulfillment, cost, avgPrice)

		out.TotalTraded += bought
		out.TotalValue += cost
		out.PricesPaid = append(out.PricesPaid, avgPrice)
		a.events.LogEvent("match", req.Buyer, bought, avgPrice, ledger.Round)
	}

	return out
}

// notify sends the per-purchase buyer and seller acceptances.
func (a *AuctionEngine) notify(alloc model.Allocation, totalReceived, totalNeeded float64) {
	buyerBody := bus.ControlCommandBody{
		RoundID:       int64(alloc.Round),
		Command:       bus.CommandEnergyPurchased,
		KW:            alloc.KWh,
		Price:         alloc.Price,
		From:          string(alloc.Seller),
		Partial:       alloc.Partial,
		TotalReceived: totalReceived,
		TotalNeeded:   totalNeeded,
	}
	if err := a.bus.SendJSON(bus.PerformativeAccept, bus.TypeControlCommand, a.addr, string(alloc.Buyer), buyerBody); err != nil {
		log.Printf("auction: notify buyer %s: %v", alloc.Buyer, err)
	}

	sellerBody := bus.OfferAcceptBody{
		RoundID: int64(alloc.Round),
		Buyer:   string(alloc.Buyer),
		KW:      alloc.KWh,
		Price:   alloc.Price,
	}
	if err := a.bus.SendJSON(bus.PerformativeAccept, bus.TypeOfferAccept, a.addr, string(alloc.Seller), sellerBody); err != nil {
		log.Printf("auction: notify seller %s: %v", alloc.Seller, err)
	}
}
