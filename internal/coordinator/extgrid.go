package coordinator

import (
	"log"
	"math/rand"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/eventlog"
	"microgrid_simulator/internal/model"
)

// Surplus below this is not worth exporting.
const minExportKWh = 0.5

// ExternalGrid models the outside network as a stochastic counterparty:
// per round it draws an import price (what the microgrid pays for
// deliveries), an export price (what the grid pays for surplus), and an
// availability coin. It runs after the internal market closes.
type ExternalGrid struct {
	enabled        bool
	importLo       float64
	importHi       float64
	exportLo       float64
	exportHi       float64
	acceptanceProb float64

	rng      *rand.Rand
	bus      *bus.Bus
	addr     string
	events   eventlog.Sink
	observer Observer

	transmissionLimit float64

	// Cumulative counters over the process lifetime.
	TotalImportedKWh  float64
	TotalExportedKWh  float64
	TotalImportCost   float64
	TotalExportValue  float64
	RoundsAvailable   int
	RoundsUnavailable int
}

func NewExternalGrid(cfg config.ExternalGrid, transmissionLimit float64, rng *rand.Rand, b *bus.Bus, addr string, events eventlog.Sink, observer Observer) *ExternalGrid {
	importLo, importHi := cfg.MicrogridImportPriceRange()
	exportLo, exportHi := cfg.MicrogridExportPriceRange()
	return &ExternalGrid{
		enabled:           cfg.IsEnabled(),
		importLo:          importLo,
		importHi:          importHi,
		exportLo:          exportLo,
		exportHi:          exportHi,
		acceptanceProb:    cfg.AcceptanceProb,
		rng:               rng,
		bus:               b,
		addr:              addr,
		events:            events,
		observer:          observer,
		transmissionLimit: transmissionLimit,
	}
}

// GridResult is the settlement of one round against the external grid.
type GridResult struct {
	Available   bool
	ImportPrice float64
	ExportPrice float64

	ImportedKWh   float64
	ImportedValue float64
	ExportedKWh   float64
	ExportedValue float64
}

// Settle serves the round's unmet demand and absorbs its surplus, within
// the same per-buyer caps and transmission budget the auction used.
// Emergency-only storage remainders are never exported: their reserve
// exists for failures, not for arbitrage.
func (g *ExternalGrid) Settle(ledger *RoundLedger, outcome *MatchOutcome, states *StateStore) GridResult {
	if !g.enabled {
		return GridResult{}
	}

	res := GridResult{
		ImportPrice: g.importLo + g.rng.Float64()*(g.importHi-g.importLo),
		ExportPrice: g.exportLo + g.rng.Float64()*(g.exportHi-g.exportLo),
	}

	if g.rng.Float64() >= g.acceptanceProb {
		g.RoundsUnavailable++
		log.Printf("external grid unavailable this round")
		return res
	}
	res.Available = true
	g.RoundsAvailable++

	g.serveUnmetDemand(ledger, outcome, &res)
	g.absorbSurplus(ledger, states, &res)

	g.TotalImportedKWh += res.ImportedKWh
	g.TotalImportCost += res.ImportedValue
	g.TotalExportedKWh += res.ExportedKWh
	g.TotalExportValue += res.ExportedValue

	return res
}

func (g *ExternalGrid) serveUnmetDemand(ledger *RoundLedger, outcome *MatchOutcome, res *GridResult) {
	for _, req := range ledger.Requests() {
		received := ledger.BuyerReceived[req.Buyer]
		remaining := req.NeedKWh - received
		if remaining <= minTradeKWh {
			continue
		}

		if res.ImportPrice > req.PriceMax {
			log.Printf("external grid: %s cannot afford remaining %.1f kWh (€%.2f > max €%.2f)",
				req.Buyer, remaining, res.ImportPrice, req.PriceMax)
			continue
		}

		deliverableCap, ok := outcome.BuyerDeliverableCap[req.Buyer]
		if !ok {
			deliverableCap = req.NeedKWh
		}
		agentRemaining := deliverableCap - received
		transmissionRemaining := g.transmissionLimit - received

		if agentRemaining <= 0 {
			log.Printf("external grid: %s already at deliverable cap, skipping", req.Buyer)
			continue
		}
		if transmissionRemaining <= 0 {
			log.Printf("external grid: %s already at transmission limit (%.1f kWh), skipping",
				req.Buyer, g.transmissionLimit)
			continue
		}

		allowed := agentRemaining
		if transmissionRemaining < allowed {
			allowed = transmissionRemaining
		}
		delivered := remaining
		if allowed < delivered {
			delivered = allowed
		}
		if delivered <= 0 {
			continue
		}

		if delivered < remaining {
			log.Printf("external grid: demand of %.1f kWh from %s limited to %.1f kWh",
				remaining, req.Buyer, delivered)
			g.events.LogEvent("transmission_limit", req.Buyer, delivered, res.ImportPrice, ledger.Round)
		}

		body := bus.ControlCommandBody{
			RoundID: int64(ledger.Round),
			Command: bus.CommandEnergyPurchased,
			KW:      delivered,
			Price:   res.ImportPrice,
			From:    string(model.ExternalGridID),
		}
		if err := g.bus.SendJSON(bus.PerformativeAccept, bus.TypeControlCommand, g.addr, string(req.Buyer), body); err != nil {
			log.Printf("external grid: notify %s: %v", req.Buyer, err)
		}

		ledger.BuyerReceived[req.Buyer] = received + delivered
		tx := model.GridTransaction{
			Round:       ledger.Round,
			Participant: req.Buyer,
			KWh:         delivered,
			Price:       res.ImportPrice,
			Import:      true,
		}
		ledger.Grid = append(ledger.Grid, tx)
		g.observer.OnGridTransaction(tx)

		res.ImportedKWh += delivered
		res.ImportedValue += delivered * res.ImportPrice

		fulfillment := ledger.BuyerReceived[req.Buyer] / req.NeedKWh * 100
		if fulfillment > 100 {
			fulfillment = 100
		}
		outcome.Fulfillment[req.Buyer] = fulfillment
		log.Printf("external grid: %s bought %.1f kWh @ €%.2f/kWh, fulfillment now %.0f%%",
			req.Buyer, delivered, res.ImportPrice, fulfillment)
	}
}

func (g *ExternalGrid) absorbSurplus(ledger *RoundLedger, states *StateStore, res *GridResult) {
	ledger.Offers(func(o model.Offer) {
		surplus := ledger.SellerRemaining[o.Seller]
		if surplus <= minExportKWh {
			return
		}
		if st, ok := states.Storage(o.Seller); ok && st.EmergencyOnly {
			return
		}

		body := bus.OfferAcceptBody{
			RoundID: int64(ledger.Round),
			Buyer:   string(model.ExternalGridID),
			KW:      surplus,
			Price:   res.ExportPrice,
		}
		if err := g.bus.SendJSON(bus.PerformativeAccept, bus.TypeOfferAccept, g.addr, string(o.Seller), body); err != nil {
			log.Printf("external grid: notify %s: %v", o.Seller, err)
		}

		tx := model.GridTransaction{
			Round:       ledger.Round,
			Participant: o.Seller,
			KWh:         surplus,
			Price:       res.ExportPrice,
			Import:      false,
		}
		ledger.Grid = append(ledger.Grid, tx)
		g.observer.OnGridTransaction(tx)

		res.ExportedKWh += surplus
		res.ExportedValue += surplus * res.ExportPrice
		log.Printf("external grid: %s sold %.1f kWh surplus @ €%.2f/kWh", o.Seller, surplus, res.ExportPrice)
	})
}
