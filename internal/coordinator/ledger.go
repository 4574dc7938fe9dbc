package coordinator

import (
	"time"

	"microgrid_simulator/internal/model"
)

// RoundLedger is the per-round container for everything the auction
// accumulates: invited sellers, offers and requests in arrival order,
// declines, matches, external-grid transactions, and the running per-buyer
// and per-seller totals.
type RoundLedger struct {
	Round    model.RoundID
	Started  time.Time
	Deadline time.Time

	Invited map[model.ParticipantID]struct{}

	offers     map[model.ParticipantID]model.Offer
	offerOrder []model.ParticipantID

	requests     map[model.ParticipantID]model.Request
	requestOrder []model.ParticipantID

	Declined map[model.ParticipantID]struct{}

	Matches []model.Allocation
	Grid    []model.GridTransaction

	BuyerReceived   map[model.ParticipantID]float64
	SellerRemaining map[model.ParticipantID]float64
}

func NewRoundLedger(round model.RoundID, started time.Time) *RoundLedger {
	return &RoundLedger{
		Round:           round,
		Started:         started,
		Invited:         make(map[model.ParticipantID]struct{}),
		offers:          make(map[model.ParticipantID]model.Offer),
		requests:        make(map[model.ParticipantID]model.Request),
		Declined:        make(map[model.ParticipantID]struct{}),
		BuyerReceived:   make(map[model.ParticipantID]float64),
		SellerRemaining: make(map[model.ParticipantID]float64),
	}
}

// AddOffer records a seller's offer. A second offer from the same seller
// replaces the first without changing its arrival position.
func (l *RoundLedger) AddOffer(o model.Offer) {
	if _, ok := l.offers[o.Seller]; !ok {
		l.offerOrder = append(l.offerOrder, o.Seller)
	}
	l.offers[o.Seller] = o
}

// AddRequest records a buyer's request, replacing any earlier one.
func (l *RoundLedger) AddRequest(r model.Request) {
	if _, ok := l.requests[r.Buyer]; !ok {
		l.requestOrder = append(l.requestOrder, r.Buyer)
	}
	l.requests[r.Buyer] = r
}

// Offer returns the offer from seller, if any.
func (l *RoundLedger) Offer(seller model.ParticipantID) (model.Offer, bool) {
	o, ok := l.offers[seller]
	return o, ok
}

// Offers visits offers in arrival order.
func (l *RoundLedger) Offers(fn func(model.Offer)) {
	for _, id := range l.offerOrder {
		fn(l.offers[id])
	}
}

// Requests returns requests in arrival order.
func (l *RoundLedger) Requests() []model.Request {
	out := make([]model.Request, 0, len(l.requestOrder))
	for _, id := range l.requestOrder {
		out = append(out, l.requests[id])
	}
	return out
}

// OfferCount returns the number of distinct sellers that offered.
func (l *RoundLedger) OfferCount() int { return len(l.offers) }

// RequestCount returns the number of distinct buyers that requested.
func (l *RoundLedger) RequestCount() int { return len(l.requests) }

// TotalDemand sums the requested energy across all buyers.
func (l *RoundLedger) TotalDemand() float64 {
	var total float64
	for _, r := range l.requests {
		total += r.NeedKWh
	}
	return total
}

// WastedEnergy sums the unsold remainder across all sellers.
func (l *RoundLedger) WastedEnergy() float64 {
	var total float64
	for _, rem := range l.SellerRemaining {
		total += rem
	}
	return total
}

// LedgerWindow retains the ledgers of the most recent rounds so the
// performance tracker can read them after the round closes.
type LedgerWindow struct {
	retain  int
	ledgers map[model.RoundID]*RoundLedger
	order   []model.RoundID
}

// NewLedgerWindow retains up to retain past rounds. Retain must be >= 1.
func NewLedgerWindow(retain int) *LedgerWindow {
	if retain < 1 {
		retain = 1
	}
	return &LedgerWindow{
		retain:  retain,
		ledgers: make(map[model.RoundID]*RoundLedger),
	}
}

// Open creates and tracks the ledger for a new round, releasing the oldest
// retained round when the window overflows. Returns the released round ids.
func (w *LedgerWindow) Open(round model.RoundID, started time.Time) (*RoundLedger, []model.RoundID) {
	l := NewRoundLedger(round, started)
	w.ledgers[round] = l
	w.order = append(w.order, round)

	var released []model.RoundID
	for len(w.order) > w.retain {
		old := w.order[0]
		w.order = w.order[1:]
		delete(w.ledgers, old)
		released = append(released, old)
	}
	return l, released
}

// Get returns the retained ledger for round, if still present.
func (w *LedgerWindow) Get(round model.RoundID) (*RoundLedger, bool) {
	l, ok := w.ledgers[round]
	return l, ok
}

// Len returns the number of retained rounds.
func (w *LedgerWindow) Len() int { return len(w.order) }
