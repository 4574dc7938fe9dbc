package eventlog

import (
	"sync"
	"time"

	"microgrid_simulator/internal/model"
)

// Event is one append-only audit record.
type Event struct {
	Timestamp time.Time
	Kind      string
	Agent     model.ParticipantID
	KWh       float64
	Price     float64
	Round     model.RoundID
}

// AuctionResult is one settled allocation.
type AuctionResult struct {
	Round     model.RoundID
	Buyer     model.ParticipantID
	Seller    model.ParticipantID
	KWh       float64
	Price     float64
	Timestamp time.Time
}

// Sink receives audit events and settled auction results. Implementations
// must be safe for use from multiple goroutines.
type Sink interface {
	LogEvent(kind string, agent model.ParticipantID, kwh, price float64, round model.RoundID)
	LogAuction(round model.RoundID, buyer, seller model.ParticipantID, kwh, price float64)
	Close() error
}

// Memory keeps events in memory. It is the default sink and the one tests
// inspect.
type Memory struct {
	mu       sync.Mutex
	events   []Event
	auctions []AuctionResult
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) LogEvent(kind string, agent model.ParticipantID, kwh, price float64, round model.RoundID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{
		Timestamp: m.now(),
		Kind:      kind,
		Agent:     agent,
		KWh:       kwh,
		Price:     price,
		Round:     round,
	})
}

func (m *Memory) LogAuction(round model.RoundID, buyer, seller model.ParticipantID, kwh, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions = append(m.auctions, AuctionResult{
		Round:     round,
		Buyer:     buyer,
		Seller:    seller,
		KWh:       kwh,
		Price:     price,
		Timestamp: m.now(),
	})
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of all recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfKind returns all recorded events with the given kind.
func (m *Memory) EventsOfKind(kind string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Auctions returns a copy of all recorded auction results.
func (m *Memory) Auctions() []AuctionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuctionResult, len(m.auctions))
	copy(out, m.auctions)
	return out
}
