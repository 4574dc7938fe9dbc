package ws

import (
	"log"
	"sync"

	"golang.org/x/time/rate"

	"microgrid_simulator/internal/coordinator"
	"microgrid_simulator/internal/model"
)

// Bridge implements coordinator.Observer and broadcasts round events to the
// WebSocket hub. Per-allocation traffic is rate limited so a busy market
// cannot flood slow clients; round results and performance reports always go
// out.
type Bridge struct {
	hub     *Hub
	limiter *rate.Limiter

	mu         sync.Mutex
	lastResult []byte
}

func NewBridge(hub *Hub) *Bridge {
	return &Bridge{
		hub:     hub,
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
}

func (b *Bridge) OnRoundStart(info coordinator.RoundInfo) {
	msg, err := NewEnvelope(TypeRoundStart, RoundStartPayload{
		Round:           int64(info.Round),
		Day:             info.SimTime.Day,
		Hour:            info.SimTime.Hour,
		Period:          string(model.PeriodForHour(info.SimTime.Hour)),
		SolarIrradiance: info.Env.SolarIrradiance,
		WindSpeed:       info.Env.WindSpeed,
		TemperatureC:    info.Env.TemperatureC,
	})
	if err != nil {
		log.Printf("ws: marshal round start: %v", err)
		return
	}
	b.hub.Broadcast(msg)
}

func (b *Bridge) OnAllocation(alloc model.Allocation) {
	if !b.limiter.Allow() {
		return
	}
	msg, err := NewEnvelope(TypeAllocation, AllocationPayload{
		Round:   int64(alloc.Round),
		Buyer:   string(alloc.Buyer),
		Seller:  string(alloc.Seller),
		KWh:     alloc.KWh,
		Price:   alloc.Price,
		Partial: alloc.Partial,
	})
	if err != nil {
		log.Printf("ws: marshal allocation: %v", err)
		return
	}
	b.hub.Broadcast(msg)
}

func (b *Bridge) OnGridTransaction(tx model.GridTransaction) {
	if !b.limiter.Allow() {
		return
	}
	msg, err := NewEnvelope(TypeGridTrade, GridTradePayload{
		Round:       int64(tx.Round),
		Participant: string(tx.Participant),
		KWh:         tx.KWh,
		Price:       tx.Price,
		Import:      tx.Import,
	})
	if err != nil {
		log.Printf("ws: marshal grid trade: %v", err)
		return
	}
	b.hub.Broadcast(msg)
}

func (b *Bridge) OnRoundSummary(summary coordinator.RoundSummary) {
	msg, err := NewEnvelope(TypeRoundResult, roundResultFromSummary(summary))
	if err != nil {
		log.Printf("ws: marshal round result: %v", err)
		return
	}
	b.mu.Lock()
	b.lastResult = msg
	b.mu.Unlock()
	b.hub.Broadcast(msg)
}

func (b *Bridge) OnPerformanceReport(report coordinator.PerformanceReport) {
	msg, err := NewEnvelope(TypePerformance, performanceFromReport(report))
	if err != nil {
		log.Printf("ws: marshal performance report: %v", err)
		return
	}
	b.hub.Broadcast(msg)
}

// LastRoundResult returns the most recent round result envelope, sent to
// freshly connected clients.
func (b *Bridge) LastRoundResult() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastResult
}
