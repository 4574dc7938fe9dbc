package coordinator

import "microgrid_simulator/internal/model"

// RoundInfo announces a starting round.
type RoundInfo struct {
	Round   model.RoundID
	Counter int
	SimTime model.SimulatedTime
	Env     model.EnvironmentSnapshot
}

// RoundSummary closes a round for observers.
type RoundSummary struct {
	Round   model.RoundID
	Counter int
	SimTime model.SimulatedTime

	Sellers int
	Buyers  int

	MatchedCount   int
	PartialCount   int
	UnmatchedCount int
	DeclinedCount  int

	TotalTraded float64
	TotalValue  float64
	AvgPrice    float64

	AvgFulfillment    float64
	Blackout          bool
	BlackoutImpacted  int
	AnyProducerFailed bool

	GridAvailable   bool
	GridImportedKWh float64
	GridExportedKWh float64
}

// Observer receives coordinator events. The dashboard bridge implements it;
// headless runs use NopObserver.
type Observer interface {
	OnRoundStart(info RoundInfo)
	OnAllocation(alloc model.Allocation)
	OnGridTransaction(tx model.GridTransaction)
	OnRoundSummary(summary RoundSummary)
	OnPerformanceReport(report PerformanceReport)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) OnRoundStart(RoundInfo)                  {}
func (NopObserver) OnAllocation(model.Allocation)           {}
func (NopObserver) OnGridTransaction(model.GridTransaction) {}
func (NopObserver) OnRoundSummary(RoundSummary)             {}
func (NopObserver) OnPerformanceReport(PerformanceReport)   {}
