package coordinator

import (
	"log"

	"microgrid_simulator/internal/model"
)

// RoundData is the per-round record the performance tracker ingests.
type RoundData struct {
	TotalDemand   float64
	TotalSupplied float64
	MarketValue   float64
	WastedEnergy  float64

	// External-grid flows from the microgrid's perspective.
	GridImportedKWh   float64
	GridExportedKWh   float64
	GridImportCost    float64
	GridExportRevenue float64

	BuyerFulfillment map[model.ParticipantID]float64
	AvgFulfillment   float64

	AnyProducerFailed bool
	EmergencyUsed     bool
	Blackout          bool
	BlackoutImpacted  int
}

// PerformanceReport is one periodic summary window plus cumulative totals.
type PerformanceReport struct {
	FromRound int
	ToRound   int

	WindowDemand         float64
	WindowSupplied       float64
	WindowWasted         float64
	WindowMarketValue    float64
	WindowImportedKWh    float64
	WindowExportedKWh    float64
	WindowImportCost     float64
	WindowExportRevenue  float64
	WindowNetBalance     float64
	CumulativeNetBalance float64
}

// PerformanceTracker accumulates per-round metrics and prints a summary
// window every reporting interval.
type PerformanceTracker struct {
	interval int
	rounds   []RoundData

	totalDemandKWh    float64
	totalSuppliedKWh  float64
	totalMarketValue  float64
	gridImportedKWh   float64
	gridExportedKWh   float64
	gridImportCost    float64
	gridExportRevenue float64

	householdFulfillment map[model.ParticipantID][]float64

	roundsPerfect        int
	roundsPartial        int
	roundsFullBlackout   int
	producerFailures     int
	emergencyActivations int

	observer Observer
}

func NewPerformanceTracker(reportInterval int, observer Observer) *PerformanceTracker {
	if reportInterval < 1 {
		reportInterval = 5
	}
	return &PerformanceTracker{
		interval:             reportInterval,
		householdFulfillment: make(map[model.ParticipantID][]float64),
		observer:             observer,
	}
}

// RecordRound ingests one round. Reporting fires on every interval-th
// round.
func (t *PerformanceTracker) RecordRound(roundNum int, data RoundData) {
	t.rounds = append(t.rounds, data)

	t.totalDemandKWh += data.TotalDemand
	t.totalSuppliedKWh += data.TotalSupplied
	t.totalMarketValue += data.MarketValue
	t.gridImportedKWh += data.GridImportedKWh
	t.gridExportedKWh += data.GridExportedKWh
	t.gridImportCost += data.GridImportCost
	t.gridExportRevenue += data.GridExportRevenue

	for id, pct := range data.BuyerFulfillment {
		t.householdFulfillment[id] = append(t.householdFulfillment[id], pct)
	}

	switch {
	case data.AvgFulfillment >= fullFulfillmentPct:
		t.roundsPerfect++
	case data.AvgFulfillment > 0:
		t.roundsPartial++
	default:
		t.roundsFullBlackout++
	}

	if data.AnyProducerFailed {
		t.producerFailures++
	}
	if data.EmergencyUsed {
		t.emergencyActivations++
	}

	recordRoundMetrics(data)

	if roundNum > 0 && roundNum%t.interval == 0 {
		t.report(roundNum)
	}
}

// BlackoutRounds returns (perfect, partial, full-blackout) round counts.
func (t *PerformanceTracker) BlackoutRounds() (perfect, partial, full int) {
	return t.roundsPerfect, t.roundsPartial, t.roundsFullBlackout
}

// FulfillmentHistory returns the recorded fulfillment series for a buyer.
func (t *PerformanceTracker) FulfillmentHistory(id model.ParticipantID) []float64 {
	return t.householdFulfillment[id]
}

// CumulativeNetBalance is export revenue minus import cost since start.
func (t *PerformanceTracker) CumulativeNetBalance() float64 {
	return t.gridExportRevenue - t.gridImportCost
}

func (t *PerformanceTracker) report(roundNum int) {
	start := len(t.rounds) - t.interval
	if start < 0 {
		start = 0
	}
	window := t.rounds[start:]

	rep := PerformanceReport{
		FromRound: roundNum - len(window) + 1,
		ToRound:   roundNum,
	}
	for _, r := range window {
		rep.WindowDemand += r.TotalDemand
		rep.WindowSupplied += r.TotalSupplied
		rep.WindowWasted += r.WastedEnergy
		rep.WindowMarketValue += r.MarketValue
		rep.WindowImportedKWh += r.GridImportedKWh
		rep.WindowExportedKWh += r.GridExportedKWh
		rep.WindowImportCost += r.GridImportCost
		rep.WindowExportRevenue += r.GridExportRevenue
	}
	rep.WindowNetBalance = rep.WindowExportRevenue - rep.WindowImportCost
	rep.CumulativeNetBalance = t.CumulativeNetBalance()

	fulfillmentPct := 0.0
	if rep.WindowDemand > 0 {
		fulfillmentPct = rep.WindowSupplied / rep.WindowDemand * 100
	}
	fromMicrogrid := rep.WindowSupplied - rep.WindowImportedKWh

	log.Printf("PERFORMANCE SUMMARY (rounds %d-%d)", rep.FromRound, rep.ToRound)
	log.Printf("  energy: demand %.1f kWh, supplied %.1f kWh (%.1f%%), microgrid %.1f kWh, external %.1f kWh, wasted %.1f kWh",
		rep.WindowDemand, rep.WindowSupplied, fulfillmentPct, fromMicrogrid, rep.WindowImportedKWh, rep.WindowWasted)
	log.Printf("  economics: market value €%.2f, exported %.1f kWh (€%.2f), imported %.1f kWh (€%.2f)",
		rep.WindowMarketValue, rep.WindowExportedKWh, rep.WindowExportRevenue, rep.WindowImportedKWh, rep.WindowImportCost)
	log.Printf("  net balance: period €%.2f, total €%.2f", rep.WindowNetBalance, rep.CumulativeNetBalance)
	log.Printf("  reliability: perfect %d, partial %d, full blackout %d, producer failures %d, emergency %d",
		t.roundsPerfect, t.roundsPartial, t.roundsFullBlackout, t.producerFailures, t.emergencyActivations)

	t.observer.OnPerformanceReport(rep)
}
