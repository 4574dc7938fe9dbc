package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microgrid_simulator/internal/model"
)

type captureObserver struct {
	NopObserver
	starts    []RoundInfo
	allocs    []model.Allocation
	gridTxs   []model.GridTransaction
	summaries []RoundSummary
	reports   []PerformanceReport
}

func (o *captureObserver) OnRoundStart(info RoundInfo) { o.starts = append(o.starts, info) }
func (o *captureObserver) OnAllocation(a model.Allocation) { o.allocs = append(o.allocs, a) }
func (o *captureObserver) OnGridTransaction(x model.GridTransaction) {
	o.gridTxs = append(o.gridTxs, x)
}
func (o *captureObserver) OnRoundSummary(s RoundSummary) { o.summaries = append(o.summaries, s) }
func (o *captureObserver) OnPerformanceReport(r PerformanceReport) { o.reports = append(o.reports, r) }

func TestTrackerClassifiesRounds(t *testing.T) {
	tr := NewPerformanceTracker(5, NopObserver{})

	tr.RecordRound(1, RoundData{AvgFulfillment: 100})
	tr.RecordRound(2, RoundData{AvgFulfillment: 99.5})
	tr.RecordRound(3, RoundData{AvgFulfillment: 40})
	tr.RecordRound(4, RoundData{AvgFulfillment: 0})

	perfect, partial, full := tr.BlackoutRounds()
	assert.Equal(t, 2, perfect)
	assert.Equal(t, 1, partial)
	assert.Equal(t, 1, full)
}

func TestTrackerNetBalance(t *testing.T) {
	tr := NewPerformanceTracker(5, NopObserver{})

	tr.RecordRound(1, RoundData{GridImportCost: 2.50, GridExportRevenue: 1.00})
	tr.RecordRound(2, RoundData{GridImportCost: 0.50, GridExportRevenue: 3.00})

	assert.InDelta(t, 1.00, tr.CumulativeNetBalance(), 1e-9)
}

func TestTrackerFulfillmentHistory(t *testing.T) {
	tr := NewPerformanceTracker(5, NopObserver{})
	tr.RecordRound(1, RoundData{BuyerFulfillment: map[model.ParticipantID]float64{"h1": 80}})
	tr.RecordRound(2, RoundData{BuyerFulfillment: map[model.ParticipantID]float64{"h1": 100}})

	assert.Equal(t, []float64{80, 100}, tr.FulfillmentHistory("h1"))
	assert.Empty(t, tr.FulfillmentHistory("h2"))
}

func TestTrackerReportsEveryInterval(t *testing.T) {
	obs := &captureObserver{}
	tr := NewPerformanceTracker(3, obs)

	for i := 1; i <= 7; i++ {
		tr.RecordRound(i, RoundData{
			TotalDemand:       10,
			TotalSupplied:     9,
			GridImportedKWh:   2,
			GridImportCost:    0.60,
			GridExportRevenue: 0.10,
		})
	}

	require.Len(t, obs.reports, 2)
	first := obs.reports[0]
	assert.Equal(t, 1, first.FromRound)
	assert.Equal(t, 3, first.ToRound)
	assert.InDelta(t, 30.0, first.WindowDemand, 1e-9)
	assert.InDelta(t, 27.0, first.WindowSupplied, 1e-9)
	assert.InDelta(t, 0.10*3-0.60*3, first.WindowNetBalance, 1e-9)

	second := obs.reports[1]
	assert.Equal(t, 4, second.FromRound)
	assert.Equal(t, 6, second.ToRound)
	assert.InDelta(t, 0.10*6-0.60*6, second.CumulativeNetBalance, 1e-9)
}

func TestTrackerCountsFailuresAndEmergencies(t *testing.T) {
	obs := &captureObserver{}
	tr := NewPerformanceTracker(2, obs)

	tr.RecordRound(1, RoundData{AvgFulfillment: 100, AnyProducerFailed: true, EmergencyUsed: true})
	tr.RecordRound(2, RoundData{AvgFulfillment: 100, AnyProducerFailed: true})

	require.Len(t, obs.reports, 1)
	perfect, _, _ := tr.BlackoutRounds()
	assert.Equal(t, 2, perfect)
}
