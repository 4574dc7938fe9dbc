package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microgrid_rounds_total",
		Help: "Total number of completed auction rounds",
	})

	metricEnergyTraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microgrid_energy_traded_kwh_total",
		Help: "Total energy cleared by the internal market in kWh",
	})

	metricMarketValue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microgrid_market_value_eur_total",
		Help: "Total value cleared by the internal market in EUR",
	})

	metricWastedEnergy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microgrid_wasted_energy_kwh_total",
		Help: "Total unsold seller remainder in kWh",
	})

	metricAvgFulfillment = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "microgrid_round_fulfillment_avg_percent",
		Help: "Average buyer fulfillment of the last recorded round",
	})

	metricBlackoutRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microgrid_blackout_rounds_total",
		Help: "Rounds whose average fulfillment fell below the blackout threshold",
	})

	metricProducerFailureRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microgrid_producer_failure_rounds_total",
		Help: "Rounds during which at least one producer was offline",
	})

	metricGridFlow = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microgrid_external_grid_kwh_total",
		Help: "Energy exchanged with the external grid in kWh",
	}, []string{"direction"})

	metricGridValue = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microgrid_external_grid_eur_total",
		Help: "Value exchanged with the external grid in EUR",
	}, []string{"direction"})
)

func recordRoundMetrics(data RoundData) {
	metricRoundsTotal.Inc()
	metricEnergyTraded.Add(data.TotalSupplied - data.GridImportedKWh)
	metricMarketValue.Add(data.MarketValue - data.GridImportCost)
	metricWastedEnergy.Add(data.WastedEnergy)
	metricAvgFulfillment.Set(data.AvgFulfillment)
	if data.Blackout {
		metricBlackoutRounds.Inc()
	}
	if data.AnyProducerFailed {
		metricProducerFailureRounds.Inc()
	}
	metricGridFlow.WithLabelValues("import").Add(data.GridImportedKWh)
	metricGridFlow.WithLabelValues("export").Add(data.GridExportedKWh)
	metricGridValue.WithLabelValues("import").Add(data.GridImportCost)
	metricGridValue.WithLabelValues("export").Add(data.GridExportRevenue)
}
