package ws

import (
	"encoding/json"

	"microgrid_simulator/internal/coordinator"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants
const (
	// Server -> Client
	TypeRoundStart  = "round:start"
	TypeAllocation  = "round:allocation"
	TypeGridTrade   = "round:grid_trade"
	TypeRoundResult = "round:result"
	TypePerformance = "performance:report"
)

// Server -> Client payloads

type RoundStartPayload struct {
	Round           int64   `json:"round"`
	Day             int     `json:"day"`
	Hour            int     `json:"hour"`
	Period          string  `json:"period"`
	SolarIrradiance float64 `json:"solar_irradiance"`
	WindSpeed       float64 `json:"wind_speed"`
	TemperatureC    float64 `json:"temperature_c"`
}

type AllocationPayload struct {
	Round   int64   `json:"round"`
	Buyer   string  `json:"buyer"`
	Seller  string  `json:"seller"`
	KWh     float64 `json:"kwh"`
	Price   float64 `json:"price"`
	Partial bool    `json:"partial"`
}

type GridTradePayload struct {
	Round       int64   `json:"round"`
	Participant string  `json:"participant"`
	KWh         float64 `json:"kwh"`
	Price       float64 `json:"price"`
	Import      bool    `json:"import"`
}

type RoundResultPayload struct {
	Round int64 `json:"round"`
	Day   int   `json:"day"`
	Hour  int   `json:"hour"`

	Sellers   int `json:"sellers"`
	Buyers    int `json:"buyers"`
	Matched   int `json:"matched"`
	Partial   int `json:"partial"`
	Unmatched int `json:"unmatched"`
	Declined  int `json:"declined"`

	TotalTradedKWh float64 `json:"total_traded_kwh"`
	TotalValueEUR  float64 `json:"total_value_eur"`
	AvgPriceEUR    float64 `json:"avg_price_eur"`

	AvgFulfillmentPct float64 `json:"avg_fulfillment_pct"`
	Blackout          bool    `json:"blackout"`
	BlackoutImpacted  int     `json:"blackout_impacted"`
	ProducerFailed    bool    `json:"producer_failed"`

	GridAvailable   bool    `json:"grid_available"`
	GridImportedKWh float64 `json:"grid_imported_kwh"`
	GridExportedKWh float64 `json:"grid_exported_kwh"`
}

type PerformancePayload struct {
	FromRound int `json:"from_round"`
	ToRound   int `json:"to_round"`

	DemandKWh        float64 `json:"demand_kwh"`
	SuppliedKWh      float64 `json:"supplied_kwh"`
	WastedKWh        float64 `json:"wasted_kwh"`
	MarketValueEUR   float64 `json:"market_value_eur"`
	ImportedKWh      float64 `json:"imported_kwh"`
	ExportedKWh      float64 `json:"exported_kwh"`
	ImportCostEUR    float64 `json:"import_cost_eur"`
	ExportRevenueEUR float64 `json:"export_revenue_eur"`
	NetBalanceEUR    float64 `json:"net_balance_eur"`
	TotalBalanceEUR  float64 `json:"total_balance_eur"`
}

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

func roundResultFromSummary(s coordinator.RoundSummary) RoundResultPayload {
	return RoundResultPayload{
		Round:             int64(s.Round),
		Day:               s.SimTime.Day,
		Hour:              s.SimTime.Hour,
		Sellers:           s.Sellers,
		Buyers:            s.Buyers,
		Matched:           s.MatchedCount,
		Partial:           s.PartialCount,
		Unmatched:         s.UnmatchedCount,
		Declined:          s.DeclinedCount,
		TotalTradedKWh:    s.TotalTraded,
		TotalValueEUR:     s.TotalValue,
		AvgPriceEUR:       s.AvgPrice,
		AvgFulfillmentPct: s.AvgFulfillment,
		Blackout:          s.Blackout,
		BlackoutImpacted:  s.BlackoutImpacted,
		ProducerFailed:    s.AnyProducerFailed,
		GridAvailable:     s.GridAvailable,
		GridImportedKWh:   s.GridImportedKWh,
		GridExportedKWh:   s.GridExportedKWh,
	}
}

func performanceFromReport(r coordinator.PerformanceReport) PerformancePayload {
	return PerformancePayload{
		FromRound:        r.FromRound,
		ToRound:          r.ToRound,
		DemandKWh:        r.WindowDemand,
		SuppliedKWh:      r.WindowSupplied,
		WastedKWh:        r.WindowWasted,
		MarketValueEUR:   r.WindowMarketValue,
		ImportedKWh:      r.WindowImportedKWh,
		ExportedKWh:      r.WindowExportedKWh,
		ImportCostEUR:    r.WindowImportCost,
		ExportRevenueEUR: r.WindowExportRevenue,
		NetBalanceEUR:    r.WindowNetBalance,
		TotalBalanceEUR:  r.CumulativeNetBalance,
	}
}
