package model

import "time"

// ParticipantID is the opaque network identity of an agent.
type ParticipantID string

// ExternalGridID is the pseudo-participant used in notifications for
// external-grid deliveries and absorptions.
const ExternalGridID ParticipantID = "external_grid"

// RoundID is a monotonically increasing round identifier assigned by the
// coordinator at round start.
type RoundID int64

// SimulatedTime advances one hour per round.
type SimulatedTime struct {
	Day  int `json:"day"`
	Hour int `json:"hour"` // 0-23
}

// Advance moves one simulated hour forward, carrying into the next day.
func (t SimulatedTime) Advance() SimulatedTime {
	t.Hour++
	if t.Hour >= 24 {
		t.Hour = 0
		t.Day++
	}
	return t
}

// DemandPeriod classifies a simulated hour into the demand bands used by
// household demand curves and round logging.
type DemandPeriod string

const (
	PeriodNight     DemandPeriod = "night"
	PeriodMorning   DemandPeriod = "morning"
	PeriodAfternoon DemandPeriod = "afternoon"
	PeriodEvening   DemandPeriod = "evening"
)

// PeriodForHour maps an hour of the simulated day to its demand period.
func PeriodForHour(hour int) DemandPeriod {
	switch {
	case hour >= 6 && hour < 9:
		return PeriodMorning
	case hour >= 18 && hour < 22:
		return PeriodEvening
	case hour >= 0 && hour < 6:
		return PeriodNight
	default:
		return PeriodAfternoon
	}
}

// EnvironmentSnapshot is the weather state broadcast each round.
type EnvironmentSnapshot struct {
	SolarIrradiance float64 `json:"solar_irradiance"` // 0-1
	WindSpeed       float64 `json:"wind_speed"`       // m/s
	TemperatureC    float64 `json:"temperature_c"`
	SimHour         int     `json:"sim_hour"`
}

// ProductionType distinguishes renewable producer kinds.
type ProductionType string

const (
	ProductionSolar ProductionType = "solar"
	ProductionWind  ProductionType = "wind"
)

// HouseholdState is the last-known telemetry of a household or prosumer.
type HouseholdState struct {
	IsProsumer  bool
	DemandKWh   float64
	ProdKWh     float64
	BatteryKWh  float64
	PanelAreaM2 float64
	Env         EnvironmentSnapshot
	ReportedAt  time.Time
}

// ProducerState is the last-known telemetry of a renewable producer. The
// failure counters are owned by the coordinator, not the producer.
type ProducerState struct {
	Type                   ProductionType
	ProdKWh                float64
	IsOperational          bool
	FailureRoundsRemaining int
	FailureRoundsTotal     int
	MaxCapacityKWh         float64
	ReportedAt             time.Time
}

// StorageState is the last-known telemetry of a storage unit.
type StorageState struct {
	SOCKWh        float64
	CapKWh        float64
	EmergencyOnly bool
	SOH           float64
	TempC         float64
	ReportedAt    time.Time
}

// SOCPercent returns the state of charge as a percentage of capacity.
func (s StorageState) SOCPercent() float64 {
	if s.CapKWh <= 0 {
		return 0
	}
	return s.SOCKWh / s.CapKWh * 100
}

// Offer is a seller's proposal for one round.
type Offer struct {
	Round    RoundID
	Seller   ParticipantID
	OfferKWh float64
	Price    float64 // EUR/kWh
	SentAt   time.Time
}

// Request is a buyer's demand for one round.
type Request struct {
	Round    RoundID
	Buyer    ParticipantID
	NeedKWh  float64
	PriceMax float64
}

// Allocation is one cleared sub-trade of the matching algorithm.
type Allocation struct {
	Round   RoundID
	Buyer   ParticipantID
	Seller  ParticipantID
	KWh     float64
	Price   float64
	Partial bool
}

// GridTransaction is an external-grid delivery (import) or absorption
// (export) settled after the internal market closes.
type GridTransaction struct {
	Round       RoundID
	Participant ParticipantID
	KWh         float64
	Price       float64
	Import      bool // true when the grid delivers to a microgrid buyer
}
