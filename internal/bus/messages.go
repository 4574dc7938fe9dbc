package bus

// Well-known bus addresses.
const (
	CoordinatorAddr = "coordinator"
	EnvironmentAddr = "environment"
)

// Performative constants follow the FIPA-flavoured naming of the original
// coordinator protocol.
const (
	PerformativeInform  = "inform"
	PerformativeRequest = "request"
	PerformativePropose = "propose"
	PerformativeRefuse  = "refuse"
	PerformativeAccept  = "accept"
	PerformativeCFP     = "cfp"
)

// Message type constants.
const (
	// Participant -> coordinator
	TypeRegisterHousehold = "register_household"
	TypeRegisterProducer  = "register_producer"
	TypeRegisterStorage   = "register_storage"
	TypeStatusReport      = "status_report"
	TypeProductionReport  = "production_report"
	TypeStatusBattery     = "statusBattery"
	TypeEnergyRequest     = "energy_request"
	TypeEnergyOffer       = "energy_offer"
	TypeDeclinedOffer     = "declined_offer"

	// Coordinator -> participant
	TypeCallForOffers  = "call_for_offers"
	TypeControlCommand = "control_command"
	TypeOfferAccept    = "offer_accept"

	// Environment
	TypeEnvironmentUpdate        = "environment_update"
	TypeRequestEnvironmentUpdate = "request_environment_update"
)

// Registration payloads.

type RegisterHouseholdBody struct {
	JID        string  `json:"jid"`
	IsProsumer bool    `json:"is_prosumer"`
	Timestamp  float64 `json:"timestamp"`
}

type RegisterProducerBody struct {
	JID            string  `json:"jid"`
	ProductionType string  `json:"production_type"`
	MaxCapacityKWh float64 `json:"max_capacity_kwh"`
	Timestamp      float64 `json:"timestamp"`
}

type RegisterStorageBody struct {
	JID           string  `json:"jid"`
	CapacityKWh   float64 `json:"capacity_kwh"`
	EmergencyOnly bool    `json:"emergency_only"`
	Timestamp     float64 `json:"timestamp"`
}

// Telemetry payloads.

type StatusReportBody struct {
	JID             string  `json:"jid"`
	IsProsumer      bool    `json:"is_prosumer"`
	DemandKWh       float64 `json:"demand_kwh"`
	ProdKWh         float64 `json:"prod_kwh"`
	BatteryKWh      float64 `json:"battery_kwh"`
	PanelAreaM2     float64 `json:"panel_area_m2"`
	SolarIrradiance float64 `json:"solar_irradiance"`
	WindSpeed       float64 `json:"wind_speed"`
	TemperatureC    float64 `json:"temperature_c"`
	Timestamp       float64 `json:"timestamp"`
}

type ProductionReportBody struct {
	JID                    string  `json:"jid"`
	ProdKWh                float64 `json:"prod_kwh"`
	Type                   string  `json:"type"`
	IsOperational          bool    `json:"is_operational"`
	FailureRoundsRemaining int     `json:"failure_rounds_remaining"`
	FailureRoundsTotal     int     `json:"failure_rounds_total"`
	SolarIrradiance        float64 `json:"solar_irradiance"`
	WindSpeed              float64 `json:"wind_speed"`
	TemperatureC           float64 `json:"temperature_c"`
	Timestamp              float64 `json:"timestamp"`
}

type StatusBatteryBody struct {
	JID           string  `json:"jid"`
	SOCKWh        float64 `json:"soc_kwh"`
	CapKWh        float64 `json:"cap_kwh"`
	TempC         float64 `json:"temp_c"`
	SOH           float64 `json:"soh"`
	EmergencyOnly bool    `json:"emergency_only"`
	Timestamp     float64 `json:"timestamp"`
}

// Market payloads.

type CallForOffersBody struct {
	RoundID         int64   `json:"round_id"`
	DeadlineTS      float64 `json:"deadline_ts"`
	ProducersFailed bool    `json:"producers_failed"`
}

type EnergyRequestBody struct {
	RoundID  int64   `json:"round_id"`
	NeedKWh  float64 `json:"need_kwh"`
	PriceMax float64 `json:"price_max"`
}

type EnergyOfferBody struct {
	RoundID   int64   `json:"round_id"`
	OfferKWh  float64 `json:"offer_kwh"`
	Price     float64 `json:"price"`
	Emergency bool    `json:"emergency,omitempty"`
}

type DeclinedOfferBody struct {
	RoundID int64  `json:"round_id"`
	Reason  string `json:"reason"`
}

type ControlCommandBody struct {
	RoundID       int64   `json:"round_id"`
	Command       string  `json:"command"`
	KW            float64 `json:"kw"`
	Price         float64 `json:"price"`
	From          string  `json:"from"`
	Partial       bool    `json:"partial"`
	TotalReceived float64 `json:"total_received"`
	TotalNeeded   float64 `json:"total_needed"`
}

// CommandEnergyPurchased is the only control command the market emits.
const CommandEnergyPurchased = "energy_purchased"

type OfferAcceptBody struct {
	RoundID int64   `json:"round_id"`
	Buyer   string  `json:"buyer"`
	KW      float64 `json:"kw"`
	Price   float64 `json:"price"`
}

// Environment payloads.

type EnvironmentUpdateBody struct {
	SolarIrradiance float64 `json:"solar_irradiance"`
	WindSpeed       float64 `json:"wind_speed"`
	TemperatureC    float64 `json:"temperature_c"`
	SimHour         int     `json:"sim_hour"`
}

type RequestEnvironmentUpdateBody struct {
	Command string `json:"command"`
	SimHour int    `json:"sim_hour"`
}
