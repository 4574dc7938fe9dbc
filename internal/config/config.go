package config

import (
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is the full configuration of a simulation run. Field names keep
// the legacy uppercase keys so existing scenario files load unchanged.
type Scenario struct {
	Name         string       `yaml:"NAME"`
	Description  string       `yaml:"DESCRIPTION"`
	Simulation   Simulation   `yaml:"SIMULATION"`
	ExternalGrid ExternalGrid `yaml:"EXTERNAL_GRID"`
	Producers    Producers    `yaml:"PRODUCERS"`
	Households   Households   `yaml:"HOUSEHOLDS"`
	Storage      Storage      `yaml:"STORAGE"`
	Environment  Environment  `yaml:"ENVIRONMENT"`
	Metrics      Metrics      `yaml:"METRICS"`
}

// Simulation configures round timing, population, and capacity limits.
type Simulation struct {
	XMPPServer          string      `yaml:"XMPP_SERVER"`
	NumConsumers        int         `yaml:"NUM_CONSUMERS"`
	NumProsumers        int         `yaml:"NUM_PROSUMERS"`
	RoundSleepSeconds   float64     `yaml:"ROUND_SLEEP_SECONDS"`
	OffersTimeout       float64     `yaml:"OFFERS_TIMEOUT"`
	StatusGraceSeconds  float64     `yaml:"STATUS_GRACE_SECONDS"`
	TransmissionLimitKW float64     `yaml:"TRANSMISSION_LIMIT_KW"`
	AgentLimitsKW       AgentLimits `yaml:"AGENT_LIMITS_KW"`
}

// AgentLimits holds per-role deliverable caps in kWh per round. A nil entry
// means the role is unlimited.
type AgentLimits struct {
	Consumer *float64 `yaml:"consumer"`
	Prosumer *float64 `yaml:"prosumer"`
	Producer *float64 `yaml:"producer"`
	Storage  *float64 `yaml:"storage"`
}

// ExternalGrid configures the stochastic outside counterparty. The legacy
// file keys are ambiguous across revisions: BUY_PRICE ranges are what the
// grid pays the microgrid for exports, SELL_PRICE ranges are what the
// microgrid pays for imports. Canonical accessors resolve the ambiguity.
type ExternalGrid struct {
	Enabled        *bool   `yaml:"ENABLED"`
	BuyPriceMin    float64 `yaml:"BUY_PRICE_MIN"`
	BuyPriceMax    float64 `yaml:"BUY_PRICE_MAX"`
	SellPriceMin   float64 `yaml:"SELL_PRICE_MIN"`
	SellPriceMax   float64 `yaml:"SELL_PRICE_MAX"`
	BuyPrice       float64 `yaml:"BUY_PRICE"`  // legacy single value
	SellPrice      float64 `yaml:"SELL_PRICE"` // legacy single value
	MinDynamic     float64 `yaml:"MIN_DYNAMIC_PRICE"`
	MaxDynamic     float64 `yaml:"MAX_DYNAMIC_PRICE"`
	AcceptanceProb float64 `yaml:"ACCEPTANCE_PROB"`
}

// IsEnabled reports whether external-grid settlement runs (default true).
func (g ExternalGrid) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// MicrogridExportPriceRange is what the grid pays the microgrid per kWh of
// absorbed surplus.
func (g ExternalGrid) MicrogridExportPriceRange() (lo, hi float64) {
	if g.BuyPriceMin > 0 || g.BuyPriceMax > 0 {
		return g.BuyPriceMin, g.BuyPriceMax
	}
	if g.BuyPrice > 0 {
		return g.BuyPrice, g.BuyPrice
	}
	return g.MinDynamic, g.MaxDynamic
}

// MicrogridImportPriceRange is what the microgrid pays per kWh delivered by
// the grid.
func (g ExternalGrid) MicrogridImportPriceRange() (lo, hi float64) {
	if g.SellPriceMin > 0 || g.SellPriceMax > 0 {
		return g.SellPriceMin, g.SellPriceMax
	}
	if g.SellPrice > 0 {
		return g.SellPrice, g.SellPrice
	}
	return g.MinDynamic, g.MaxDynamic
}

// Producers configures renewable generation and failure injection.
type Producers struct {
	SolarCapacityKW     float64    `yaml:"SOLAR_CAPACITY_KW"`
	WindCapacityKW      float64    `yaml:"WIND_CAPACITY_KW"`
	SolarEfficiency     float64    `yaml:"SOLAR_EFFICIENCY"`
	WindCapacityFactor  float64    `yaml:"WIND_CAPACITY_FACTOR"`
	ProductionNoise     FloatRange `yaml:"PRODUCTION_NOISE_RANGE"`
	FailureProb         float64    `yaml:"FAILURE_PROB"`
	FailureRoundsRange  IntRange   `yaml:"FAILURE_ROUNDS_RANGE"`
	ResponseProbability float64    `yaml:"RESPONSE_PROBABILITY"`
	AskPrice            float64    `yaml:"ASK_PRICE"`
}

// Households configures demand curves and prosumer batteries.
type Households struct {
	DemandRanges         DemandRanges `yaml:"DEMAND_RANGES"`
	PanelAreaRangeM2     FloatRange   `yaml:"PANEL_AREA_RANGE_M2"`
	BatteryCapacityKWh   float64      `yaml:"BATTERY_CAPACITY_KWH"`
	BatteryChargeRateKW  float64      `yaml:"BATTERY_CHARGE_RATE_KW"`
	BatteryDischargeKW   float64      `yaml:"BATTERY_DISCHARGE_RATE_KW"`
	BatteryEfficiency    float64      `yaml:"BATTERY_EFFICIENCY"`
	PriceMax             float64      `yaml:"PRICE_MAX"`
	AskPrice             float64      `yaml:"ASK_PRICE"`
	PanelEfficiency      float64      `yaml:"PANEL_EFFICIENCY"`
	IrradianceKWPerM2    float64      `yaml:"IRRADIANCE_KW_PER_M2"`
}

// DemandRanges holds the per-period household demand bands in kWh.
type DemandRanges struct {
	Night     FloatRange `yaml:"night"`
	Morning   FloatRange `yaml:"morning"`
	Afternoon FloatRange `yaml:"afternoon"`
	Evening   FloatRange `yaml:"evening"`
}

// Storage configures the centralized storage unit.
type Storage struct {
	CapacityKWh   float64 `yaml:"CAPACITY_KWH"`
	EmergencyOnly bool    `yaml:"EMERGENCY_ONLY"`
	AskPrice      float64 `yaml:"ASK_PRICE"`
	MaxPrice      float64 `yaml:"MAX_PRICE"`
	InitialSOC    float64 `yaml:"INITIAL_SOC_FRACTION"`
}

// Environment configures the weather model.
type Environment struct {
	BaseWindSpeed   float64    `yaml:"BASE_WIND_SPEED"`
	WindNoiseRange  FloatRange `yaml:"WIND_NOISE_RANGE"`
	BaseTemperature float64    `yaml:"BASE_TEMPERATURE"`
	TempVariation   float64    `yaml:"TEMP_VARIATION"`
}

// Metrics configures periodic performance reporting.
type Metrics struct {
	ReportIntervalRounds int `yaml:"REPORT_INTERVAL_ROUNDS"`
}

// FloatRange is an inclusive [Lo, Hi] interval.
type FloatRange struct {
	Lo float64
	Hi float64
}

// Draw samples the interval uniformly.
func (r FloatRange) Draw(rng *rand.Rand) float64 {
	return r.Lo + rng.Float64()*(r.Hi-r.Lo)
}

// IntRange is an inclusive [Lo, Hi] integer interval.
type IntRange struct {
	Lo int
	Hi int
}

// UnmarshalYAML accepts both two-element sequences (legacy tuples) and
// {lo, hi} mappings.
func (r *FloatRange) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var pair []float64
		if err := value.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("range needs exactly two elements, got %d", len(pair))
		}
		r.Lo, r.Hi = pair[0], pair[1]
		return nil
	}
	var aux struct {
		Lo float64 `yaml:"lo"`
		Hi float64 `yaml:"hi"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	r.Lo, r.Hi = aux.Lo, aux.Hi
	return nil
}

func (r *IntRange) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var pair []int
		if err := value.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("range needs exactly two elements, got %d", len(pair))
		}
		r.Lo, r.Hi = pair[0], pair[1]
		return nil
	}
	var aux struct {
		Lo int `yaml:"lo"`
		Hi int `yaml:"hi"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	r.Lo, r.Hi = aux.Lo, aux.Hi
	return nil
}

// Default returns the base scenario, equivalent to the stock configuration.
func Default() *Scenario {
	return &Scenario{
		Name:        "Base configuration",
		Description: "Default smart grid configuration without scenario overrides.",
		Simulation: Simulation{
			XMPPServer:          "localhost",
			NumConsumers:        5,
			NumProsumers:        2,
			RoundSleepSeconds:   10,
			OffersTimeout:       10,
			StatusGraceSeconds:  2,
			TransmissionLimitKW: 3.0,
		},
		ExternalGrid: ExternalGrid{
			BuyPriceMin:    0.10,
			BuyPriceMax:    0.15,
			SellPriceMin:   0.25,
			SellPriceMax:   0.32,
			MinDynamic:     0.10,
			MaxDynamic:     0.30,
			AcceptanceProb: 0.8,
		},
		Producers: Producers{
			SolarCapacityKW:     20.0,
			WindCapacityKW:      50.0,
			SolarEfficiency:     0.20,
			WindCapacityFactor:  0.42,
			ProductionNoise:     FloatRange{Lo: 0.95, Hi: 1.05},
			FailureProb:         0.2,
			FailureRoundsRange:  IntRange{Lo: 1, Hi: 4},
			ResponseProbability: 0.85,
			AskPrice:            0.18,
		},
		Households: Households{
			DemandRanges: DemandRanges{
				Night:     FloatRange{Lo: 0.5, Hi: 1.5},
				Morning:   FloatRange{Lo: 1.5, Hi: 3.0},
				Afternoon: FloatRange{Lo: 2.0, Hi: 4.0},
				Evening:   FloatRange{Lo: 1.0, Hi: 2.5},
			},
			PanelAreaRangeM2:    FloatRange{Lo: 15.0, Hi: 25.0},
			BatteryCapacityKWh:  5.0,
			BatteryChargeRateKW: 2.0,
			BatteryDischargeKW:  2.0,
			BatteryEfficiency:   0.95,
			PriceMax:            0.25,
			AskPrice:            0.20,
			PanelEfficiency:     0.20,
			IrradianceKWPerM2:   1.0,
		},
		Storage: Storage{
			CapacityKWh:   50.0,
			EmergencyOnly: true,
			AskPrice:      0.25,
			MaxPrice:      0.35,
			InitialSOC:    0.5,
		},
		Environment: Environment{
			BaseWindSpeed:   6.0,
			WindNoiseRange:  FloatRange{Lo: -2.0, Hi: 2.0},
			BaseTemperature: 22.0,
			TempVariation:   5.0,
		},
		Metrics: Metrics{
			ReportIntervalRounds: 5,
		},
	}
}

// Load reads a scenario file and overlays it on the defaults.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the coordinator cannot run.
func (c *Scenario) Validate() error {
	if c.Simulation.NumConsumers < 0 || c.Simulation.NumProsumers < 0 {
		return fmt.Errorf("negative population")
	}
	if c.Simulation.TransmissionLimitKW <= 0 {
		return fmt.Errorf("TRANSMISSION_LIMIT_KW must be positive")
	}
	if p := c.ExternalGrid.AcceptanceProb; p < 0 || p > 1 {
		return fmt.Errorf("ACCEPTANCE_PROB %v outside [0,1]", p)
	}
	if p := c.Producers.FailureProb; p < 0 || p > 1 {
		return fmt.Errorf("FAILURE_PROB %v outside [0,1]", p)
	}
	if r := c.Producers.FailureRoundsRange; r.Lo < 0 || r.Hi < r.Lo {
		return fmt.Errorf("FAILURE_ROUNDS_RANGE (%d,%d) invalid", r.Lo, r.Hi)
	}
	if c.Storage.CapacityKWh <= 0 {
		return fmt.Errorf("storage CAPACITY_KWH must be positive")
	}
	if c.Metrics.ReportIntervalRounds <= 0 {
		return fmt.Errorf("REPORT_INTERVAL_ROUNDS must be positive")
	}
	return nil
}
