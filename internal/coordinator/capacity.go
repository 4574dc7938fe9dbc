package coordinator

import (
	"fmt"

	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/model"
)

// Operation distinguishes the direction a capacity limit applies to.
type Operation string

const (
	OpBuy  Operation = "buy"
	OpSell Operation = "sell"
)

// LimitInfo is the resolved deliverable cap for one participant and
// operation. Limited is false for roles without a configured cap.
type LimitInfo struct {
	Limited   bool
	Effective float64
	Display   string
}

// Clamp applies the limit to kwh, never returning a negative amount.
func (li LimitInfo) Clamp(kwh float64) float64 {
	if li.Limited && kwh > li.Effective {
		kwh = li.Effective
	}
	if kwh < 0 {
		return 0
	}
	return kwh
}

// CapacityEnforcer resolves per-agent deliverable caps from the configured
// role limits. The global per-buyer transmission limit is applied by the
// auction engine and external-grid adapter on top of these caps.
type CapacityEnforcer struct {
	limits     config.AgentLimits
	chargeRate float64
	batteryCap float64
}

func NewCapacityEnforcer(sim config.Simulation, hh config.Households) *CapacityEnforcer {
	return &CapacityEnforcer{
		limits:     sim.AgentLimitsKW,
		chargeRate: hh.BatteryChargeRateKW,
		batteryCap: hh.BatteryCapacityKWh,
	}
}

// Limit resolves the deliverable cap for id. For a prosumer selling, the
// configured role limit is reduced by the estimated internal use: own
// consumption plus the battery charge planned from the surplus.
func (c *CapacityEnforcer) Limit(id model.ParticipantID, op Operation, registry *Registry, states *StateStore) LimitInfo {
	cat, ok := registry.CategoryOf(id)
	if !ok {
		return LimitInfo{}
	}

	var base *float64
	role := ""
	switch cat {
	case CategoryProducer:
		base = c.limits.Producer
		role = "producer"
	case CategoryStorage:
		base = c.limits.Storage
		role = "storage"
	case CategoryHousehold:
		if hh, ok := states.Household(id); ok && hh.IsProsumer {
			base = c.limits.Prosumer
			role = "prosumer"
		} else {
			base = c.limits.Consumer
			role = "consumer"
		}
	}

	if base == nil {
		return LimitInfo{}
	}

	effective := *base
	if op == OpSell && role == "prosumer" {
		if hh, ok := states.Household(id); ok {
			effective -= c.prosumerInternalUse(hh)
			if effective < 0 {
				effective = 0
			}
		}
	}

	return LimitInfo{
		Limited:   true,
		Effective: effective,
		Display:   fmt.Sprintf("%s limit %.1f kWh", role, effective),
	}
}

// prosumerInternalUse estimates the energy a prosumer keeps for itself this
// round: self-consumption plus the planned battery charge from surplus,
// bounded by charge rate and remaining battery headroom.
func (c *CapacityEnforcer) prosumerInternalUse(hh model.HouseholdState) float64 {
	selfUse := hh.ProdKWh
	if hh.DemandKWh < selfUse {
		selfUse = hh.DemandKWh
	}

	surplus := hh.ProdKWh - hh.DemandKWh
	if surplus < 0 {
		surplus = 0
	}

	headroom := c.batteryCap - hh.BatteryKWh
	if headroom < 0 {
		headroom = 0
	}

	charge := surplus
	if c.chargeRate < charge {
		charge = c.chargeRate
	}
	if headroom < charge {
		charge = headroom
	}

	return selfUse + charge
}
