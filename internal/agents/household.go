package agents

import (
	"context"
	"log"
	"math/rand"
	"time"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/model"
)

// Household is a consuming participant. Prosumers additionally generate
// from rooftop panels and buffer surplus in a home battery.
type Household struct {
	id  model.ParticipantID
	bus *bus.Bus
	cfg config.Households
	rng *rand.Rand

	isProsumer  bool
	panelAreaM2 float64

	// Latest environment and the state derived from it.
	env        model.EnvironmentSnapshot
	demandKWh  float64
	prodKWh    float64
	batteryKWh float64

	// Unmet deficit for the current round, reduced by purchases.
	deficitKWh float64
	// Unsold surplus for the current round, reduced by accepted offers.
	surplusKWh float64
}

func NewHousehold(id model.ParticipantID, b *bus.Bus, cfg config.Households, rng *rand.Rand, prosumer bool) *Household {
	h := &Household{
		id:         id,
		bus:        b,
		cfg:        cfg,
		rng:        rng,
		isProsumer: prosumer,
	}
	if prosumer {
		h.panelAreaM2 = cfg.PanelAreaRangeM2.Draw(rng)
	}
	return h
}

// Run registers and serves bus traffic until ctx is cancelled.
func (h *Household) Run(ctx context.Context) error {
	inbox := h.bus.Register(string(h.id))
	defer h.bus.Unregister(string(h.id))

	h.send(bus.PerformativeInform, bus.TypeRegisterHousehold, bus.RegisterHouseholdBody{
		JID:        string(h.id),
		IsProsumer: h.isProsumer,
		Timestamp:  unixNow(),
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbox:
			if !ok {
				return nil
			}
			h.handle(msg)
		}
	}
}

func (h *Household) handle(msg bus.Message) {
	switch msg.Type {
	case bus.TypeEnvironmentUpdate:
		var env bus.EnvironmentUpdateBody
		if msg.DecodeBody(&env) != nil {
			return
		}
		h.onEnvironment(env)

	case bus.TypeCallForOffers:
		var cfp bus.CallForOffersBody
		if msg.DecodeBody(&cfp) != nil {
			return
		}
		h.onCFP(cfp)

	case bus.TypeControlCommand:
		var cmd bus.ControlCommandBody
		if msg.DecodeBody(&cmd) != nil {
			return
		}
		if cmd.Command == bus.CommandEnergyPurchased {
			h.onPurchased(cmd)
		}

	case bus.TypeOfferAccept:
		var acc bus.OfferAcceptBody
		if msg.DecodeBody(&acc) != nil {
			return
		}
		h.onSold(acc)
	}
}

// onEnvironment recomputes the hour's demand and production, runs local
// battery policy, and reports status.
func (h *Household) onEnvironment(env bus.EnvironmentUpdateBody) {
	h.env = model.EnvironmentSnapshot{
		SolarIrradiance: env.SolarIrradiance,
		WindSpeed:       env.WindSpeed,
		TemperatureC:    env.TemperatureC,
		SimHour:         env.SimHour,
	}

	h.demandKWh = h.drawDemand(env.SimHour)
	h.prodKWh = 0
	if h.isProsumer {
		h.prodKWh = h.panelAreaM2 * h.cfg.IrradianceKWPerM2 * env.SolarIrradiance * h.cfg.PanelEfficiency
	}

	h.applyBatteryPolicy()

	h.send(bus.PerformativeInform, bus.TypeStatusReport, bus.StatusReportBody{
		JID:             string(h.id),
		IsProsumer:      h.isProsumer,
		DemandKWh:       h.demandKWh,
		ProdKWh:         h.prodKWh,
		BatteryKWh:      h.batteryKWh,
		PanelAreaM2:     h.panelAreaM2,
		SolarIrradiance: h.env.SolarIrradiance,
		WindSpeed:       h.env.WindSpeed,
		TemperatureC:    h.env.TemperatureC,
		Timestamp:       unixNow(),
	})
}

// applyBatteryPolicy charges from surplus and discharges into deficit,
// both limited by the configured rates and round-trip efficiency.
func (h *Household) applyBatteryPolicy() {
	h.deficitKWh = 0
	h.surplusKWh = 0
	if !h.isProsumer {
		h.deficitKWh = h.demandKWh
		return
	}

	if h.prodKWh >= h.demandKWh {
		surplus := h.prodKWh - h.demandKWh
		headroom := h.cfg.BatteryCapacityKWh - h.batteryKWh
		charge := min3(surplus, h.cfg.BatteryChargeRateKW, headroom)
		if charge > 0 {
			h.batteryKWh += charge * h.cfg.BatteryEfficiency
			surplus -= charge
		}
		h.surplusKWh = surplus
		return
	}

	deficit := h.demandKWh - h.prodKWh
	discharge := min3(deficit, h.cfg.BatteryDischargeKW, h.batteryKWh)
	if discharge > 0 {
		h.batteryKWh -= discharge
		deficit -= discharge * h.cfg.BatteryEfficiency
		if deficit < 0 {
			deficit = 0
		}
	}
	h.deficitKWh = deficit
}

// onCFP requests the round deficit or offers the round surplus.
func (h *Household) onCFP(cfp bus.CallForOffersBody) {
	if h.deficitKWh > 0.01 {
		h.send(bus.PerformativeRequest, bus.TypeEnergyRequest, bus.EnergyRequestBody{
			RoundID:  cfp.RoundID,
			NeedKWh:  h.deficitKWh,
			PriceMax: h.cfg.PriceMax,
		})
		return
	}
	if h.isProsumer && h.surplusKWh > 0.01 {
		h.send(bus.PerformativePropose, bus.TypeEnergyOffer, bus.EnergyOfferBody{
			RoundID:  cfp.RoundID,
			OfferKWh: h.surplusKWh,
			Price:    jitterPrice(h.cfg.AskPrice, h.rng),
		})
	}
}

func (h *Household) onPurchased(cmd bus.ControlCommandBody) {
	h.deficitKWh -= cmd.KW
	if h.deficitKWh < 0 {
		h.deficitKWh = 0
	}
	log.Printf("%s: bought %.2f kWh from %s at €%.2f/kWh", h.id, cmd.KW, cmd.From, cmd.Price)
}

func (h *Household) onSold(acc bus.OfferAcceptBody) {
	h.surplusKWh -= acc.KW
	if h.surplusKWh < 0 {
		h.surplusKWh = 0
	}
	log.Printf("%s: sold %.2f kWh to %s at €%.2f/kWh", h.id, acc.KW, acc.Buyer, acc.Price)
}

func (h *Household) drawDemand(hour int) float64 {
	var r config.FloatRange
	switch model.PeriodForHour(hour) {
	case model.PeriodNight:
		r = h.cfg.DemandRanges.Night
	case model.PeriodMorning:
		r = h.cfg.DemandRanges.Morning
	case model.PeriodEvening:
		r = h.cfg.DemandRanges.Evening
	default:
		r = h.cfg.DemandRanges.Afternoon
	}
	return r.Draw(h.rng)
}

func (h *Household) send(performative, msgType string, body any) {
	if err := h.bus.SendJSON(performative, msgType, string(h.id), bus.CoordinatorAddr, body); err != nil {
		log.Printf("%s: send %s: %v", h.id, msgType, err)
	}
}

// jitterPrice applies +-2 % noise to an ask price.
func jitterPrice(price float64, rng *rand.Rand) float64 {
	return price * (0.98 + rng.Float64()*0.04)
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
