package agents

import (
	"context"
	"log"
	"math/rand"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/model"
)

// Producer is a renewable generation participant. It reports what the
// weather lets it produce; failure state is owned by the coordinator, so
// the producer always reports itself operational.
type Producer struct {
	id   model.ParticipantID
	bus  *bus.Bus
	cfg  config.Producers
	rng  *rand.Rand
	kind model.ProductionType

	prodKWh float64
	env     model.EnvironmentSnapshot
}

func NewProducer(id model.ParticipantID, b *bus.Bus, cfg config.Producers, rng *rand.Rand, kind model.ProductionType) *Producer {
	return &Producer{id: id, bus: b, cfg: cfg, rng: rng, kind: kind}
}

func (p *Producer) capacityKW() float64 {
	if p.kind == model.ProductionWind {
		return p.cfg.WindCapacityKW
	}
	return p.cfg.SolarCapacityKW
}

// Run registers and serves bus traffic until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	inbox := p.bus.Register(string(p.id))
	defer p.bus.Unregister(string(p.id))

	p.send(bus.PerformativeInform, bus.TypeRegisterProducer, bus.RegisterProducerBody{
		JID:            string(p.id),
		ProductionType: string(p.kind),
		MaxCapacityKWh: p.capacityKW(),
		Timestamp:      unixNow(),
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbox:
			if !ok {
				return nil
			}
			p.handle(msg)
		}
	}
}

func (p *Producer) handle(msg bus.Message) {
	switch msg.Type {
	case bus.TypeEnvironmentUpdate:
		var env bus.EnvironmentUpdateBody
		if msg.DecodeBody(&env) != nil {
			return
		}
		p.onEnvironment(env)

	case bus.TypeCallForOffers:
		var cfp bus.CallForOffersBody
		if msg.DecodeBody(&cfp) != nil {
			return
		}
		p.onCFP(cfp)

	case bus.TypeOfferAccept:
		var acc bus.OfferAcceptBody
		if msg.DecodeBody(&acc) != nil {
			return
		}
		p.prodKWh -= acc.KW
		if p.prodKWh < 0 {
			p.prodKWh = 0
		}
		log.Printf("%s: sold %.2f kWh to %s at €%.2f/kWh", p.id, acc.KW, acc.Buyer, acc.Price)
	}
}

// onEnvironment recomputes the hour's production and reports it.
func (p *Producer) onEnvironment(env bus.EnvironmentUpdateBody) {
	p.env = model.EnvironmentSnapshot{
		SolarIrradiance: env.SolarIrradiance,
		WindSpeed:       env.WindSpeed,
		TemperatureC:    env.TemperatureC,
		SimHour:         env.SimHour,
	}
	p.prodKWh = p.produce(env)

	p.send(bus.PerformativeInform, bus.TypeProductionReport, bus.ProductionReportBody{
		JID:             string(p.id),
		ProdKWh:         p.prodKWh,
		Type:            string(p.kind),
		IsOperational:   true,
		SolarIrradiance: env.SolarIrradiance,
		WindSpeed:       env.WindSpeed,
		TemperatureC:    env.TemperatureC,
		Timestamp:       unixNow(),
	})
}

// produce converts weather into one hour of generation with multiplicative
// noise.
func (p *Producer) produce(env bus.EnvironmentUpdateBody) float64 {
	noise := p.cfg.ProductionNoise.Draw(p.rng)
	switch p.kind {
	case model.ProductionWind:
		// Cut-in at 3 m/s, rated at 12 m/s.
		if env.WindSpeed <= 3.0 {
			return 0
		}
		fraction := clamp((env.WindSpeed-3.0)/9.0, 0, 1)
		return p.cfg.WindCapacityKW * p.cfg.WindCapacityFactor * fraction * noise
	default:
		return p.cfg.SolarCapacityKW * p.cfg.SolarEfficiency * env.SolarIrradiance * noise
	}
}

// onCFP offers the hour's production, or declines with the configured
// non-response probability.
func (p *Producer) onCFP(cfp bus.CallForOffersBody) {
	if p.prodKWh <= 0.01 {
		return
	}
	if p.rng.Float64() >= p.cfg.ResponseProbability {
		p.send(bus.PerformativeRefuse, bus.TypeDeclinedOffer, bus.DeclinedOfferBody{
			RoundID: cfp.RoundID,
			Reason:  "not participating this round",
		})
		return
	}
	p.send(bus.PerformativePropose, bus.TypeEnergyOffer, bus.EnergyOfferBody{
		RoundID:  cfp.RoundID,
		OfferKWh: p.prodKWh,
		Price:    jitterPrice(p.cfg.AskPrice, p.rng),
	})
}

func (p *Producer) send(performative, msgType string, body any) {
	if err := p.bus.SendJSON(performative, msgType, string(p.id), bus.CoordinatorAddr, body); err != nil {
		log.Printf("%s: send %s: %v", p.id, msgType, err)
	}
}
