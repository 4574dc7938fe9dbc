package agents

import (
	"context"
	"log"
	"math/rand"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/model"
)

// Storage SOC thresholds, as fractions of capacity.
const (
	storageReserve   = 0.20
	storageUrgentSOC = 0.10
	storageSellAbove = 0.95
	storageTargetSOC = 0.99
	storageChunkKWh  = 5.0
)

// Storage is the shared battery participant. An emergency-only unit sells
// exclusively while a producer failure is announced; otherwise it trades to
// keep itself topped up.
type Storage struct {
	id  model.ParticipantID
	bus *bus.Bus
	cfg config.Storage
	rng *rand.Rand

	socKWh float64
	soh    float64
	tempC  float64
}

func NewStorage(id model.ParticipantID, b *bus.Bus, cfg config.Storage, rng *rand.Rand) *Storage {
	return &Storage{
		id:     id,
		bus:    b,
		cfg:    cfg,
		rng:    rng,
		socKWh: cfg.InitialSOC * cfg.CapacityKWh,
		soh:    100.0,
		tempC:  20.0,
	}
}

// SOCKWh returns the current state of charge.
func (s *Storage) SOCKWh() float64 { return s.socKWh }

// Run registers and serves bus traffic until ctx is cancelled.
func (s *Storage) Run(ctx context.Context) error {
	inbox := s.bus.Register(string(s.id))
	defer s.bus.Unregister(string(s.id))

	s.send(bus.PerformativeInform, bus.TypeRegisterStorage, bus.RegisterStorageBody{
		JID:           string(s.id),
		CapacityKWh:   s.cfg.CapacityKWh,
		EmergencyOnly: s.cfg.EmergencyOnly,
		Timestamp:     unixNow(),
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbox:
			if !ok {
				return nil
			}
			s.handle(msg)
		}
	}
}

func (s *Storage) handle(msg bus.Message) {
	switch msg.Type {
	case bus.TypeEnvironmentUpdate:
		var env bus.EnvironmentUpdateBody
		if msg.DecodeBody(&env) != nil {
			return
		}
		s.onEnvironment(env)

	case bus.TypeCallForOffers:
		var cfp bus.CallForOffersBody
		if msg.DecodeBody(&cfp) != nil {
			return
		}
		s.onCFP(cfp)

	case bus.TypeControlCommand:
		var cmd bus.ControlCommandBody
		if msg.DecodeBody(&cmd) != nil {
			return
		}
		if cmd.Command == bus.CommandEnergyPurchased {
			s.charge(cmd.KW)
			log.Printf("%s: charged %.2f kWh from %s, SOC %.1f%%", s.id, cmd.KW, cmd.From, s.socPct())
		}

	case bus.TypeOfferAccept:
		var acc bus.OfferAcceptBody
		if msg.DecodeBody(&acc) != nil {
			return
		}
		s.discharge(acc.KW)
		log.Printf("%s: discharged %.2f kWh to %s, SOC %.1f%%", s.id, acc.KW, acc.Buyer, s.socPct())
	}
}

// onEnvironment drifts the health model slightly and reports telemetry.
func (s *Storage) onEnvironment(env bus.EnvironmentUpdateBody) {
	s.tempC = 0.9*s.tempC + 0.1*env.TemperatureC
	s.soh -= s.rng.Float64() * 0.001

	s.send(bus.PerformativeInform, bus.TypeStatusBattery, bus.StatusBatteryBody{
		JID:           string(s.id),
		SOCKWh:        s.socKWh,
		CapKWh:        s.cfg.CapacityKWh,
		TempC:         s.tempC,
		SOH:           s.soh,
		EmergencyOnly: s.cfg.EmergencyOnly,
		Timestamp:     unixNow(),
	})
}

// onCFP decides the round's role. Selling and buying are exclusive; an
// urgent low-charge request always wins.
func (s *Storage) onCFP(cfp bus.CallForOffersBody) {
	soc := s.socPct() / 100

	if soc < storageUrgentSOC {
		s.request(cfp.RoundID, s.cfg.CapacityKWh*storageTargetSOC-s.socKWh)
		return
	}

	if s.cfg.EmergencyOnly {
		if cfp.ProducersFailed {
			s.offer(cfp.RoundID, true)
			return
		}
		if soc < storageTargetSOC {
			s.request(cfp.RoundID, s.cfg.CapacityKWh*storageTargetSOC-s.socKWh)
		}
		return
	}

	if soc >= storageSellAbove {
		s.offer(cfp.RoundID, false)
		return
	}
	s.request(cfp.RoundID, s.cfg.CapacityKWh*storageSellAbove-s.socKWh)
}

func (s *Storage) offer(round int64, emergency bool) {
	sellable := s.socKWh - storageReserve*s.cfg.CapacityKWh
	if sellable <= 0.01 {
		return
	}
	price := s.cfg.AskPrice
	if emergency {
		price = s.cfg.MaxPrice
	}
	s.send(bus.PerformativePropose, bus.TypeEnergyOffer, bus.EnergyOfferBody{
		RoundID:   round,
		OfferKWh:  sellable,
		Price:     price,
		Emergency: emergency,
	})
}

func (s *Storage) request(round int64, needKWh float64) {
	if needKWh > storageChunkKWh {
		needKWh = storageChunkKWh
	}
	if needKWh <= 0.01 {
		return
	}
	s.send(bus.PerformativeRequest, bus.TypeEnergyRequest, bus.EnergyRequestBody{
		RoundID:  round,
		NeedKWh:  needKWh,
		PriceMax: s.cfg.MaxPrice,
	})
}

func (s *Storage) charge(kwh float64) {
	s.socKWh += kwh
	if s.socKWh > s.cfg.CapacityKWh {
		s.socKWh = s.cfg.CapacityKWh
	}
}

func (s *Storage) discharge(kwh float64) {
	s.socKWh -= kwh
	if s.socKWh < 0 {
		s.socKWh = 0
	}
}

func (s *Storage) socPct() float64 {
	return s.socKWh / s.cfg.CapacityKWh * 100
}

func (s *Storage) send(performative, msgType string, body any) {
	if err := s.bus.SendJSON(performative, msgType, string(s.id), bus.CoordinatorAddr, body); err != nil {
		log.Printf("%s: send %s: %v", s.id, msgType, err)
	}
}
