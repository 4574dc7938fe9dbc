package coordinator

import (
	"log"
	"time"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/model"
)

// inbound is the tagged variant a wire message decodes into. The receiver
// dispatches on the concrete type, so adding a message kind without
// handling it fails loudly in the default branch.
type inbound interface{ isInbound() }

type (
	registerHousehold struct {
		from model.ParticipantID
		body bus.RegisterHouseholdBody
	}
	registerProducer struct {
		from model.ParticipantID
		body bus.RegisterProducerBody
	}
	registerStorage struct {
		from model.ParticipantID
		body bus.RegisterStorageBody
	}
	statusReport struct {
		from model.ParticipantID
		body bus.StatusReportBody
	}
	productionReport struct {
		from model.ParticipantID
		body bus.ProductionReportBody
	}
	statusBattery struct {
		from model.ParticipantID
		body bus.StatusBatteryBody
	}
	energyRequest struct {
		from model.ParticipantID
		body bus.EnergyRequestBody
	}
	energyOffer struct {
		from model.ParticipantID
		body bus.EnergyOfferBody
		at   time.Time
	}
	declinedOffer struct {
		from model.ParticipantID
		body bus.DeclinedOfferBody
	}
	environmentUpdate struct {
		body bus.EnvironmentUpdateBody
	}
)

func (registerHousehold) isInbound() {}
func (registerProducer) isInbound()  {}
func (registerStorage) isInbound()   {}
func (statusReport) isInbound()      {}
func (productionReport) isInbound()  {}
func (statusBattery) isInbound()     {}
func (energyRequest) isInbound()     {}
func (energyOffer) isInbound()       {}
func (declinedOffer) isInbound()     {}
func (environmentUpdate) isInbound() {}

// classify maps a wire message to its typed envelope. Unparsable bodies and
// unknown types return nil; the caller drops them.
func classify(msg bus.Message) inbound {
	from := model.ParticipantID(msg.From)
	switch msg.Type {
	case bus.TypeRegisterHousehold:
		var b bus.RegisterHouseholdBody
		if msg.DecodeBody(&b) != nil {
			return nil
		}
		return registerHousehold{from: from, body: b}
	case bus.TypeRegisterProducer:
		var b bus.RegisterProducerBody
		if msg.DecodeBody(&b) != nil {
			return nil
		}
		return registerProducer{from: from, body: b}
	case bus.TypeRegisterStorage:
		var b bus.RegisterStorageBody
		if msg.DecodeBody(&b) != nil {
			return nil
		}
		return registerStorage{from: from, body: b}
	case bus.TypeStatusReport:
		var b bus.StatusReportBody
		if msg.DecodeBody(&b) != nil {
			return nil
		}
		return statusReport{from: from, body: b}
	case bus.TypeProductionReport:
		var b bus.ProductionReportBody
		if msg.DecodeBody(&b) != nil {
			return nil
		}
		return productionReport{from: from, body: b}
	case bus.TypeStatusBattery:
		var b bus.StatusBatteryBody
		if msg.DecodeBody(&b) != nil {
			return nil
		}
		return statusBattery{from: from, body: b}
	case bus.TypeEnergyRequest:
		var b bus.EnergyRequestBody
		if msg.DecodeBody(&b) != nil {
			return nil
		}
		return energyRequest{from: from, body: b}
	case bus.TypeEnergyOffer:
		var b bus.EnergyOfferBody
		if msg.DecodeBody(&b) != nil {
			return nil
		}
		return energyOffer{from: from, body: b, at: msg.SentAt}
	case bus.TypeDeclinedOffer:
		var b bus.DeclinedOfferBody
		if msg.DecodeBody(&b) != nil {
			return nil
		}
		return declinedOffer{from: from, body: b}
	case bus.TypeEnvironmentUpdate:
		var b bus.EnvironmentUpdateBody
		if msg.DecodeBody(&b) != nil {
			return nil
		}
		return environmentUpdate{body: b}
	default:
		return nil
	}
}

// handleMessage applies one inbound message to the coordinator state. Runs
// only on the coordinator goroutine.
func (c *Coordinator) handleMessage(msg bus.Message) {
	in := classify(msg)
	if in == nil {
		log.Printf("coordinator: dropping unusable %s message from %s", msg.Type, msg.From)
		return
	}

	switch m := in.(type) {
	case registerHousehold:
		if c.registry.Add(m.from, CategoryHousehold) {
			c.events.LogEvent("register", m.from, 0, 0, c.roundID)
		}

	case registerProducer:
		if c.registry.Add(m.from, CategoryProducer) {
			c.states.SetProducerCapacity(m.from, m.body.MaxCapacityKWh, model.ProductionType(m.body.ProductionType))
			c.events.LogEvent("register", m.from, 0, 0, c.roundID)
		}

	case registerStorage:
		if c.registry.Add(m.from, CategoryStorage) {
			c.events.LogEvent("register", m.from, 0, 0, c.roundID)
		}

	case statusReport:
		env := model.EnvironmentSnapshot{
			SolarIrradiance: m.body.SolarIrradiance,
			WindSpeed:       m.body.WindSpeed,
			TemperatureC:    m.body.TemperatureC,
			SimHour:         c.clock.SimTime().Hour,
		}
		c.states.SetHousehold(m.from, model.HouseholdState{
			IsProsumer:  m.body.IsProsumer,
			DemandKWh:   m.body.DemandKWh,
			ProdKWh:     m.body.ProdKWh,
			BatteryKWh:  m.body.BatteryKWh,
			PanelAreaM2: m.body.PanelAreaM2,
			Env:         env,
			ReportedAt:  msg.SentAt,
		})
		c.markSeen(m.from)
		c.events.LogEvent("status", m.from, m.body.DemandKWh, 0, c.roundID)

	case productionReport:
		if c.states.MergeProduction(m.from, m.body) {
			c.recovered = append(c.recovered, m.from)
		}
		c.states.MergeAmbient(m.body.SolarIrradiance, m.body.WindSpeed, m.body.TemperatureC)
		c.markSeen(m.from)
		c.events.LogEvent("production", m.from, m.body.ProdKWh, 0, c.roundID)

	case statusBattery:
		c.states.SetStorage(m.from, model.StorageState{
			SOCKWh:        m.body.SOCKWh,
			CapKWh:        m.body.CapKWh,
			EmergencyOnly: m.body.EmergencyOnly,
			SOH:           m.body.SOH,
			TempC:         m.body.TempC,
			ReportedAt:    msg.SentAt,
		})
		c.markSeen(m.from)
		c.events.LogEvent("battery_status", m.from, m.body.SOCKWh, 0, c.roundID)

	case energyRequest:
		if model.RoundID(m.body.RoundID) != c.roundID || c.ledger == nil {
			return
		}
		c.ledger.AddRequest(model.Request{
			Round:    c.roundID,
			Buyer:    m.from,
			NeedKWh:  m.body.NeedKWh,
			PriceMax: m.body.PriceMax,
		})
		c.events.LogEvent("request", m.from, m.body.NeedKWh, m.body.PriceMax, c.roundID)

	case energyOffer:
		c.handleOffer(m)

	case declinedOffer:
		if model.RoundID(m.body.RoundID) != c.roundID || c.ledger == nil {
			return
		}
		c.ledger.Declined[m.from] = struct{}{}
		c.events.LogEvent("declined", m.from, 0, 0, c.roundID)

	case environmentUpdate:
		c.states.SetAmbient(model.EnvironmentSnapshot{
			SolarIrradiance: m.body.SolarIrradiance,
			WindSpeed:       m.body.WindSpeed,
			TemperatureC:    m.body.TemperatureC,
			SimHour:         m.body.SimHour,
		})
	}
}

// handleOffer accepts an offer only for the current round, before the
// deadline, and from an operational seller. Everything else is a late
// event that must never be matched.
func (c *Coordinator) handleOffer(m energyOffer) {
	if st, ok := c.states.Producer(m.from); ok && !st.IsOperational {
		return
	}

	rid := model.RoundID(m.body.RoundID)
	now := c.now()
	if rid == c.roundID && c.ledger != nil && !c.roundDeadline.IsZero() && !now.After(c.roundDeadline) {
		c.ledger.AddOffer(model.Offer{
			Round:    rid,
			Seller:   m.from,
			OfferKWh: m.body.OfferKWh,
			Price:    m.body.Price,
			SentAt:   m.at,
		})
		c.events.LogEvent("offer", m.from, m.body.OfferKWh, m.body.Price, rid)
		return
	}
	c.events.LogEvent("late", m.from, m.body.OfferKWh, m.body.Price, rid)
}

func (c *Coordinator) markSeen(id model.ParticipantID) {
	if c.roundID != 0 {
		c.registry.MarkSeen(c.roundID, id)
	}
}
