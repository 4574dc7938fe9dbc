package agents

import (
	"context"
	"log"
	"math"
	"math/rand"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/model"
)

// Environment serves weather snapshots on demand. The coordinator requests
// an update when the simulated hour changes; the snapshot is broadcast to
// every recipient so all agents see the same conditions.
type Environment struct {
	bus        *bus.Bus
	cfg        config.Environment
	rng        *rand.Rand
	recipients []string
}

func NewEnvironment(b *bus.Bus, cfg config.Environment, rng *rand.Rand, recipients []string) *Environment {
	return &Environment{bus: b, cfg: cfg, rng: rng, recipients: recipients}
}

// Run serves update requests until ctx is cancelled.
func (e *Environment) Run(ctx context.Context) error {
	inbox := e.bus.Register(bus.EnvironmentAddr)
	defer e.bus.Unregister(bus.EnvironmentAddr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbox:
			if !ok {
				return nil
			}
			if msg.Type != bus.TypeRequestEnvironmentUpdate {
				continue
			}
			var req bus.RequestEnvironmentUpdateBody
			if err := msg.DecodeBody(&req); err != nil {
				log.Printf("environment: bad request from %s: %v", msg.From, err)
				continue
			}
			e.broadcast(e.Snapshot(req.SimHour))
		}
	}
}

// Snapshot computes the weather for the given simulated hour.
func (e *Environment) Snapshot(hour int) model.EnvironmentSnapshot {
	return model.EnvironmentSnapshot{
		SolarIrradiance: e.irradiance(hour),
		WindSpeed:       e.windSpeed(),
		TemperatureC:    e.temperature(hour),
		SimHour:         hour,
	}
}

// irradiance follows a parabola peaking at noon, zero outside 06:00-18:00,
// with a small noise term.
func (e *Environment) irradiance(hour int) float64 {
	if hour < 6 || hour > 18 {
		return 0
	}
	base := 1 - math.Pow(float64(hour-12)/6, 2)
	noisy := base + (e.rng.Float64()-0.5)*0.1
	return clamp(noisy, 0, 1)
}

func (e *Environment) windSpeed() float64 {
	w := e.cfg.BaseWindSpeed + e.cfg.WindNoiseRange.Draw(e.rng)
	if w < 0 {
		return 0
	}
	return w
}

// temperature follows a daily cosine with its peak at 14:00.
func (e *Environment) temperature(hour int) float64 {
	return e.cfg.BaseTemperature - e.cfg.TempVariation*math.Cos(float64(hour-14)*math.Pi/12)
}

func (e *Environment) broadcast(env model.EnvironmentSnapshot) {
	body := bus.EnvironmentUpdateBody{
		SolarIrradiance: env.SolarIrradiance,
		WindSpeed:       env.WindSpeed,
		TemperatureC:    env.TemperatureC,
		SimHour:         env.SimHour,
	}
	for _, addr := range e.recipients {
		if err := e.bus.SendJSON(bus.PerformativeInform, bus.TypeEnvironmentUpdate, bus.EnvironmentAddr, addr, body); err != nil {
			log.Printf("environment: broadcast to %s: %v", addr, err)
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
