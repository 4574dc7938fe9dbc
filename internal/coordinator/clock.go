package coordinator

import "microgrid_simulator/internal/model"

// RoundClock assigns monotonically increasing round identifiers and tracks
// the simulated calendar. Rounds advance one simulated hour each.
type RoundClock struct {
	next model.RoundID
	sim  model.SimulatedTime
}

// The simulation starts in the morning of day one.
const startHour = 7

func NewRoundClock() *RoundClock {
	return &RoundClock{
		next: 1,
		sim:  model.SimulatedTime{Day: 1, Hour: startHour},
	}
}

// NextRound returns the identifier for the round about to start.
func (c *RoundClock) NextRound() model.RoundID {
	r := c.next
	c.next++
	return r
}

// Current returns the id of the most recently started round, or zero before
// the first round.
func (c *RoundClock) Current() model.RoundID {
	return c.next - 1
}

// RoundCounter returns the 1-based ordinal of the most recently started
// round.
func (c *RoundClock) RoundCounter() int {
	return int(c.next - 1)
}

// SimTime returns the current simulated day and hour.
func (c *RoundClock) SimTime() model.SimulatedTime {
	return c.sim
}

// Advance moves the simulated time one hour forward.
func (c *RoundClock) Advance() {
	c.sim = c.sim.Advance()
}
