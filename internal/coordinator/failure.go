package coordinator

import (
	"log"
	"math/rand"

	"microgrid_simulator/internal/eventlog"
	"microgrid_simulator/internal/model"
)

// FailureController decides when a producer goes offline. Recovery is not
// handled here: the production-report merge in the state store decrements
// the counter and flips the producer back online.
type FailureController struct {
	probability float64
	minRounds   int
	maxRounds   int
	rng         *rand.Rand
	events      eventlog.Sink
}

func NewFailureController(probability float64, minRounds, maxRounds int, rng *rand.Rand, events eventlog.Sink) *FailureController {
	return &FailureController{
		probability: probability,
		minRounds:   minRounds,
		maxRounds:   maxRounds,
		rng:         rng,
		events:      events,
	}
}

// Step runs the per-round failure check. A new failure is injected only
// when some storage unit is effectively full (the backup can cover the
// deficit) and no producer is already offline. Producers are tried in
// first-report order; the first probability hit fails and the sweep stops.
func (f *FailureController) Step(states *StateStore, round model.RoundID) (model.ParticipantID, bool) {
	storageFull := false
	states.ForEachStorage(func(_ model.ParticipantID, st model.StorageState) {
		if st.SOCKWh >= st.CapKWh*0.99 {
			storageFull = true
		}
	})
	if !storageFull {
		return "", false
	}

	if states.AnyProducerFailed() {
		return "", false
	}

	var failed model.ParticipantID
	states.ForEachProducer(func(id model.ParticipantID, st model.ProducerState) {
		if failed != "" || !st.IsOperational {
			return
		}
		if f.rng.Float64() < f.probability {
			duration := f.minRounds
			if f.maxRounds > f.minRounds {
				duration += f.rng.Intn(f.maxRounds - f.minRounds + 1)
			}
			states.MarkProducerFailed(id, duration)
			failed = id
			log.Printf("SYSTEM ALERT: %s failed, offline for %d rounds; storage covers the deficit", id, duration)
			f.events.LogEvent("failure", id, 0, 0, round)
		}
	})

	return failed, failed != ""
}
