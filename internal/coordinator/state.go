package coordinator

import (
	"log"

	"microgrid_simulator/internal/bus"
	"microgrid_simulator/internal/model"
)

// StateStore holds the last-known telemetry per participant. It is owned by
// the coordinator goroutine; participants never touch it directly.
type StateStore struct {
	households     map[model.ParticipantID]*model.HouseholdState
	householdOrder []model.ParticipantID

	producers     map[model.ParticipantID]*model.ProducerState
	producerOrder []model.ParticipantID

	storage      map[model.ParticipantID]*model.StorageState
	storageOrder []model.ParticipantID

	ambient model.EnvironmentSnapshot
}

func NewStateStore() *StateStore {
	return &StateStore{
		households: make(map[model.ParticipantID]*model.HouseholdState),
		producers:  make(map[model.ParticipantID]*model.ProducerState),
		storage:    make(map[model.ParticipantID]*model.StorageState),
	}
}

// SetHousehold overwrites the household state for id.
func (s *StateStore) SetHousehold(id model.ParticipantID, st model.HouseholdState) {
	if _, ok := s.households[id]; !ok {
		s.householdOrder = append(s.householdOrder, id)
	}
	s.households[id] = &st
	s.ambient = st.Env
}

// SetStorage overwrites the storage state for id.
func (s *StateStore) SetStorage(id model.ParticipantID, st model.StorageState) {
	if _, ok := s.storage[id]; !ok {
		s.storageOrder = append(s.storageOrder, id)
	}
	s.storage[id] = &st
}

// MergeProduction applies an incoming production report under the
// coordinator-owned failure state. For a producer the coordinator marked
// offline, each report decrements the remaining failure rounds; the
// producer recovers when the counter reaches zero, and until then its
// reported production is forced to zero.
func (s *StateStore) MergeProduction(id model.ParticipantID, report bus.ProductionReportBody) (recovered bool) {
	existing, known := s.producers[id]
	if !known {
		s.producerOrder = append(s.producerOrder, id)
	}

	st := &model.ProducerState{
		Type:                   model.ProductionType(report.Type),
		ProdKWh:                report.ProdKWh,
		IsOperational:          report.IsOperational,
		FailureRoundsRemaining: report.FailureRoundsRemaining,
		FailureRoundsTotal:     report.FailureRoundsTotal,
	}
	if known {
		st.MaxCapacityKWh = existing.MaxCapacityKWh
	}

	if known && !existing.IsOperational {
		remaining := existing.FailureRoundsRemaining
		if remaining > 0 {
			remaining--
			existing.FailureRoundsRemaining = remaining

			if remaining == 0 {
				existing.IsOperational = true
				st.IsOperational = true
				st.FailureRoundsRemaining = 0
				st.FailureRoundsTotal = existing.FailureRoundsTotal
				recovered = true
				log.Printf("%s recovered after failure", id)
			} else {
				st.IsOperational = false
				st.FailureRoundsRemaining = remaining
				st.FailureRoundsTotal = existing.FailureRoundsTotal
				st.ProdKWh = 0
			}
		} else {
			existing.IsOperational = true
			st.IsOperational = true
		}
	}

	s.producers[id] = st
	return recovered
}

// SetProducerCapacity records the registered maximum capacity for id
// without disturbing telemetry.
func (s *StateStore) SetProducerCapacity(id model.ParticipantID, capKWh float64, typ model.ProductionType) {
	st, ok := s.producers[id]
	if !ok {
		s.producerOrder = append(s.producerOrder, id)
		st = &model.ProducerState{IsOperational: true, Type: typ}
		s.producers[id] = st
	}
	st.MaxCapacityKWh = capKWh
}

// Household returns the state for id, if reported.
func (s *StateStore) Household(id model.ParticipantID) (model.HouseholdState, bool) {
	st, ok := s.households[id]
	if !ok {
		return model.HouseholdState{}, false
	}
	return *st, true
}

// Producer returns the state for id, if reported.
func (s *StateStore) Producer(id model.ParticipantID) (model.ProducerState, bool) {
	st, ok := s.producers[id]
	if !ok {
		return model.ProducerState{}, false
	}
	return *st, true
}

// Storage returns the state for id, if reported.
func (s *StateStore) Storage(id model.ParticipantID) (model.StorageState, bool) {
	st, ok := s.storage[id]
	if !ok {
		return model.StorageState{}, false
	}
	return *st, true
}

// MarkProducerFailed flips a producer offline for the given number of
// rounds and zeroes its production. Called only by the failure controller.
func (s *StateStore) MarkProducerFailed(id model.ParticipantID, rounds int) {
	st, ok := s.producers[id]
	if !ok {
		return
	}
	st.IsOperational = false
	st.FailureRoundsRemaining = rounds
	st.FailureRoundsTotal = rounds
	st.ProdKWh = 0
}

// AnyProducerFailed derives the failure flag over all producers. It is
// never stored; callers recompute it after every mutation that can change
// it.
func (s *StateStore) AnyProducerFailed() bool {
	for _, st := range s.producers {
		if !st.IsOperational {
			return true
		}
	}
	return false
}

// ForEachHousehold visits households in first-report order.
func (s *StateStore) ForEachHousehold(fn func(model.ParticipantID, model.HouseholdState)) {
	for _, id := range s.householdOrder {
		fn(id, *s.households[id])
	}
}

// ForEachProducer visits producers in first-report order.
func (s *StateStore) ForEachProducer(fn func(model.ParticipantID, model.ProducerState)) {
	for _, id := range s.producerOrder {
		fn(id, *s.producers[id])
	}
}

// ForEachStorage visits storage units in first-report order.
func (s *StateStore) ForEachStorage(fn func(model.ParticipantID, model.StorageState)) {
	for _, id := range s.storageOrder {
		fn(id, *s.storage[id])
	}
}

// Ambient returns the latest weather snapshot seen in any status report.
func (s *StateStore) Ambient() model.EnvironmentSnapshot {
	return s.ambient
}

// SetAmbient stores a weather snapshot received outside status reports.
func (s *StateStore) SetAmbient(env model.EnvironmentSnapshot) {
	s.ambient = env
}

// MergeAmbient folds the weather carried on a production report into the
// ambient snapshot, keeping the simulated hour.
func (s *StateStore) MergeAmbient(irradiance, windSpeed, tempC float64) {
	s.ambient.SolarIrradiance = irradiance
	s.ambient.WindSpeed = windSpeed
	s.ambient.TemperatureC = tempC
}

// OfflineProducers returns the producers currently marked offline, in
// first-report order.
func (s *StateStore) OfflineProducers() []model.ParticipantID {
	var out []model.ParticipantID
	for _, id := range s.producerOrder {
		if !s.producers[id].IsOperational {
			out = append(out, id)
		}
	}
	return out
}
