package coordinator

import (
	"microgrid_simulator/internal/model"
)

// Category is a participant's registration kind.
type Category string

const (
	CategoryHousehold Category = "household"
	CategoryProducer  Category = "producer"
	CategoryStorage   Category = "storage"
)

// Registry tracks known participant identities per category, in
// registration order, plus the per-round set of participants whose status
// has been seen. It is owned by the coordinator goroutine.
type Registry struct {
	households []model.ParticipantID
	producers  []model.ParticipantID
	storage    []model.ParticipantID
	category   map[model.ParticipantID]Category

	statusSeen map[model.RoundID]map[model.ParticipantID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		category:   make(map[model.ParticipantID]Category),
		statusSeen: make(map[model.RoundID]map[model.ParticipantID]struct{}),
	}
}

// Add registers id under cat. Re-registration is a no-op.
func (r *Registry) Add(id model.ParticipantID, cat Category) bool {
	if _, known := r.category[id]; known {
		return false
	}
	r.category[id] = cat
	switch cat {
	case CategoryHousehold:
		r.households = append(r.households, id)
	case CategoryProducer:
		r.producers = append(r.producers, id)
	case CategoryStorage:
		r.storage = append(r.storage, id)
	}
	return true
}

// CategoryOf returns the registration category of id.
func (r *Registry) CategoryOf(id model.ParticipantID) (Category, bool) {
	c, ok := r.category[id]
	return c, ok
}

// Households returns household ids in registration order.
func (r *Registry) Households() []model.ParticipantID { return r.households }

// Producers returns producer ids in registration order.
func (r *Registry) Producers() []model.ParticipantID { return r.producers }

// Storage returns storage ids in registration order.
func (r *Registry) Storage() []model.ParticipantID { return r.storage }

// Counts returns the number of registered participants per category.
func (r *Registry) Counts() (households, producers, storage int) {
	return len(r.households), len(r.producers), len(r.storage)
}

// Total returns the number of registered participants.
func (r *Registry) Total() int {
	return len(r.category)
}

// MarkSeen records that id reported status during round.
func (r *Registry) MarkSeen(round model.RoundID, id model.ParticipantID) {
	seen, ok := r.statusSeen[round]
	if !ok {
		seen = make(map[model.ParticipantID]struct{})
		r.statusSeen[round] = seen
	}
	seen[id] = struct{}{}
}

// SeenCount returns how many participants reported during round.
func (r *Registry) SeenCount(round model.RoundID) int {
	return len(r.statusSeen[round])
}

// AllSeen reports whether every registered participant has reported during
// round. False when nothing is registered.
func (r *Registry) AllSeen(round model.RoundID) bool {
	if r.Total() == 0 {
		return false
	}
	seen := r.statusSeen[round]
	for id := range r.category {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}

// ReleaseRound drops the status-seen set of a finished round.
func (r *Registry) ReleaseRound(round model.RoundID) {
	delete(r.statusSeen, round)
}
