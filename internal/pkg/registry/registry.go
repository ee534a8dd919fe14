// Package registry tracks the live simulation entities the protocol can
// target. Lookups are by ID and never imply ownership: the simulation
// registers and deregisters entities, the protocol only resolves them.
package registry

import "fathom/internal/pkg/sequence"

// EntityID identifies an entity on the wire. Zero is the null entity.
type EntityID uint16

// NullEntity marks event slots whose target no longer exists.
const NullEntity EntityID = 0

// Entity is the minimal surface the protocol needs from simulation objects.
type Entity interface {
	EntityID() EntityID
}

// EventApplier is implemented by entities that accept replicated events.
type EventApplier interface {
	Entity
	// ApplyEvent applies a decoded event payload. The id is the stream
	// position, exposed so simulations can log or journal applications.
	ApplyEvent(kind byte, payload []byte, id sequence.ID) error
}

// PositionApplier is implemented by entities replicating continuous state.
type PositionApplier interface {
	Entity
	ApplyPosition(payload []byte)
}

// Registry is an id → entity lookup table.
type Registry struct {
	entities map[EntityID]Entity
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entities: make(map[EntityID]Entity)}
}

// Register adds or replaces the entity under its own ID.
func (r *Registry) Register(e Entity) {
	if e.EntityID() == NullEntity {
		return
	}
	r.entities[e.EntityID()] = e
}

// Deregister removes the entity with the given ID.
func (r *Registry) Deregister(id EntityID) {
	delete(r.entities, id)
}

// Find resolves an ID to a live entity.
func (r *Registry) Find(id EntityID) (Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// Len returns the number of registered entities.
func (r *Registry) Len() int { return len(r.entities) }
