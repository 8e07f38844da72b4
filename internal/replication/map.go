package replication

import (
	"sort"

	"github.com/dcrodman/roost/internal/core/geom"
)

// NetworkedEntity is the replication record of one entity.
type NetworkedEntity struct {
	Prefab string
	ID     NetworkEntityID
	Owner  ConnectionID
	Entity Entity
}

// Map is the set of replicated entities known to a peer. It is only touched
// from the tick goroutine.
type Map struct {
	byID     map[NetworkEntityID]*NetworkedEntity
	byEntity map[Entity]NetworkEntityID
}

func NewMap() *Map {
	return &Map{
		byID:     make(map[NetworkEntityID]*NetworkedEntity),
		byEntity: make(map[Entity]NetworkEntityID),
	}
}

// Add records e and returns false if its id is already taken.
func (m *Map) Add(e *NetworkedEntity) bool {
	if _, ok := m.byID[e.ID]; ok {
		return false
	}
	m.byID[e.ID] = e
	m.byEntity[e.Entity] = e.ID
	return true
}

func (m *Map) Get(id NetworkEntityID) (*NetworkedEntity, bool) {
	e, ok := m.byID[id]
	return e, ok
}

func (m *Map) Find(entity Entity) (*NetworkedEntity, bool) {
	id, ok := m.byEntity[entity]
	if !ok {
		return nil, false
	}
	return m.byID[id], true
}

func (m *Map) Remove(id NetworkEntityID) (*NetworkedEntity, bool) {
	e, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	delete(m.byID, id)
	delete(m.byEntity, e.Entity)
	return e, true
}

func (m *Map) Len() int { return len(m.byID) }

// Sorted returns every record in ascending id order.
func (m *Map) Sorted() []*NetworkedEntity {
	return m.filter(func(*NetworkedEntity) bool { return true })
}

// OwnedBy returns the records owned by owner in ascending id order.
func (m *Map) OwnedBy(owner ConnectionID) []*NetworkedEntity {
	return m.filter(func(e *NetworkedEntity) bool { return e.Owner == owner })
}

func (m *Map) filter(keep func(*NetworkedEntity) bool) []*NetworkedEntity {
	out := make([]*NetworkedEntity, 0, len(m.byID))
	for _, e := range m.byID {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EntitySnapshot is a copy of a record's state safe to hand to other goroutines.
type EntitySnapshot struct {
	ID       NetworkEntityID `json:"id"`
	Prefab   string          `json:"prefab"`
	Owner    ConnectionID    `json:"owner"`
	Position geom.Vec2       `json:"position"`
	Rotation float64         `json:"rotation"`
}

// Snapshot copies the state of every record in ascending id order.
func (m *Map) Snapshot() []EntitySnapshot {
	records := m.Sorted()
	out := make([]EntitySnapshot, len(records))
	for i, e := range records {
		out[i] = EntitySnapshot{
			ID:       e.ID,
			Prefab:   e.Prefab,
			Owner:    e.Owner,
			Position: e.Entity.Position(),
			Rotation: e.Entity.Rotation(),
		}
	}
	return out
}
