// Package scene is a minimal entity/component container: entities with a
// transform and an ordered list of components, per-frame updates and
// callbacks scheduled on the world clock.
package scene

import (
	"sort"
	"time"

	"github.com/dcrodman/roost/internal/core/geom"
	"github.com/dcrodman/roost/internal/replication"
)

// Component is anything attached to an Entity. Components embed Base.
type Component interface {
	replication.Component
	base() *Base
}

// Initializer is implemented by components that need to run once before
// their first update.
type Initializer interface {
	Init()
}

// Updater is implemented by components that run every frame.
type Updater interface {
	Update(dt time.Duration)
}

// Destroyer is implemented by components that release something when their
// entity goes away.
type Destroyer interface {
	OnDestroy()
}

type scheduled struct {
	at       time.Duration
	seq      uint64
	entity   *Entity
	callback func()
}

type World struct {
	clock    time.Duration
	seq      uint64
	entities []*Entity
	pending  []scheduled
}

func NewWorld() *World {
	return &World{}
}

// Spawn creates an empty entity in the world.
func (w *World) Spawn() *Entity {
	e := &Entity{world: w, alive: true}
	w.entities = append(w.entities, e)
	return e
}

// Destroy removes e from the world. Destroying an entity twice is a no-op.
func (w *World) Destroy(entity replication.Entity) {
	e, ok := entity.(*Entity)
	if !ok || !e.alive {
		return
	}
	e.alive = false
	for _, c := range e.components {
		if d, ok := c.(Destroyer); ok {
			d.OnDestroy()
		}
	}
	for i, other := range w.entities {
		if other == e {
			w.entities = append(w.entities[:i], w.entities[i+1:]...)
			break
		}
	}
}

func (w *World) Entities() []*Entity {
	return append([]*Entity(nil), w.entities...)
}

// Now is the world clock, advanced by Update.
func (w *World) Now() time.Duration { return w.clock }

// Update advances the clock by dt, runs the callbacks that came due and then
// updates every component. Components are initialized before their first update.
func (w *World) Update(dt time.Duration) {
	w.clock += dt
	w.runDue()

	for _, e := range w.Entities() {
		if !e.alive {
			continue
		}
		if !e.started {
			e.started = true
			for _, c := range e.components {
				if i, ok := c.(Initializer); ok {
					i.Init()
				}
			}
		}
		for _, c := range e.components {
			if u, ok := c.(Updater); ok {
				u.Update(dt)
			}
		}
	}
}

func (w *World) schedule(e *Entity, callback func(), delay time.Duration) {
	w.seq++
	w.pending = append(w.pending, scheduled{at: w.clock + delay, seq: w.seq, entity: e, callback: callback})
}

func (w *World) runDue() {
	var due, later []scheduled
	for _, s := range w.pending {
		if s.at <= w.clock {
			due = append(due, s)
		} else {
			later = append(later, s)
		}
	}
	w.pending = later

	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	for _, s := range due {
		if s.entity.alive {
			s.callback()
		}
	}
}

// Entity is a transform with components.
type Entity struct {
	world      *World
	position   geom.Vec2
	rotation   float64
	components []Component
	alive      bool
	started    bool
}

// Add attaches c to the entity and gives it the next component id.
func (e *Entity) Add(c Component) {
	b := c.base()
	b.entity = e
	b.id = uint8(len(e.components))
	e.components = append(e.components, c)
}

func (e *Entity) World() *World           { return e.world }
func (e *Entity) Alive() bool             { return e.alive }
func (e *Entity) Position() geom.Vec2     { return e.position }
func (e *Entity) SetPosition(p geom.Vec2) { e.position = p }
func (e *Entity) Rotation() float64       { return e.rotation }
func (e *Entity) SetRotation(r float64)   { e.rotation = r }

func (e *Entity) Components() []Component {
	return append([]Component(nil), e.components...)
}

func (e *Entity) ComponentByID(id uint8) (replication.Component, bool) {
	if int(id) >= len(e.components) {
		return nil, false
	}
	return e.components[id], true
}

func (e *Entity) NetworkedComponents() []replication.Networked {
	var out []replication.Networked
	for _, c := range e.components {
		if n, ok := c.(replication.Networked); ok {
			out = append(out, n)
		}
	}
	return out
}

// Base carries the entity link and id of a component.
type Base struct {
	entity *Entity
	id     uint8
}

func (b *Base) base() *Base             { return b }
func (b *Base) ComponentID() uint8      { return b.id }
func (b *Base) Entity() *Entity         { return b.entity }
func (b *Base) Position() geom.Vec2     { return b.entity.position }
func (b *Base) SetPosition(p geom.Vec2) { b.entity.position = p }
func (b *Base) Rotation() float64       { return b.entity.rotation }
func (b *Base) SetRotation(r float64)   { b.entity.rotation = r }

// Schedule runs callback once, delay from now on the world clock, unless the
// entity has been destroyed by then.
func (b *Base) Schedule(callback func(), delay time.Duration) {
	b.entity.world.schedule(b.entity, callback, delay)
}
