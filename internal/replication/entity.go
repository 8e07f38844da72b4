package replication

import "github.com/dcrodman/roost/internal/core/geom"

// Entity is the handle replication needs on a game object. Implementations
// must be comparable (normally a pointer) since they are used as map keys.
type Entity interface {
	Position() geom.Vec2
	SetPosition(geom.Vec2)
	Rotation() float64
	SetRotation(float64)
	ComponentByID(id uint8) (Component, bool)
	NetworkedComponents() []Networked
}

type Component interface {
	ComponentID() uint8
}

// Networked is a component whose methods can be called remotely.
type Networked interface {
	Component
	Net() *NetComponent
	// Kind names the component type in the RPC table.
	Kind() string
}

// World owns the lifetime of entities.
type World interface {
	Destroy(Entity)
}

// PrefabFactory builds a fresh entity inside the world.
type PrefabFactory func() Entity
