package components

import (
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/roost/internal/replication"
	"github.com/dcrodman/roost/internal/rpc"
	"github.com/dcrodman/roost/internal/scene"
)

// Prefab names known to every peer.
const (
	PlayerPrefab = "player"
	BeaconPrefab = "beacon"
)

// Register adds the remote methods of every component in this package.
func Register(table *rpc.Table) error {
	return table.Register(TransformKind, SetTransformMethod, rpc.Everyone, rpc.Bind(setTransform))
}

// RegisterPrefabs adds the prefabs built from these components, spawning
// their entities into world.
func RegisterPrefabs(prefabs *replication.Prefabs, world *scene.World, logger logrus.FieldLogger) error {
	wanderer := func(speed, radius float64) replication.PrefabFactory {
		return func() replication.Entity {
			e := world.Spawn()
			transform := &NetworkedTransform{Logger: logger}
			e.Add(transform)
			e.Add(&Wanderer{Transform: transform, Speed: speed, Radius: radius})
			return e
		}
	}

	if err := prefabs.Register(PlayerPrefab, wanderer(1.5, 40)); err != nil {
		return err
	}
	return prefabs.Register(BeaconPrefab, wanderer(0.5, 120))
}
