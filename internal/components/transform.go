// Package components holds the networked components shipped with roost.
package components

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/roost/internal/core/geom"
	"github.com/dcrodman/roost/internal/replication"
	"github.com/dcrodman/roost/internal/rpc"
	"github.com/dcrodman/roost/internal/scene"
)

const (
	TransformKind      = "transform"
	SetTransformMethod = "set_transform"
)

// InterpolationTime is both the period of transform broadcasts and the time
// over which other peers blend towards a received transform.
const InterpolationTime = 100 * time.Millisecond

// NetworkedTransform replicates the position and rotation of its entity. The
// owning peer broadcasts them every InterpolationTime; everyone else blends
// linearly from the previous to the latest received transform.
type NetworkedTransform struct {
	scene.Base
	replication.NetComponent

	Logger logrus.FieldLogger

	previousPos, currentPos geom.Vec2
	previousRot, currentRot float64
	sinceUpdate             time.Duration
	hasTarget               bool
}

func (t *NetworkedTransform) Kind() string                    { return TransformKind }
func (t *NetworkedTransform) Net() *replication.NetComponent { return &t.NetComponent }

func (t *NetworkedTransform) Init() {
	if !t.hasTarget {
		t.previousPos, t.currentPos = t.Position(), t.Position()
		t.previousRot, t.currentRot = t.Rotation(), t.Rotation()
	}
	if t.IsOwner() {
		t.Schedule(t.broadcast, InterpolationTime)
	}
}

func (t *NetworkedTransform) broadcast() {
	if err := t.SetTransform(rpc.Local(), t.Position(), t.Rotation()); err != nil {
		t.logger().Warnf("error broadcasting transform of entity %d: %v", t.NetEntityID(), err)
	}
	t.Schedule(t.broadcast, InterpolationTime)
}

// SetTransform makes position and angle the new blending target on peers that
// do not own the entity.
func (t *NetworkedTransform) SetTransform(call *rpc.Call, position geom.Vec2, angle float64) error {
	if !t.IsOwner() {
		t.previousPos, t.currentPos = t.currentPos, position
		t.previousRot, t.currentRot = t.currentRot, angle
		t.sinceUpdate = 0
		t.hasTarget = true
	}
	return t.Invoke(call, SetTransformMethod, []any{position, angle}, nil)
}

func (t *NetworkedTransform) Update(dt time.Duration) {
	if t.IsOwner() {
		return
	}

	alpha := float64(t.sinceUpdate) / float64(InterpolationTime)
	if alpha > 1 {
		alpha = 1
	}
	t.SetRotation(geom.Lerp(t.previousRot, t.currentRot, alpha))
	t.SetPosition(t.previousPos.Lerp(t.currentPos, alpha))

	t.sinceUpdate += dt
}

func (t *NetworkedTransform) logger() logrus.FieldLogger {
	if t.Logger == nil {
		return logrus.StandardLogger()
	}
	return t.Logger
}

func setTransform(call *rpc.Call, t *NetworkedTransform, p *rpc.Params) error {
	var position geom.Vec2
	if err := p.Arg(0, &position); err != nil {
		return err
	}
	var angle float64
	if err := p.Arg(1, &angle); err != nil {
		return err
	}
	return t.SetTransform(call, position, angle)
}
