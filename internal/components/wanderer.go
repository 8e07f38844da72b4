package components

import (
	"math"
	"time"

	"github.com/dcrodman/roost/internal/core/geom"
	"github.com/dcrodman/roost/internal/scene"
)

// Wanderer walks its entity around a circle. It only moves entities whose
// transform this peer owns; the transform carries the motion to the others.
type Wanderer struct {
	scene.Base

	Transform *NetworkedTransform
	// Radians per second.
	Speed  float64
	Radius float64

	center geom.Vec2
	angle  float64
}

func (w *Wanderer) Init() {
	w.center = w.Position().Sub(geom.V(w.Radius, 0))
}

func (w *Wanderer) Update(dt time.Duration) {
	if w.Transform == nil || !w.Transform.IsOwner() {
		return
	}
	w.angle += w.Speed * dt.Seconds()
	w.SetPosition(w.center.Add(geom.V(math.Cos(w.angle), math.Sin(w.angle)).Scale(w.Radius)))
	w.SetRotation(math.Mod(w.angle*180/math.Pi+90, 360))
}
