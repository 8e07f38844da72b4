package components

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/roost/internal/core/geom"
	"github.com/dcrodman/roost/internal/replication"
	"github.com/dcrodman/roost/internal/rpc"
	"github.com/dcrodman/roost/internal/scene"
)

type sentCall struct {
	Method string
	Params string
}

type testHost struct {
	owns bool
	sent []sentCall
}

func (h *testHost) Owns(replication.ConnectionID) bool { return h.owns }

func (h *testHost) SendRPC(_ *replication.NetComponent, method string, params []byte) error {
	h.sent = append(h.sent, sentCall{Method: method, Params: string(params)})
	return nil
}

func newTransform(t *testing.T, owned bool) (*scene.World, *NetworkedTransform, *testHost) {
	world := scene.NewWorld()
	e := world.Spawn()
	transform := &NetworkedTransform{}
	e.Add(transform)

	host := &testHost{owns: owned}
	if err := replication.AttachEntity(host, e, 1, 1); err != nil {
		t.Fatalf("AttachEntity() returned an unexpected error: %v", err)
	}
	return world, transform, host
}

func TestNetworkedTransform_Owner(t *testing.T) {
	world, transform, host := newTransform(t, true)

	world.Update(InterpolationTime)
	transform.SetPosition(geom.V(1.5, -2))
	transform.SetRotation(30)
	world.Update(InterpolationTime)
	transform.SetPosition(geom.V(3, -4))
	world.Update(InterpolationTime)

	want := []sentCall{
		{Method: SetTransformMethod, Params: `{"a":[[1.5,-2],30],"k":{}}`},
		{Method: SetTransformMethod, Params: `{"a":[[3,-4],30],"k":{}}`},
	}
	if diff := cmp.Diff(want, host.sent); diff != "" {
		t.Errorf("broadcast transforms did not match; diff:\n%s", diff)
	}
	// Owners are the source of the transform and never blend.
	if got := transform.Position(); got != geom.V(3, -4) {
		t.Errorf("owner position changed to %v", got)
	}
}

func TestNetworkedTransform_Interpolation(t *testing.T) {
	world, transform, host := newTransform(t, false)
	world.Update(16 * time.Millisecond)

	if err := transform.SetTransform(rpc.FromPeer(rpc.ServerSender), geom.V(10, 0), 90); err != nil {
		t.Fatalf("SetTransform() returned an unexpected error: %v", err)
	}

	steps := []struct {
		pos geom.Vec2
		rot float64
	}{
		{geom.V(0, 0), 0},
		{geom.V(5, 0), 45},
		{geom.V(10, 0), 90},
		{geom.V(10, 0), 90},
	}
	for i, want := range steps {
		world.Update(InterpolationTime / 2)
		if diff := deep.Equal(want.pos, transform.Position()); diff != nil {
			t.Errorf("step %d: position %v", i, diff)
		}
		if got := transform.Rotation(); math.Abs(got-want.rot) > 1e-9 {
			t.Errorf("step %d: rotation = %v, want %v", i, got, want.rot)
		}
	}

	// A newer target blends from the last one.
	if err := transform.SetTransform(rpc.FromPeer(rpc.ServerSender), geom.V(10, 10), 90); err != nil {
		t.Fatalf("SetTransform() returned an unexpected error: %v", err)
	}
	world.Update(InterpolationTime / 2)
	world.Update(InterpolationTime / 2)
	if diff := deep.Equal(geom.V(10, 5), transform.Position()); diff != nil {
		t.Errorf("position %v", diff)
	}

	if len(host.sent) != 0 {
		t.Errorf("inbound transforms were sent on: %v", host.sent)
	}
}

func TestNetworkedTransform_TargetBeforeInit(t *testing.T) {
	world, transform, _ := newTransform(t, false)

	if err := transform.SetTransform(rpc.FromPeer(rpc.ServerSender), geom.V(4, 4), 0); err != nil {
		t.Fatalf("SetTransform() returned an unexpected error: %v", err)
	}
	world.Update(InterpolationTime)
	world.Update(InterpolationTime)
	if diff := deep.Equal(geom.V(4, 4), transform.Position()); diff != nil {
		t.Errorf("target received before the first update was lost: %v", diff)
	}
}

func TestRegister(t *testing.T) {
	table := rpc.NewTable()
	if err := Register(table); err != nil {
		t.Fatalf("Register() returned an unexpected error: %v", err)
	}

	m, ok := table.Lookup(TransformKind, SetTransformMethod)
	if !ok {
		t.Fatalf("%s.%s was not registered", TransformKind, SetTransformMethod)
	}
	if m.Recipient != rpc.Everyone {
		t.Errorf("Recipient = %v, want %v", m.Recipient, rpc.Everyone)
	}

	world, transform, _ := newTransform(t, false)
	world.Update(time.Millisecond)

	params, err := rpc.Decode([]byte(`{"a":[[2,3],180],"k":{}}`))
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %v", err)
	}
	if err := m.Handler(rpc.FromPeer(2), transform, params); err != nil {
		t.Fatalf("handler returned an unexpected error: %v", err)
	}
	world.Update(InterpolationTime)
	world.Update(time.Millisecond)
	if diff := deep.Equal(geom.V(2, 3), transform.Position()); diff != nil {
		t.Errorf("position %v", diff)
	}

	bad, _ := rpc.Decode([]byte(`{"a":["north"],"k":{}}`))
	if err := m.Handler(rpc.FromPeer(2), transform, bad); err == nil {
		t.Errorf("handler accepted malformed params")
	}
}

func TestWanderer(t *testing.T) {
	for _, owned := range []bool{true, false} {
		world := scene.NewWorld()
		e := world.Spawn()
		transform := &NetworkedTransform{}
		e.Add(transform)
		e.Add(&Wanderer{Transform: transform, Speed: math.Pi, Radius: 10})
		e.SetPosition(geom.V(10, 0))
		if err := replication.AttachEntity(&testHost{owns: owned}, e, 1, 1); err != nil {
			t.Fatalf("AttachEntity() returned an unexpected error: %v", err)
		}

		// Half a turn around the origin.
		world.Update(0)
		world.Update(time.Second)

		want := geom.V(10, 0)
		if owned {
			want = geom.V(-10, 0)
		}
		if diff := cmp.Diff(want, e.Position(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("owned=%v: position did not match; diff:\n%s", owned, diff)
		}
	}
}

func TestRegisterPrefabs(t *testing.T) {
	world := scene.NewWorld()
	prefabs := replication.NewPrefabs()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if err := RegisterPrefabs(prefabs, world, logger); err != nil {
		t.Fatalf("RegisterPrefabs() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{BeaconPrefab, PlayerPrefab}, prefabs.Names()); diff != "" {
		t.Errorf("registered prefabs did not match; diff:\n%s", diff)
	}

	entity, err := prefabs.Build(PlayerPrefab)
	if err != nil {
		t.Fatalf("Build() returned an unexpected error: %v", err)
	}
	networked := entity.NetworkedComponents()
	if len(networked) != 1 || networked[0].Kind() != TransformKind {
		t.Errorf("player has networked components %v, want one transform", networked)
	}
	if len(world.Entities()) != 1 {
		t.Errorf("Build() did not spawn into the world")
	}
}
