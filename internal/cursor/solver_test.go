package cursor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/planes"
	"github.com/banshee-data/planeplopper/internal/scene"
	"github.com/banshee-data/planeplopper/internal/spatial"
	"github.com/banshee-data/planeplopper/internal/timeutil"
	"github.com/banshee-data/planeplopper/internal/tracking"
	"github.com/banshee-data/planeplopper/internal/tracking/sim"
)

const eyeHeight = 1.6

type fakePose struct {
	state   tracking.ProviderState
	anchor  tracking.DeviceAnchor
	ok      bool
	queries int
}

func (f *fakePose) State() tracking.ProviderState { return f.state }

func (f *fakePose) QueryDeviceAnchor(time.Time) (tracking.DeviceAnchor, bool) {
	f.queries++
	return f.anchor, f.ok
}

func lookingAhead(pitchDeg float64) tracking.DeviceAnchor {
	return tracking.DeviceAnchor{
		OriginFromAnchor: spatial.Transform{
			Position:    r3.Vec{Y: eyeHeight},
			Orientation: spatial.AxisAngle(r3.Vec{X: 1}, spatial.Deg2Rad(pitchDeg)),
		},
		IsTracked: true,
	}
}

// floorAtDistance returns the floor height the default ray from a level
// device reaches after d metres.
func floorAtDistance(d float64) float64 {
	return eyeHeight - d*math.Sin(spatial.Deg2Rad(15))
}

type rig struct {
	pose     *fakePose
	planes   *planes.Tracker
	entities *Entities
	solver   *Solver
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	root := scene.NewEntity("root")
	r := &rig{
		pose:     &fakePose{state: tracking.ProviderRunning, anchor: lookingAhead(0), ok: true},
		planes:   planes.NewTracker(root),
		entities: NewEntities(root, cfg),
	}
	r.solver = NewSolver(cfg, r.pose, r.planes, timeutil.NewMockClock(time.Unix(0, 0)), r.entities)
	return r
}

func (r *rig) addPlane(p tracking.PlaneAnchor) {
	r.planes.Process(tracking.AnchorUpdate[tracking.PlaneAnchor]{Event: tracking.AnchorAdded, Anchor: p})
}

func TestNewEntities_Layout(t *testing.T) {
	root := scene.NewEntity("root")
	e := NewEntities(root, DefaultConfig())

	assert.Same(t, e.DeviceLocation, e.RaycastOrigin.Parent())
	assert.Nil(t, e.DeviceLocation.Parent())
	assert.Nil(t, e.PlacementLocation.Parent(), "cursor starts hidden")
	assert.Same(t, e.PlacementLocation, e.Attachment.Parent())
	assert.InDelta(t, 0.15, e.Attachment.Position().Y, 1e-12)

	fwd := e.RaycastOrigin.WorldTransform().Forward()
	assert.InDelta(t, -math.Sin(spatial.Deg2Rad(15)), fwd.Y, 1e-9)
	assert.Less(t, fwd.Z, 0.0)
}

func TestTick_AcceptanceWindow(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		found    bool
	}{
		{"too close", 0.15, false},
		{"just past minimum", 0.2001, true},
		{"mid range", 1.5, true},
		{"beyond ray length", 3.2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, DefaultConfig())
			r.addPlane(sim.Floor(floorAtDistance(tt.distance), 20))
			r.solver.Tick()
			assert.Equal(t, tt.found, r.solver.State().Found)
		})
	}
}

func TestTick_PlacementIsLevelAndLifted(t *testing.T) {
	r := newRig(t, DefaultConfig())
	y := floorAtDistance(1)
	r.addPlane(sim.Floor(y, 20))
	r.pose.anchor = lookingAhead(0)

	r.solver.Tick()

	c := r.solver.State()
	require.True(t, c.Found)
	assert.InDelta(t, y+0.01, c.Transform.Position.Y, 1e-9)
	assert.InDelta(t, -math.Cos(spatial.Deg2Rad(15)), c.Transform.Position.Z, 1e-9)
	up := c.Transform.YAxis()
	assert.InDelta(t, 1, up.Y, 1e-9, "cursor is gravity aligned")
	assert.Same(t, r.entities.Root, r.entities.PlacementLocation.Parent())
}

func TestTick_VerticalHitsNeverPlace(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.addPlane(sim.Wall(r3.Vec{Y: eyeHeight, Z: -1}, 4, 4))
	r.addPlane(sim.Floor(floorAtDistance(2), 20))

	r.solver.Tick()
	assert.False(t, r.solver.State().Found, "wall in front of the floor blocks it")
	assert.Equal(t, uint64(1), r.solver.Stats().Rejected)

	wallOnly := newRig(t, DefaultConfig())
	wallOnly.addPlane(sim.Wall(r3.Vec{Y: eyeHeight, Z: -1}, 4, 4))
	wallOnly.solver.Tick()
	assert.False(t, wallOnly.solver.State().Found)
}

func TestTick_MissKeepsLastTarget(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.addPlane(sim.Floor(floorAtDistance(1), 20))
	r.solver.Tick()
	before := r.solver.State()
	require.True(t, before.Found)

	r.pose.anchor = lookingAhead(60)
	r.solver.Tick()

	after := r.solver.State()
	assert.True(t, after.Found)
	assert.True(t, spatial.ApproxEqual(before.Transform, after.Transform, 1e-12))
	assert.Same(t, r.entities.Root, r.entities.PlacementLocation.Parent())
}

func TestTick_InvalidateOnMiss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InvalidateOnMiss = true
	r := newRig(t, cfg)
	r.addPlane(sim.Floor(floorAtDistance(1), 20))
	r.solver.Tick()
	require.True(t, r.solver.State().Found)

	r.pose.anchor = lookingAhead(60)
	r.solver.Tick()
	assert.False(t, r.solver.State().Found)
	assert.Nil(t, r.entities.PlacementLocation.Parent())
}

func TestTick_SkipsWhenNotRunning(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.addPlane(sim.Floor(floorAtDistance(1), 20))
	r.pose.state = tracking.ProviderPaused

	r.solver.Tick()
	assert.Equal(t, 0, r.pose.queries)
	assert.False(t, r.solver.DeviceAnchorPresent())
	assert.False(t, r.solver.State().Found)
}

func TestTick_UntrackedPoseLeavesCursor(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.addPlane(sim.Floor(floorAtDistance(1), 20))
	r.pose.anchor.IsTracked = false

	r.solver.Tick()
	assert.True(t, r.solver.DeviceAnchorPresent())
	assert.True(t, r.solver.PlaneAnchorsPresent())
	assert.False(t, r.solver.State().Found)

	r.pose.ok = false
	r.solver.Tick()
	assert.False(t, r.solver.DeviceAnchorPresent())
	assert.Equal(t, uint64(2), r.solver.Stats().Skipped)
}
