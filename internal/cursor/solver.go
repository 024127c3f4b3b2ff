// Package cursor resolves where the user is looking on detected horizontal
// surfaces. Once per tick it casts a ray from the device pose, slightly
// downward, and moves the placement cursor to the nearest accepted hit.
package cursor

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/scene"
	"github.com/banshee-data/planeplopper/internal/spatial"
	"github.com/banshee-data/planeplopper/internal/timeutil"
	"github.com/banshee-data/planeplopper/internal/tracking"
)

// Config holds the solver tuning.
type Config struct {
	// DownAngleDeg tilts the ray below the device's forward axis.
	DownAngleDeg float64
	// MinDistance is exclusive: hits at or closer than it are ignored.
	MinDistance float64
	// MaxDistance is the ray length.
	MaxDistance float64
	// PlacementOffset lifts the cursor off the surface to avoid z-fighting.
	PlacementOffset float64
	// InvalidateOnMiss clears the found flag when a tick finds no surface.
	// By default the cursor keeps its last valid target.
	InvalidateOnMiss bool
	// AttachmentHeight and AttachmentTiltDeg position the floating panel
	// that rides on the cursor.
	AttachmentHeight  float64
	AttachmentTiltDeg float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		DownAngleDeg:      15,
		MinDistance:       0.2,
		MaxDistance:       3.0,
		PlacementOffset:   0.01,
		AttachmentHeight:  0.15,
		AttachmentTiltDeg: -25,
	}
}

// Entities are the helper entities used for ray casting and feedback.
type Entities struct {
	// Root is the scene root every placed entity hangs from.
	Root *scene.Entity
	// DeviceLocation follows the device pose. It is not part of the scene.
	DeviceLocation *scene.Entity
	// RaycastOrigin is a child of DeviceLocation pitched down.
	RaycastOrigin *scene.Entity
	// PlacementLocation is the cursor. It is attached to Root only while a
	// valid target is found.
	PlacementLocation *scene.Entity
	// Attachment floats above the cursor and carries the placement controls.
	Attachment *scene.Entity
}

// NewEntities builds the helper entities under root.
func NewEntities(root *scene.Entity, cfg Config) *Entities {
	e := &Entities{
		Root:              root,
		DeviceLocation:    scene.NewEntity("device-location"),
		RaycastOrigin:     scene.NewEntity("raycast-origin"),
		PlacementLocation: scene.NewEntity("placement-location"),
		Attachment:        scene.NewEntity("placement-attachment"),
	}
	e.DeviceLocation.AddChild(e.RaycastOrigin)
	e.RaycastOrigin.SetTransform(spatial.Transform{
		Orientation: spatial.AxisAngle(r3.Vec{X: 1}, -spatial.Deg2Rad(cfg.DownAngleDeg)),
	})
	e.PlacementLocation.AddChild(e.Attachment)
	e.Attachment.SetTransform(spatial.Transform{
		Position:    r3.Vec{Y: cfg.AttachmentHeight},
		Orientation: spatial.AxisAngle(r3.Vec{X: 1}, spatial.Deg2Rad(cfg.AttachmentTiltDeg)),
	})
	return e
}

// PoseSource is the part of the world tracker the solver reads.
type PoseSource interface {
	State() tracking.ProviderState
	QueryDeviceAnchor(timestamp time.Time) (tracking.DeviceAnchor, bool)
}

// PlaneCounter reports how many planes are currently tracked.
type PlaneCounter interface {
	Len() int
}

// Cursor is the published placement state.
type Cursor struct {
	Transform spatial.Transform
	Found     bool
}

// Stats counts solver activity.
type Stats struct {
	Ticks    uint64
	Skipped  uint64
	Hits     uint64
	Rejected uint64
}

// Solver updates the placement cursor. It is not safe for concurrent use;
// Tick runs on the owner loop.
type Solver struct {
	cfg      Config
	pose     PoseSource
	planes   PlaneCounter
	clock    timeutil.Clock
	entities *Entities

	found               bool
	deviceAnchorPresent bool
	planeAnchorsPresent bool
	stats               Stats
}

// NewSolver creates a solver.
func NewSolver(cfg Config, pose PoseSource, planes PlaneCounter, clock timeutil.Clock, entities *Entities) *Solver {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Solver{
		cfg:      cfg,
		pose:     pose,
		planes:   planes,
		clock:    clock,
		entities: entities,
	}
}

// Tick runs one solver step.
func (s *Solver) Tick() {
	s.stats.Ticks++
	if s.pose.State() != tracking.ProviderRunning {
		s.stats.Skipped++
		return
	}

	device, ok := s.pose.QueryDeviceAnchor(s.clock.Now())
	s.deviceAnchorPresent = ok
	s.planeAnchorsPresent = s.planes != nil && s.planes.Len() > 0
	if !ok || !device.IsTracked {
		s.stats.Skipped++
		return
	}

	s.updatePlacementLocation(device)
}

func (s *Solver) updatePlacementLocation(device tracking.DeviceAnchor) {
	s.entities.DeviceLocation.SetTransform(device.OriginFromAnchor)
	upright := device.OriginFromAnchor.GravityAligned()

	origin := s.entities.RaycastOrigin.WorldTransform()
	hits := scene.Raycast(s.entities.Root, origin.Position, origin.Forward(), s.cfg.MaxDistance, scene.AllPlanes)

	target, ok := s.accept(hits)
	if !ok {
		if s.cfg.InvalidateOnMiss {
			s.setTargetFound(false)
		}
		return
	}

	upright.Position = r3.Add(target.Position, r3.Scale(s.cfg.PlacementOffset, spatial.Up))
	s.entities.PlacementLocation.SetTransform(upright)
	s.setTargetFound(true)
}

// accept applies the acceptance rules to the nearest hit only. A wall in
// front of the floor blocks the floor.
func (s *Solver) accept(hits []scene.Hit) (scene.Hit, bool) {
	if len(hits) == 0 {
		return scene.Hit{}, false
	}
	nearest := hits[0]
	if nearest.Distance <= s.cfg.MinDistance {
		s.stats.Rejected++
		return scene.Hit{}, false
	}
	if c := nearest.Entity.Collision; c != nil && c.Filter.Group == scene.VerticalPlanes {
		s.stats.Rejected++
		return scene.Hit{}, false
	}
	s.stats.Hits++
	monitoring.Debugf("[cursor] hit %s at %.3fm", nearest.Entity.Name, nearest.Distance)
	return nearest, true
}

// setTargetFound is the only place the found flag changes. The cursor
// entity is attached while a target is found and detached otherwise.
func (s *Solver) setTargetFound(found bool) {
	if s.found == found {
		return
	}
	s.found = found
	if found {
		s.entities.Root.AddChild(s.entities.PlacementLocation)
	} else {
		s.entities.PlacementLocation.RemoveFromParent()
	}
}

// State returns the published cursor.
func (s *Solver) State() Cursor {
	return Cursor{
		Transform: s.entities.PlacementLocation.Transform(),
		Found:     s.found,
	}
}

// DeviceAnchorPresent reports whether the last running tick got a pose.
func (s *Solver) DeviceAnchorPresent() bool { return s.deviceAnchorPresent }

// PlaneAnchorsPresent reports whether any plane was tracked at the last
// running tick.
func (s *Solver) PlaneAnchorsPresent() bool { return s.planeAnchorsPresent }

// Stats returns the activity counters.
func (s *Solver) Stats() Stats { return s.stats }
