// Package planes keeps one occluding, collidable surface in the scene for
// every detected plane.
package planes

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/scene"
	"github.com/banshee-data/planeplopper/internal/tracking"
)

// Tracker maps plane anchor identifiers to scene entities. It is not safe
// for concurrent use; call it from the owner loop.
type Tracker struct {
	root     *scene.Entity
	anchors  map[uuid.UUID]tracking.PlaneAnchor
	entities map[uuid.UUID]*scene.Entity

	dropped int
}

// NewTracker creates a tracker that attaches plane entities under root.
func NewTracker(root *scene.Entity) *Tracker {
	return &Tracker{
		root:     root,
		anchors:  make(map[uuid.UUID]tracking.PlaneAnchor),
		entities: make(map[uuid.UUID]*scene.Entity),
	}
}

// Process applies one plane anchor update.
func (t *Tracker) Process(update tracking.AnchorUpdate[tracking.PlaneAnchor]) {
	anchor := update.Anchor

	if update.Event == tracking.AnchorRemoved {
		delete(t.anchors, anchor.ID)
		if e, ok := t.entities[anchor.ID]; ok {
			e.RemoveFromParent()
			delete(t.entities, anchor.ID)
		}
		return
	}

	entity, err := BuildEntity(anchor)
	if err != nil {
		t.dropped++
		monitoring.Logf("[planes] dropping %s: %v", update, err)
		return
	}

	old := t.entities[anchor.ID]
	t.anchors[anchor.ID] = anchor
	t.entities[anchor.ID] = entity
	t.root.AddChild(entity)
	if old != nil {
		old.RemoveFromParent()
	}
}

// BuildEntity creates the occlusion mesh, collision shape and static
// physics body for a plane anchor.
func BuildEntity(anchor tracking.PlaneAnchor) (*scene.Entity, error) {
	g := anchor.Geometry
	mesh, err := scene.GenerateMesh(g.Vertices, g.Faces)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mesh: %w", err)
	}
	shape, err := scene.GenerateStaticMesh(g.Vertices, g.Faces)
	if err != nil {
		return nil, fmt.Errorf("failed to generate collision shape: %w", err)
	}

	e := scene.NewEntity("plane-" + anchor.ID.String())
	e.SetTransform(anchor.OriginFromAnchor)
	e.Model = &scene.ModelComponent{
		Mesh:      mesh,
		Materials: []scene.Material{scene.OcclusionMaterial},
	}
	e.Collision = &scene.CollisionComponent{
		Shapes:   []*scene.StaticShape{shape},
		IsStatic: true,
		Filter:   scene.CollisionFilter{Group: CollisionGroup(anchor.Alignment), Mask: scene.AllGroups},
	}
	e.Physics = &scene.PhysicsBodyComponent{
		Shapes: []*scene.StaticShape{shape},
		Mode:   scene.PhysicsStatic,
	}
	return e, nil
}

// CollisionGroup returns the group a plane of the given alignment joins.
// Anything that is not horizontal is treated as a wall.
func CollisionGroup(a tracking.PlaneAlignment) scene.CollisionGroup {
	if a == tracking.PlaneHorizontal {
		return scene.HorizontalPlanes
	}
	return scene.VerticalPlanes
}

// Entity returns the entity currently representing a plane.
func (t *Tracker) Entity(id uuid.UUID) (*scene.Entity, bool) {
	e, ok := t.entities[id]
	return e, ok
}

// PlaneAnchors returns the anchors with a live representation.
func (t *Tracker) PlaneAnchors() []tracking.PlaneAnchor {
	out := make([]tracking.PlaneAnchor, 0, len(t.anchors))
	for _, a := range t.anchors {
		out = append(out, a)
	}
	return out
}

// Len returns the number of tracked planes.
func (t *Tracker) Len() int { return len(t.anchors) }

// Dropped returns how many updates were discarded because their geometry
// could not be built.
func (t *Tracker) Dropped() int { return t.dropped }
