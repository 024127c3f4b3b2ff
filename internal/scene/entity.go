// Package scene is a minimal retained scene graph: entities with local
// transforms, an enabled flag, parent/child links and the components the
// placement engine needs (occlusion mesh, static collision shape, physics
// body). It is not thread-safe; all mutation happens on the owner loop.
package scene

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/spatial"
)

// Entity is a node in the scene graph.
type Entity struct {
	Name string

	transform spatial.Transform
	enabled   bool
	parent    *Entity
	children  []*Entity

	Model     *ModelComponent
	Collision *CollisionComponent
	Physics   *PhysicsBodyComponent
}

// NewEntity returns an enabled, detached entity at the identity transform.
func NewEntity(name string) *Entity {
	return &Entity{
		Name:      name,
		transform: spatial.Identity(),
		enabled:   true,
	}
}

// Transform returns the entity's transform relative to its parent.
func (e *Entity) Transform() spatial.Transform { return e.transform }

// SetTransform sets the entity's transform relative to its parent.
func (e *Entity) SetTransform(t spatial.Transform) {
	t.Orientation = spatial.Normalize(t.Orientation)
	e.transform = t
}

// Position returns the local position.
func (e *Entity) Position() r3.Vec { return e.transform.Position }

// SetPosition sets the local position, keeping orientation.
func (e *Entity) SetPosition(p r3.Vec) { e.transform.Position = p }

// WorldTransform returns the transform relative to the scene root.
func (e *Entity) WorldTransform() spatial.Transform {
	t := e.transform
	for p := e.parent; p != nil; p = p.parent {
		t = spatial.Compose(p.transform, t)
	}
	return t
}

// SetWorldTransform positions the entity so that its world transform is t,
// whatever its parent.
func (e *Entity) SetWorldTransform(t spatial.Transform) {
	if e.parent == nil {
		e.SetTransform(t)
		return
	}
	e.SetTransform(spatial.Compose(e.parent.WorldTransform().Inverse(), t))
}

// IsEnabled reports the entity's own enabled flag.
func (e *Entity) IsEnabled() bool { return e.enabled }

// SetEnabled toggles the entity. Disabled entities and their descendants are
// neither rendered nor hit by ray casts.
func (e *Entity) SetEnabled(enabled bool) { e.enabled = enabled }

// IsEnabledInHierarchy reports whether the entity and all of its ancestors
// are enabled.
func (e *Entity) IsEnabledInHierarchy() bool {
	for n := e; n != nil; n = n.parent {
		if !n.enabled {
			return false
		}
	}
	return true
}

// Parent returns the entity's parent or nil.
func (e *Entity) Parent() *Entity { return e.parent }

// Children returns a copy of the entity's children.
func (e *Entity) Children() []*Entity {
	out := make([]*Entity, len(e.children))
	copy(out, e.children)
	return out
}

// AddChild attaches child under e. A child that is already attached
// elsewhere is moved; adding an existing child is a no-op. Attempts to
// create a cycle are ignored.
func (e *Entity) AddChild(child *Entity) {
	if child == nil || child == e || child.parent == e {
		return
	}
	for p := e; p != nil; p = p.parent {
		if p == child {
			return
		}
	}
	child.RemoveFromParent()
	child.parent = e
	e.children = append(e.children, child)
}

// RemoveFromParent detaches the entity. It is a no-op for detached entities.
func (e *Entity) RemoveFromParent() {
	p := e.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == e {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	e.parent = nil
}

// IsDescendantOf reports whether e is root or sits somewhere below it.
func (e *Entity) IsDescendantOf(root *Entity) bool {
	for n := e; n != nil; n = n.parent {
		if n == root {
			return true
		}
	}
	return false
}

// Walk visits e and all of its descendants depth-first. Returning false from
// fn skips the subtree below the visited entity.
func (e *Entity) Walk(fn func(*Entity) bool) {
	if !fn(e) {
		return
	}
	for _, c := range e.children {
		c.Walk(fn)
	}
}

// FindChild returns the first direct child with the given name.
func (e *Entity) FindChild(name string) *Entity {
	for _, c := range e.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}
