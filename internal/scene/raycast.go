package scene

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/spatial"
)

// Hit is a single ray cast result.
type Hit struct {
	Entity   *Entity
	Position r3.Vec
	Normal   r3.Vec
	Distance float64
}

// Raycast casts a ray from origin along direction against every enabled
// entity below root whose collision group intersects mask. Hits farther than
// length are dropped. Results are ordered nearest first, one per entity.
func Raycast(root *Entity, origin, direction r3.Vec, length float64, mask CollisionGroup) []Hit {
	ray, ok := spatial.NewRay(origin, direction)
	if !ok || root == nil || length <= 0 {
		return nil
	}

	var hits []Hit
	var visit func(e *Entity, parentWorld spatial.Transform)
	visit = func(e *Entity, parentWorld spatial.Transform) {
		if !e.enabled {
			return
		}
		world := spatial.Compose(parentWorld, e.transform)
		if c := e.Collision; c != nil && c.Filter.Group&mask != 0 {
			if h, ok := nearestShapeHit(ray, world, c.Shapes, length); ok {
				h.Entity = e
				hits = append(hits, h)
			}
		}
		for _, child := range e.children {
			visit(child, world)
		}
	}

	parentWorld := spatial.Identity()
	if root.parent != nil {
		parentWorld = root.parent.WorldTransform()
	}
	visit(root, parentWorld)

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits
}

func nearestShapeHit(ray spatial.Ray, world spatial.Transform, shapes []*StaticShape, length float64) (Hit, bool) {
	best := Hit{Distance: length}
	found := false
	for _, s := range shapes {
		if s == nil {
			continue
		}
		for _, f := range s.Faces {
			a := world.Apply(s.Positions[f[0]])
			b := world.Apply(s.Positions[f[1]])
			c := world.Apply(s.Positions[f[2]])
			d, ok := ray.IntersectTriangle(a, b, c)
			if !ok || d > best.Distance {
				continue
			}
			best = Hit{
				Position: ray.At(d),
				Normal:   spatial.TriangleNormal(a, b, c),
				Distance: d,
			}
			found = true
		}
	}
	return best, found
}
