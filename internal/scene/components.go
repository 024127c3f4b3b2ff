package scene

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/spatial"
)

// ErrInvalidGeometry is returned when a mesh or shape cannot be generated
// from the supplied vertex/index buffers.
var ErrInvalidGeometry = errors.New("invalid geometry")

// CollisionGroup is a bit set used to filter collisions and ray casts.
type CollisionGroup uint32

const (
	HorizontalPlanes CollisionGroup = 1 << 0
	VerticalPlanes   CollisionGroup = 1 << 1

	AllPlanes = HorizontalPlanes | VerticalPlanes
	AllGroups = ^CollisionGroup(0)
)

// CollisionFilter decides which groups an entity belongs to and which it
// collides with.
type CollisionFilter struct {
	Group CollisionGroup
	Mask  CollisionGroup
}

// Material describes how a mesh is drawn.
type Material int

const (
	// OcclusionMaterial hides virtual content behind the mesh without drawing it.
	OcclusionMaterial Material = iota
	// PlaceholderMaterial is the flat material used for placeholder content.
	PlaceholderMaterial
)

// Mesh is an indexed triangle mesh in entity-local coordinates.
type Mesh struct {
	Positions []r3.Vec
	Indices   []uint32
}

// TriangleCount returns the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int { return len(m.Indices) / 3 }

// ModelComponent makes an entity renderable.
type ModelComponent struct {
	Mesh      *Mesh
	Materials []Material
}

// StaticShape is a static triangle-mesh collision shape.
type StaticShape struct {
	Positions []r3.Vec
	Faces     [][3]uint16
}

// CollisionComponent makes an entity collidable and ray-castable.
type CollisionComponent struct {
	Shapes   []*StaticShape
	IsStatic bool
	Filter   CollisionFilter
}

// PhysicsBodyMode controls whether a body moves under simulation.
type PhysicsBodyMode int

const (
	PhysicsStatic PhysicsBodyMode = iota
	PhysicsDynamic
)

// PhysicsBodyComponent lets dynamic bodies come to rest on the entity.
type PhysicsBodyComponent struct {
	Shapes []*StaticShape
	Mass   float64
	Mode   PhysicsBodyMode
}

// GenerateMesh builds a render mesh from vertex positions and a triangle
// index list.
func GenerateMesh(positions []r3.Vec, faces []uint16) (*Mesh, error) {
	if err := validateBuffers(positions, faces); err != nil {
		return nil, err
	}
	m := &Mesh{
		Positions: make([]r3.Vec, len(positions)),
		Indices:   make([]uint32, len(faces)),
	}
	copy(m.Positions, positions)
	for i, f := range faces {
		m.Indices[i] = uint32(f)
	}
	return m, nil
}

// GenerateStaticMesh builds a static collision shape. Unlike GenerateMesh it
// also rejects geometry whose triangles are all degenerate, since such a
// shape can never be hit.
func GenerateStaticMesh(positions []r3.Vec, faces []uint16) (*StaticShape, error) {
	if err := validateBuffers(positions, faces); err != nil {
		return nil, err
	}
	s := &StaticShape{
		Positions: make([]r3.Vec, len(positions)),
		Faces:     make([][3]uint16, 0, len(faces)/3),
	}
	copy(s.Positions, positions)
	for i := 0; i+2 < len(faces); i += 3 {
		tri := [3]uint16{faces[i], faces[i+1], faces[i+2]}
		n := spatial.TriangleNormal(positions[tri[0]], positions[tri[1]], positions[tri[2]])
		if n == (r3.Vec{}) {
			continue
		}
		s.Faces = append(s.Faces, tri)
	}
	if len(s.Faces) == 0 {
		return nil, fmt.Errorf("%w: all %d triangles are degenerate", ErrInvalidGeometry, len(faces)/3)
	}
	return s, nil
}

func validateBuffers(positions []r3.Vec, faces []uint16) error {
	if len(positions) < 3 {
		return fmt.Errorf("%w: need at least 3 vertices, got %d", ErrInvalidGeometry, len(positions))
	}
	if len(faces) == 0 || len(faces)%3 != 0 {
		return fmt.Errorf("%w: index count %d is not a positive multiple of 3", ErrInvalidGeometry, len(faces))
	}
	for i, f := range faces {
		if int(f) >= len(positions) {
			return fmt.Errorf("%w: index %d at %d out of range (%d vertices)", ErrInvalidGeometry, f, i, len(positions))
		}
	}
	return nil
}
