package scene

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/spatial"
)

// unitSquare is a 2x2 m horizontal square centred on the local origin.
func unitSquare() ([]r3.Vec, []uint16) {
	return []r3.Vec{
		{X: -1, Z: -1}, {X: 1, Z: -1}, {X: 1, Z: 1}, {X: -1, Z: 1},
	}, []uint16{0, 1, 2, 0, 2, 3}
}

func collidable(t *testing.T, name string, group CollisionGroup, at r3.Vec) *Entity {
	t.Helper()
	pos, faces := unitSquare()
	shape, err := GenerateStaticMesh(pos, faces)
	require.NoError(t, err)
	e := NewEntity(name)
	e.SetPosition(at)
	e.Collision = &CollisionComponent{
		Shapes:   []*StaticShape{shape},
		IsStatic: true,
		Filter:   CollisionFilter{Group: group, Mask: AllGroups},
	}
	return e
}

func TestAddChild_Reparents(t *testing.T) {
	a, b, c := NewEntity("a"), NewEntity("b"), NewEntity("c")
	a.AddChild(c)
	b.AddChild(c)

	assert.Empty(t, a.Children())
	assert.Equal(t, []*Entity{c}, b.Children())
	assert.Same(t, b, c.Parent())

	// Re-adding is a no-op.
	b.AddChild(c)
	assert.Len(t, b.Children(), 1)

	// Cycles are ignored.
	c.AddChild(b)
	assert.Nil(t, b.Parent())

	c.RemoveFromParent()
	assert.Nil(t, c.Parent())
	assert.Empty(t, b.Children())
	c.RemoveFromParent()
}

func TestWorldTransform(t *testing.T) {
	root := NewEntity("root")
	device := NewEntity("device")
	origin := NewEntity("origin")
	root.AddChild(device)
	device.AddChild(origin)

	device.SetTransform(spatial.Transform{
		Position:    r3.Vec{Y: 1.5},
		Orientation: spatial.AxisAngle(spatial.Up, spatial.Deg2Rad(90)),
	})
	origin.SetPosition(r3.Vec{Z: -1})

	w := origin.WorldTransform()
	assert.InDelta(t, -1.0, w.Position.X, 1e-9)
	assert.InDelta(t, 1.5, w.Position.Y, 1e-9)
	assert.InDelta(t, 0.0, w.Position.Z, 1e-9)

	target := spatial.Translation(r3.Vec{X: 3, Y: 3, Z: 3})
	origin.SetWorldTransform(target)
	assert.True(t, spatial.ApproxEqual(target, origin.WorldTransform(), 1e-9))
}

func TestEnabledInHierarchy(t *testing.T) {
	root, child := NewEntity("root"), NewEntity("child")
	root.AddChild(child)
	assert.True(t, child.IsEnabledInHierarchy())
	root.SetEnabled(false)
	assert.False(t, child.IsEnabledInHierarchy())
	assert.True(t, child.IsEnabled())
}

func TestGenerateMesh_Validation(t *testing.T) {
	pos, faces := unitSquare()

	m, err := GenerateMesh(pos, faces)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TriangleCount())

	cases := map[string]struct {
		pos   []r3.Vec
		faces []uint16
	}{
		"too few vertices":   {pos[:2], []uint16{0, 1, 0}},
		"no faces":           {pos, nil},
		"partial triangle":   {pos, []uint16{0, 1}},
		"index out of range": {pos, []uint16{0, 1, 9}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := GenerateMesh(tc.pos, tc.faces)
			assert.True(t, errors.Is(err, ErrInvalidGeometry), "got %v", err)
			_, err = GenerateStaticMesh(tc.pos, tc.faces)
			assert.True(t, errors.Is(err, ErrInvalidGeometry), "got %v", err)
		})
	}
}

func TestGenerateStaticMesh_RejectsDegenerate(t *testing.T) {
	line := []r3.Vec{{}, {X: 1}, {X: 2}}
	_, err := GenerateMesh(line, []uint16{0, 1, 2})
	require.NoError(t, err)
	_, err = GenerateStaticMesh(line, []uint16{0, 1, 2})
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestRaycast(t *testing.T) {
	root := NewEntity("root")
	floor := collidable(t, "floor", HorizontalPlanes, r3.Vec{})
	table := collidable(t, "table", HorizontalPlanes, r3.Vec{Y: 0.8})
	wall := collidable(t, "wall", VerticalPlanes, r3.Vec{Y: 1.2})
	root.AddChild(floor)
	root.AddChild(table)
	root.AddChild(wall)

	down := r3.Vec{Y: -1}
	origin := r3.Vec{X: 0.1, Y: 2, Z: 0.3}

	t.Run("nearest first across groups", func(t *testing.T) {
		hits := Raycast(root, origin, down, 5, AllPlanes)
		require.Len(t, hits, 3)
		assert.Same(t, wall, hits[0].Entity)
		assert.Same(t, table, hits[1].Entity)
		assert.Same(t, floor, hits[2].Entity)
		assert.InDelta(t, 0.8, hits[0].Distance, 1e-9)
	})

	t.Run("mask filters groups", func(t *testing.T) {
		hits := Raycast(root, origin, down, 5, HorizontalPlanes)
		require.Len(t, hits, 2)
		assert.Same(t, table, hits[0].Entity)
		assert.InDelta(t, 0.8, hits[0].Position.Y, 1e-9)
	})

	t.Run("length limits reach", func(t *testing.T) {
		hits := Raycast(root, origin, down, 1.5, HorizontalPlanes)
		require.Len(t, hits, 1)
		assert.Same(t, table, hits[0].Entity)
	})

	t.Run("disabled and detached entities are skipped", func(t *testing.T) {
		table.SetEnabled(false)
		defer table.SetEnabled(true)
		wall.RemoveFromParent()
		defer root.AddChild(wall)

		hits := Raycast(root, origin, down, 5, AllPlanes)
		require.Len(t, hits, 1)
		assert.Same(t, floor, hits[0].Entity)
	})

	t.Run("zero direction", func(t *testing.T) {
		assert.Nil(t, Raycast(root, origin, r3.Vec{}, 5, AllPlanes))
	})
}
