package store

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/scene"
)

// ContentFactory builds the render content for a model. It is called once
// per model, when the model is inserted or loaded.
type ContentFactory func(m *Model) *scene.Entity

// placeholderSize is the edge length of the placeholder cube in metres.
const placeholderSize = 0.1

// PlaceholderContent returns an entity holding a small cube that rests on
// the entity's origin.
func PlaceholderContent(m *Model) *scene.Entity {
	e := scene.NewEntity("object-" + m.ID.String())
	mesh, err := cubeMesh(placeholderSize)
	if err != nil {
		monitoring.Logf("[store] failed to build placeholder for %s: %v", m.ID, err)
		return e
	}
	child := scene.NewEntity("placeholder")
	child.Model = &scene.ModelComponent{
		Mesh:      mesh,
		Materials: []scene.Material{scene.PlaceholderMaterial},
	}
	child.SetPosition(r3.Vec{Y: placeholderSize / 2})
	e.AddChild(child)
	return e
}

func cubeMesh(size float64) (*scene.Mesh, error) {
	h := size / 2
	v := []r3.Vec{
		{X: -h, Y: -h, Z: -h}, {X: h, Y: -h, Z: -h}, {X: h, Y: h, Z: -h}, {X: -h, Y: h, Z: -h},
		{X: -h, Y: -h, Z: h}, {X: h, Y: -h, Z: h}, {X: h, Y: h, Z: h}, {X: -h, Y: h, Z: h},
	}
	faces := []uint16{
		0, 2, 1, 0, 3, 2, // back
		4, 5, 6, 4, 6, 7, // front
		0, 1, 5, 0, 5, 4, // bottom
		3, 7, 6, 3, 6, 2, // top
		0, 4, 7, 0, 7, 3, // left
		1, 2, 6, 1, 6, 5, // right
	}
	return scene.GenerateMesh(v, faces)
}
