package sim

import (
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/spatial"
	"github.com/banshee-data/planeplopper/internal/tracking"
)

// PlaneDetection simulates a plane detection provider.
type PlaneDetection struct {
	lifecycle

	planes  map[uuid.UUID]tracking.PlaneAnchor
	updates chan tracking.AnchorUpdate[tracking.PlaneAnchor]
}

var _ tracking.PlaneDetector = (*PlaneDetection)(nil)

// NewPlaneDetection creates a plane detection provider.
func NewPlaneDetection(supported bool) *PlaneDetection {
	p := &PlaneDetection{
		planes:  make(map[uuid.UUID]tracking.PlaneAnchor),
		updates: make(chan tracking.AnchorUpdate[tracking.PlaneAnchor], updateBuffer),
	}
	p.init("plane_detection", supported, tracking.WorldSensing)
	return p
}

func (p *PlaneDetection) start(emit func(tracking.SessionEvent)) {
	p.mu.Lock()
	p.emit = emit
	p.mu.Unlock()
	p.setState(tracking.ProviderRunning, nil)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, plane := range p.planes {
		p.publishLocked(tracking.AnchorAdded, plane)
	}
}

func (p *PlaneDetection) stop(err error) {
	p.halt(err, func() { close(p.updates) })
}

// Fail stops the provider with err.
func (p *PlaneDetection) Fail(err error) { p.stop(err) }

// AnchorUpdates implements tracking.PlaneDetector.
func (p *PlaneDetection) AnchorUpdates() <-chan tracking.AnchorUpdate[tracking.PlaneAnchor] {
	return p.updates
}

// InjectPlane publishes plane as added, or as updated when its identifier
// is already known.
func (p *PlaneDetection) InjectPlane(plane tracking.PlaneAnchor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	event := tracking.AnchorAdded
	if _, ok := p.planes[plane.ID]; ok {
		event = tracking.AnchorUpdated
	}
	p.planes[plane.ID] = plane
	p.publishLocked(event, plane)
}

// RemovePlane publishes a removed event for a known plane.
func (p *PlaneDetection) RemovePlane(id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	plane, ok := p.planes[id]
	if !ok {
		return fmt.Errorf("%w: %s", tracking.ErrAnchorNotFound, id)
	}
	delete(p.planes, id)
	p.publishLocked(tracking.AnchorRemoved, plane)
	return nil
}

// Planes returns the number of known planes.
func (p *PlaneDetection) Planes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.planes)
}

func (p *PlaneDetection) publishLocked(event tracking.AnchorEvent, plane tracking.PlaneAnchor) {
	if !p.running() {
		return
	}
	select {
	case p.updates <- tracking.AnchorUpdate[tracking.PlaneAnchor]{Event: event, Anchor: plane}:
	case <-p.done:
	}
}

// RectPlane builds a rectangular plane anchor of the given size. Its
// geometry lies in the anchor's local XZ plane with the normal along +Y,
// so a vertical plane is a horizontal one rotated a quarter turn about X.
func RectPlane(origin spatial.Transform, width, depth float64, alignment tracking.PlaneAlignment) tracking.PlaneAnchor {
	hw, hd := width/2, depth/2
	return tracking.PlaneAnchor{
		ID:               uuid.New(),
		OriginFromAnchor: origin,
		Alignment:        alignment,
		Geometry: tracking.PlaneGeometry{
			Vertices: []r3.Vec{
				{X: -hw, Z: -hd},
				{X: hw, Z: -hd},
				{X: hw, Z: hd},
				{X: -hw, Z: hd},
			},
			// Counter-clockwise seen from +Y.
			Faces: []uint16{0, 2, 1, 0, 3, 2},
		},
	}
}

// Floor returns a horizontal plane of the given size centred at height y.
func Floor(y, size float64) tracking.PlaneAnchor {
	return RectPlane(spatial.Translation(r3.Vec{Y: y}), size, size, tracking.PlaneHorizontal)
}

// Wall returns a vertical plane facing +Z whose centre sits at center.
func Wall(center r3.Vec, width, height float64) tracking.PlaneAnchor {
	t := spatial.Transform{
		Position:    center,
		Orientation: spatial.AxisAngle(r3.Vec{X: 1}, spatial.Deg2Rad(90)),
	}
	return RectPlane(t, width, height, tracking.PlaneVertical)
}
