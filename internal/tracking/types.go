// Package tracking defines the contract between the placement engine and the
// spatial tracking subsystem: authorization, provider lifecycle, world
// anchors, plane anchors and device pose queries.
//
// Implementations must deliver anchor updates for a single provider in order
// on one channel and close that channel when the provider stops for good.
package tracking

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/spatial"
)

var (
	// ErrWorldAnchorLimitReached is returned by AddAnchor when the app already
	// owns the maximum number of world anchors.
	ErrWorldAnchorLimitReached = errors.New("world anchor limit reached")
	// ErrProviderNotRunning is returned for requests made while the provider
	// is not in the running state.
	ErrProviderNotRunning = errors.New("provider not running")
	// ErrProviderUnsupported is returned when a provider cannot run on this device.
	ErrProviderUnsupported = errors.New("provider unsupported")
	// ErrAnchorNotFound is returned by RemoveAnchor for unknown identifiers.
	ErrAnchorNotFound = errors.New("anchor not found")
	// ErrAuthorizationDenied is returned when a provider needs an
	// authorization the user has not granted.
	ErrAuthorizationDenied = errors.New("authorization denied")
)

// AuthorizationType names a permission a provider may require.
type AuthorizationType string

const (
	WorldSensing AuthorizationType = "world_sensing"
)

// AuthorizationStatus is the user's answer for one AuthorizationType.
type AuthorizationStatus string

const (
	AuthorizationNotDetermined AuthorizationStatus = "not_determined"
	AuthorizationAllowed       AuthorizationStatus = "allowed"
	AuthorizationDenied        AuthorizationStatus = "denied"
)

// ProviderState is the lifecycle state of a data provider.
type ProviderState string

const (
	ProviderInitialized ProviderState = "initialized"
	ProviderRunning     ProviderState = "running"
	ProviderPaused      ProviderState = "paused"
	ProviderStopped     ProviderState = "stopped"
)

// AnchorEvent is the kind of change an AnchorUpdate describes.
type AnchorEvent string

const (
	AnchorAdded   AnchorEvent = "added"
	AnchorUpdated AnchorEvent = "updated"
	AnchorRemoved AnchorEvent = "removed"
)

// Anchor is implemented by every anchor type a provider can publish.
type Anchor interface {
	AnchorID() uuid.UUID
}

// AnchorUpdate is one entry in a provider's anchor update stream.
type AnchorUpdate[A Anchor] struct {
	Event  AnchorEvent
	Anchor A
}

func (u AnchorUpdate[A]) String() string {
	return fmt.Sprintf("%s %s", u.Event, u.Anchor.AnchorID())
}

// WorldAnchor is a persistent point in space. Its ID is assigned when the
// anchor is created and survives app restarts.
type WorldAnchor struct {
	ID               uuid.UUID
	OriginFromAnchor spatial.Transform
	IsTracked        bool
}

// NewWorldAnchor allocates an anchor with a fresh identifier at t.
func NewWorldAnchor(t spatial.Transform) WorldAnchor {
	return WorldAnchor{ID: uuid.New(), OriginFromAnchor: t, IsTracked: true}
}

func (a WorldAnchor) AnchorID() uuid.UUID { return a.ID }

// PlaneAlignment is the orientation class of a detected plane.
type PlaneAlignment string

const (
	PlaneHorizontal PlaneAlignment = "horizontal"
	PlaneVertical   PlaneAlignment = "vertical"
	PlaneSlanted    PlaneAlignment = "slanted"
)

// PlaneGeometry is the triangulated outline of a plane in anchor-local
// coordinates. Faces holds three vertex indices per triangle.
type PlaneGeometry struct {
	Vertices []r3.Vec
	Faces    []uint16
}

// PlaneAnchor is a detected real-world planar surface.
type PlaneAnchor struct {
	ID               uuid.UUID
	OriginFromAnchor spatial.Transform
	Geometry         PlaneGeometry
	Alignment        PlaneAlignment
}

func (a PlaneAnchor) AnchorID() uuid.UUID { return a.ID }

// DeviceAnchor is the pose of the headset at a point in time.
type DeviceAnchor struct {
	OriginFromAnchor spatial.Transform
	IsTracked        bool
}
