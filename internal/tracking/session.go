package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Provider is a data provider that runs inside a Session.
type Provider interface {
	Name() string
	State() ProviderState
	// IsSupported reports whether the provider can run on this device.
	IsSupported() bool
	// RequiredAuthorizations lists the permissions the provider needs.
	RequiredAuthorizations() []AuthorizationType
}

// WorldTracker tracks the device and the app's world anchors.
type WorldTracker interface {
	Provider
	// AddAnchor registers a new world anchor. It can fail with
	// ErrWorldAnchorLimitReached.
	AddAnchor(ctx context.Context, anchor WorldAnchor) error
	// RemoveAnchor unregisters a world anchor by identifier.
	RemoveAnchor(ctx context.Context, id uuid.UUID) error
	// QueryDeviceAnchor returns the device pose at timestamp, if known.
	QueryDeviceAnchor(timestamp time.Time) (DeviceAnchor, bool)
	// AnchorUpdates streams world anchor changes. Anchors persisted by an
	// earlier session are reported as added once the provider runs.
	AnchorUpdates() <-chan AnchorUpdate[WorldAnchor]
}

// PlaneDetector reports detected planar surfaces.
type PlaneDetector interface {
	Provider
	AnchorUpdates() <-chan AnchorUpdate[PlaneAnchor]
}

// SessionEventKind discriminates SessionEvent.
type SessionEventKind string

const (
	EventProviderStateChanged SessionEventKind = "provider_state_changed"
	EventAuthorizationChanged SessionEventKind = "authorization_changed"
)

// SessionEvent is a session-level notification. Only the fields matching
// Kind are populated.
type SessionEvent struct {
	Kind SessionEventKind

	// EventProviderStateChanged
	Providers []string
	State     ProviderState
	Err       error

	// EventAuthorizationChanged
	Authorization AuthorizationType
	Status        AuthorizationStatus
}

// Session owns a set of running providers.
type Session interface {
	// RequestAuthorization prompts for the given permissions when needed
	// and returns the resulting status of each.
	RequestAuthorization(ctx context.Context, types ...AuthorizationType) map[AuthorizationType]AuthorizationStatus
	// QueryAuthorization returns the current status without prompting.
	QueryAuthorization(ctx context.Context, types ...AuthorizationType) map[AuthorizationType]AuthorizationStatus
	// Run starts the providers. It fails if any provider is unsupported or
	// lacks authorization.
	Run(ctx context.Context, providers ...Provider) error
	// Events streams session events until the session is stopped.
	Events() <-chan SessionEvent
	// Stop stops every provider and closes all streams.
	Stop()
}
