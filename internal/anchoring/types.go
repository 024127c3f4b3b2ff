// Package anchoring keeps placed objects, their render content and the
// tracking subsystem's world anchors in agreement.
//
// Every world anchor identifier moves through a small state machine:
//
//	Unbound  known to the subsystem, no object associated
//	Pending  requested by a placement commit, not yet confirmed
//	Bound    associated with exactly one placed object
//	Removed  reported removed by the subsystem (terminal)
//
// All methods on Reconciler must be called from the owner loop.
package anchoring

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/planeplopper/internal/scene"
	"github.com/banshee-data/planeplopper/internal/tracking"
)

// State is the reconciliation state of one world anchor identifier.
type State string

const (
	Unbound State = "unbound"
	Pending State = "pending"
	Bound   State = "bound"
	Removed State = "removed"
)

// AnchorableObject is a placed object owned by the data source.
type AnchorableObject interface {
	// ObjectID identifies the object in storage.
	ObjectID() uuid.UUID
	// RenderContent returns the object's scene content, or nil.
	RenderContent() *scene.Entity
	// WorldAnchorID returns the associated anchor, if any.
	WorldAnchorID() (uuid.UUID, bool)
}

// DataSource is the storage collaborator. It owns the index from world
// anchor identifier to placed object and rebuilds it from persisted state
// at startup.
type DataSource interface {
	// RenderContentForAnchor returns the content of the object associated
	// with id, or nil when there is none.
	RenderContentForAnchor(id uuid.UUID) *scene.Entity
	// Associate records and persists obj as the owner of anchor id.
	Associate(obj AnchorableObject, id uuid.UUID)
	// ShouldRemoveAnchor decides whether an anchor with no object is an
	// orphan that should be deleted.
	ShouldRemoveAnchor(id uuid.UUID) bool
	// Insert creates a fresh placed object.
	Insert() AnchorableObject
	// RemoveAll deletes every placed object and detaches its content.
	RemoveAll()
}

// Discarder is implemented by data sources that can drop an inserted
// object that never got an anchor.
type Discarder interface {
	Discard(obj AnchorableObject)
}

// AnchorService is the world anchor API of the tracking subsystem.
type AnchorService interface {
	AddAnchor(ctx context.Context, anchor tracking.WorldAnchor) error
	RemoveAnchor(ctx context.Context, id uuid.UUID) error
}

// UntrackedPolicy decides what happens to content whose anchor stops being
// localized.
type UntrackedPolicy string

const (
	// DetachOnUntracked removes the content from the scene so no stale
	// collidable geometry lingers.
	DetachOnUntracked UntrackedPolicy = "detach"
	// HideOnUntracked keeps the content attached but disabled.
	HideOnUntracked UntrackedPolicy = "hide"
)

// ParseUntrackedPolicy validates a policy name. The empty string selects
// DetachOnUntracked.
func ParseUntrackedPolicy(s string) (UntrackedPolicy, error) {
	switch UntrackedPolicy(s) {
	case "", DetachOnUntracked:
		return DetachOnUntracked, nil
	case HideOnUntracked:
		return HideOnUntracked, nil
	}
	return "", fmt.Errorf("unknown untracked policy %q (want %q or %q)", s, DetachOnUntracked, HideOnUntracked)
}

// Binding is a read-only view of one identifier's record.
type Binding struct {
	AnchorID         uuid.UUID  `json:"anchor_id"`
	State            State      `json:"state"`
	ObjectID         *uuid.UUID `json:"object_id,omitempty"`
	Tracked          bool       `json:"tracked"`
	Attached         bool       `json:"attached"`
	RemovalRequested bool       `json:"removal_requested"`
	Position         [3]float64 `json:"position"`
}

// Stats counts reconciler outcomes.
type Stats struct {
	Commits        int `json:"commits"`
	CommitFailures int `json:"commit_failures"`
	LimitReached   int `json:"limit_reached"`
	OrphanRemovals int `json:"orphan_removals"`
	DeferredEvents int `json:"deferred_events"`
	IgnoredEvents  int `json:"ignored_events"`
}
