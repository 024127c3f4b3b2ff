package anchoring

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/banshee-data/planeplopper/internal/actor"
	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/scene"
	"github.com/banshee-data/planeplopper/internal/spatial"
	"github.com/banshee-data/planeplopper/internal/tracking"
)

type record struct {
	state  State
	object AnchorableObject

	anchor tracking.WorldAnchor
	seen   bool

	removalRequested bool
	// cancelled marks a pending commit whose object was deleted before
	// the anchor was confirmed.
	cancelled bool
	deferred  []tracking.AnchorUpdate[tracking.WorldAnchor]
}

// Reconciler maps world anchors to placed objects.
type Reconciler struct {
	ds      DataSource
	anchors AnchorService
	root    *scene.Entity
	owner   actor.Executor
	jobs    actor.Spawner
	policy  UntrackedPolicy

	records map[uuid.UUID]*record
	stats   Stats
}

// NewReconciler creates a reconciler. Commit results are handed back to
// the owner loop through owner; anchor requests run on jobs.
func NewReconciler(ds DataSource, anchors AnchorService, root *scene.Entity, owner actor.Executor, jobs actor.Spawner, policy UntrackedPolicy) *Reconciler {
	if policy == "" {
		policy = DetachOnUntracked
	}
	return &Reconciler{
		ds:      ds,
		anchors: anchors,
		root:    root,
		owner:   owner,
		jobs:    jobs,
		policy:  policy,
		records: make(map[uuid.UUID]*record),
	}
}

// Commit positions obj's content at the placement transform, attaches it
// and asks the subsystem for a world anchor there. The anchor identifier is
// returned immediately; the outcome is applied later on the owner loop.
func (r *Reconciler) Commit(obj AnchorableObject, at spatial.Transform) uuid.UUID {
	if content := obj.RenderContent(); content != nil {
		content.SetTransform(at)
		content.SetEnabled(true)
		r.root.AddChild(content)
	}

	anchor := tracking.NewWorldAnchor(at)
	r.records[anchor.ID] = &record{state: Pending, object: obj, anchor: anchor}

	r.jobs.Go("add world anchor "+anchor.ID.String(), func(ctx context.Context) error {
		err := r.anchors.AddAnchor(ctx, anchor)
		if !r.owner.Post(func() { r.resolveCommit(anchor.ID, err) }) {
			return actor.ErrLoopStopped
		}
		return nil
	})
	return anchor.ID
}

func (r *Reconciler) resolveCommit(id uuid.UUID, err error) {
	rec, ok := r.records[id]
	if !ok || rec.state != Pending {
		return
	}
	obj := rec.object

	if err != nil {
		delete(r.records, id)
		r.stats.CommitFailures++
		if content := obj.RenderContent(); content != nil {
			content.RemoveFromParent()
		}
		if d, ok := r.ds.(Discarder); ok {
			d.Discard(obj)
		}
		if errors.Is(err, tracking.ErrWorldAnchorLimitReached) {
			r.stats.LimitReached++
			monitoring.Logf("[reconciler] world anchor limit reached, discarding object %s", obj.ObjectID())
		} else {
			monitoring.Logf("[reconciler] failed to add world anchor for object %s: %v", obj.ObjectID(), err)
		}
		if n := len(rec.deferred); n > 0 {
			monitoring.Logf("[reconciler] dropping %d events for failed anchor %s", n, id)
		}
		return
	}

	if rec.cancelled {
		// The object was deleted while the request was in flight. The
		// anchor now exists with nothing to show.
		rec.state = Unbound
		rec.object = nil
		if content := obj.RenderContent(); content != nil {
			content.RemoveFromParent()
		}
		r.requestRemoval(id, rec)
	} else {
		r.ds.Associate(obj, id)
		rec.state = Bound
		r.stats.Commits++
		monitoring.Logf("[reconciler] bound object %s to world anchor %s", obj.ObjectID(), id)
	}

	deferred := rec.deferred
	rec.deferred = nil
	for _, u := range deferred {
		r.Process(u)
	}
}

// Process applies one world anchor update.
func (r *Reconciler) Process(u tracking.AnchorUpdate[tracking.WorldAnchor]) {
	id := u.Anchor.ID
	rec := r.records[id]

	if rec != nil && rec.state == Pending {
		rec.deferred = append(rec.deferred, u)
		r.stats.DeferredEvents++
		return
	}
	if rec != nil && rec.state == Removed {
		r.stats.IgnoredEvents++
		monitoring.Debugf("[reconciler] ignoring %s for removed anchor", u)
		return
	}
	if rec == nil {
		rec = &record{state: Unbound}
		r.records[id] = rec
	}

	switch u.Event {
	case tracking.AnchorAdded:
		if content := r.ds.RenderContentForAnchor(id); content != nil {
			rec.state = Bound
			r.root.AddChild(content)
		} else if !rec.removalRequested && r.ds.ShouldRemoveAnchor(id) {
			r.requestRemoval(id, rec)
			r.stats.OrphanRemovals++
		}
		r.sync(rec, u.Anchor)
	case tracking.AnchorUpdated:
		r.sync(rec, u.Anchor)
	case tracking.AnchorRemoved:
		rec.anchor = u.Anchor
		rec.seen = true
		rec.state = Removed
		if content := r.ds.RenderContentForAnchor(id); content != nil {
			content.RemoveFromParent()
		}
	default:
		monitoring.Logf("[reconciler] unknown anchor event %q for %s", u.Event, id)
	}
}

// sync aligns an object's content with its anchor.
func (r *Reconciler) sync(rec *record, anchor tracking.WorldAnchor) {
	rec.anchor = anchor
	rec.seen = true

	content := r.ds.RenderContentForAnchor(anchor.ID)
	if content == nil {
		return
	}
	rec.state = Bound
	content.SetTransform(anchor.OriginFromAnchor)

	if anchor.IsTracked {
		content.SetEnabled(true)
		r.root.AddChild(content)
		return
	}
	switch r.policy {
	case HideOnUntracked:
		content.SetEnabled(false)
		r.root.AddChild(content)
	default:
		content.SetEnabled(false)
		content.RemoveFromParent()
	}
}

// RemoveAnchorWithID asks the subsystem to delete an anchor. It does not
// wait and failures are only logged.
func (r *Reconciler) RemoveAnchorWithID(id uuid.UUID) {
	rec := r.records[id]
	if rec == nil {
		rec = &record{state: Unbound}
		r.records[id] = rec
	}
	r.requestRemoval(id, rec)
}

func (r *Reconciler) requestRemoval(id uuid.UUID, rec *record) {
	rec.removalRequested = true
	r.jobs.Go("remove world anchor "+id.String(), func(ctx context.Context) error {
		return r.anchors.RemoveAnchor(ctx, id)
	})
}

// RemoveAll deletes every placed object and requests removal of the
// anchors they were bound to.
func (r *Reconciler) RemoveAll() {
	var bound []uuid.UUID
	for id, rec := range r.records {
		switch rec.state {
		case Bound:
			bound = append(bound, id)
		case Pending:
			rec.cancelled = true
		}
	}
	r.ds.RemoveAll()

	sort.Slice(bound, func(i, j int) bool { return bound[i].String() < bound[j].String() })
	for _, id := range bound {
		rec := r.records[id]
		rec.state = Unbound
		rec.object = nil
		r.requestRemoval(id, rec)
	}
	monitoring.Logf("[reconciler] removed all objects, released %d anchors", len(bound))
}

// State returns the state of id. Unknown identifiers are Unbound.
func (r *Reconciler) State(id uuid.UUID) State {
	if rec, ok := r.records[id]; ok {
		return rec.state
	}
	return Unbound
}

// Bound returns the identifiers currently bound to an object, sorted.
func (r *Reconciler) Bound() []uuid.UUID {
	var out []uuid.UUID
	for id, rec := range r.records {
		if rec.state == Bound {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Snapshot returns every known identifier, sorted.
func (r *Reconciler) Snapshot() []Binding {
	out := make([]Binding, 0, len(r.records))
	for id, rec := range r.records {
		b := Binding{
			AnchorID:         id,
			State:            rec.state,
			Tracked:          rec.seen && rec.anchor.IsTracked,
			RemovalRequested: rec.removalRequested,
		}
		if rec.object != nil {
			oid := rec.object.ObjectID()
			b.ObjectID = &oid
		}
		if rec.state == Pending || rec.seen {
			p := rec.anchor.OriginFromAnchor.Position
			b.Position = [3]float64{p.X, p.Y, p.Z}
		}
		if content := r.ds.RenderContentForAnchor(id); content != nil {
			b.Attached = content.Parent() == r.root
		} else if rec.object != nil {
			if content := rec.object.RenderContent(); content != nil {
				b.Attached = content.Parent() == r.root
			}
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnchorID.String() < out[j].AnchorID.String() })
	return out
}

// Stats returns outcome counters.
func (r *Reconciler) Stats() Stats { return r.stats }
