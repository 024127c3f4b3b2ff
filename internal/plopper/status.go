package plopper

import (
	"context"
	"sort"

	"github.com/banshee-data/planeplopper/internal/anchoring"
	"github.com/banshee-data/planeplopper/internal/cursor"
	"github.com/banshee-data/planeplopper/internal/debugview"
	"github.com/banshee-data/planeplopper/internal/tracking"
	"github.com/banshee-data/planeplopper/internal/version"
)

// CursorStatus is the published cursor as plain values.
type CursorStatus struct {
	Found    bool       `json:"found"`
	Position [3]float64 `json:"position"`
}

// Status is a point-in-time report for the API.
type Status struct {
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`

	Authorization             tracking.AuthorizationStatus `json:"authorization"`
	SessionRunning            bool                         `json:"session_running"`
	ProvidersStoppedWithError bool                         `json:"providers_stopped_with_error"`
	CanEnterImmersiveSpace    bool                         `json:"can_enter_immersive_space"`
	WorldTracking             tracking.ProviderState       `json:"world_tracking"`
	PlaneDetection            tracking.ProviderState       `json:"plane_detection"`

	Cursor              CursorStatus `json:"cursor"`
	DeviceAnchorPresent bool         `json:"device_anchor_present"`
	PlaneAnchorsPresent bool         `json:"plane_anchors_present"`
	CursorStats         cursor.Stats `json:"cursor_stats"`

	Planes        int             `json:"planes"`
	DroppedPlanes int             `json:"dropped_planes"`
	BoundAnchors  int             `json:"bound_anchors"`
	Objects       int             `json:"objects"`
	UnsavedObject int             `json:"unsaved_objects"`
	Reconciler    anchoring.Stats `json:"reconciler"`
	JobsInFlight  int             `json:"jobs_in_flight"`
	JobsFailed    int             `json:"jobs_failed"`
}

// Status collects a report. Owner state is read on the owner loop.
func (p *PlanePlopper) Status(ctx context.Context) (Status, error) {
	st := Status{
		Version:                   version.Version,
		GitSHA:                    version.GitSHA,
		Authorization:             p.adapter.AuthorizationStatus(),
		SessionRunning:            p.adapter.Running(),
		ProvidersStoppedWithError: p.adapter.ProvidersStoppedWithError(),
		CanEnterImmersiveSpace:    p.adapter.CanEnterImmersiveSpace(),
		WorldTracking:             p.world.State(),
		PlaneDetection:            p.detector.State(),
		Objects:                   len(p.store.Models()),
		UnsavedObject:             p.store.Dirty(),
	}
	st.JobsInFlight, st.JobsFailed = p.jobs.Stats()

	err := p.loop.Do(ctx, func() {
		c := p.solver.State()
		st.Cursor.Found = c.Found
		if c.Found {
			pos := c.Transform.Position
			st.Cursor.Position = [3]float64{pos.X, pos.Y, pos.Z}
		}
		st.DeviceAnchorPresent = p.solver.DeviceAnchorPresent()
		st.PlaneAnchorsPresent = p.solver.PlaneAnchorsPresent()
		st.CursorStats = p.solver.Stats()
		st.Planes = p.planes.Len()
		st.DroppedPlanes = p.planes.Dropped()
		st.BoundAnchors = len(p.reconciler.Bound())
		st.Reconciler = p.reconciler.Stats()
	})
	return st, err
}

// Map implements debugview.Source.
func (p *PlanePlopper) Map(ctx context.Context) (debugview.MapSnapshot, error) {
	snap := debugview.MapSnapshot{Taken: p.clock.Now()}
	err := p.loop.Do(ctx, func() {
		for _, a := range p.planes.PlaneAnchors() {
			plane := debugview.Plane{ID: a.ID, Alignment: string(a.Alignment)}
			for _, v := range a.Geometry.Vertices {
				w := a.OriginFromAnchor.Apply(v)
				plane.Outline = append(plane.Outline, debugview.Point{X: w.X, Z: w.Z})
			}
			snap.Planes = append(snap.Planes, plane)
		}
		sort.Slice(snap.Planes, func(i, j int) bool { return snap.Planes[i].ID.String() < snap.Planes[j].ID.String() })

		for _, b := range p.reconciler.Snapshot() {
			snap.Anchors = append(snap.Anchors, debugview.Anchor{
				ID:      b.AnchorID,
				Point:   debugview.Point{X: b.Position[0], Z: b.Position[2]},
				State:   string(b.State),
				Tracked: b.Tracked,
			})
		}

		if c := p.solver.State(); c.Found {
			snap.Cursor = &debugview.Point{X: c.Transform.Position.X, Z: c.Transform.Position.Z}
		}
		if p.solver.DeviceAnchorPresent() {
			d := p.entities.DeviceLocation.Transform().Position
			snap.Device = &debugview.Point{X: d.X, Z: d.Z}
		}
	})
	return snap, err
}

var _ debugview.Source = (*PlanePlopper)(nil)
