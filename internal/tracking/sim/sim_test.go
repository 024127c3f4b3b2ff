package sim

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/planeplopper/internal/fsutil"
	"github.com/banshee-data/planeplopper/internal/spatial"
	"github.com/banshee-data/planeplopper/internal/tracking"
)

func runSession(t *testing.T, providers ...tracking.Provider) *Session {
	t.Helper()
	s := NewSession(tracking.AuthorizationAllowed)
	s.RequestAuthorization(context.Background(), tracking.WorldSensing)
	require.NoError(t, s.Run(context.Background(), providers...))
	t.Cleanup(s.Stop)
	return s
}

func nextWorld(t *testing.T, w *WorldTracking) tracking.AnchorUpdate[tracking.WorldAnchor] {
	t.Helper()
	select {
	case u := <-w.AnchorUpdates():
		return u
	case <-time.After(time.Second):
		t.Fatal("no world anchor update")
		return tracking.AnchorUpdate[tracking.WorldAnchor]{}
	}
}

func TestSession_RunRequiresAuthorization(t *testing.T) {
	s := NewSession(tracking.AuthorizationDenied)
	w, err := NewWorldTracking(WorldTrackingOptions{})
	require.NoError(t, err)

	got := s.RequestAuthorization(context.Background(), tracking.WorldSensing)
	assert.Equal(t, tracking.AuthorizationDenied, got[tracking.WorldSensing])

	err = s.Run(context.Background(), w)
	assert.ErrorIs(t, err, tracking.ErrAuthorizationDenied)
	assert.Equal(t, tracking.ProviderInitialized, w.State())
}

func TestSession_RunRejectsUnsupported(t *testing.T) {
	s := NewSession(tracking.AuthorizationAllowed)
	s.RequestAuthorization(context.Background(), tracking.WorldSensing)
	w, err := NewWorldTracking(WorldTrackingOptions{})
	require.NoError(t, err)
	p := NewPlaneDetection(false)

	err = s.Run(context.Background(), w, p)
	assert.ErrorIs(t, err, tracking.ErrProviderUnsupported)
	assert.Equal(t, tracking.ProviderInitialized, w.State(), "the set is rejected as a whole")
}

func TestSession_EventsReportStateChanges(t *testing.T) {
	w, err := NewWorldTracking(WorldTrackingOptions{})
	require.NoError(t, err)
	s := runSession(t, w)

	var kinds []tracking.SessionEventKind
	for len(kinds) < 2 {
		select {
		case ev := <-s.Events():
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("events so far: %v", kinds)
		}
	}
	assert.Equal(t, []tracking.SessionEventKind{tracking.EventAuthorizationChanged, tracking.EventProviderStateChanged}, kinds)

	failure := errors.New("tracking lost")
	w.Fail(failure)
	ev := <-s.Events()
	assert.Equal(t, tracking.ProviderStopped, ev.State)
	assert.ErrorIs(t, ev.Err, failure)

	_, open := <-w.AnchorUpdates()
	assert.False(t, open, "updates channel closes when the provider stops")
}

func TestWorldTracking_LimitReached(t *testing.T) {
	w, err := NewWorldTracking(WorldTrackingOptions{Limit: 1})
	require.NoError(t, err)
	runSession(t, w)

	require.NoError(t, w.AddAnchor(context.Background(), tracking.NewWorldAnchor(spatial.Identity())))
	assert.Equal(t, tracking.AnchorAdded, nextWorld(t, w).Event)

	err = w.AddAnchor(context.Background(), tracking.NewWorldAnchor(spatial.Identity()))
	assert.ErrorIs(t, err, tracking.ErrWorldAnchorLimitReached)
	assert.Len(t, w.Anchors(), 1)
}

func TestWorldTracking_NotRunning(t *testing.T) {
	w, err := NewWorldTracking(WorldTrackingOptions{})
	require.NoError(t, err)
	err = w.AddAnchor(context.Background(), tracking.NewWorldAnchor(spatial.Identity()))
	assert.ErrorIs(t, err, tracking.ErrProviderNotRunning)
	_, ok := w.QueryDeviceAnchor(time.Now())
	assert.False(t, ok)
}

func TestWorldTracking_InjectedFailuresApplyOnce(t *testing.T) {
	w, err := NewWorldTracking(WorldTrackingOptions{})
	require.NoError(t, err)
	runSession(t, w)

	boom := errors.New("boom")
	w.FailNextAdd(boom)
	assert.ErrorIs(t, w.AddAnchor(context.Background(), tracking.NewWorldAnchor(spatial.Identity())), boom)
	a := tracking.NewWorldAnchor(spatial.Identity())
	require.NoError(t, w.AddAnchor(context.Background(), a))

	w.FailNextRemove(boom)
	assert.ErrorIs(t, w.RemoveAnchor(context.Background(), a.ID), boom)
	require.NoError(t, w.RemoveAnchor(context.Background(), a.ID))
	assert.ErrorIs(t, w.RemoveAnchor(context.Background(), a.ID), tracking.ErrAnchorNotFound)
}

func TestWorldTracking_AnchorsSurviveRestart(t *testing.T) {
	file := filepath.Join(t.TempDir(), "anchors.json")
	pose := spatial.Translation(r3.Vec{X: 1, Y: 0.75, Z: -2})

	first, err := NewWorldTracking(WorldTrackingOptions{AnchorFile: file})
	require.NoError(t, err)
	s := NewSession(tracking.AuthorizationAllowed)
	s.RequestAuthorization(context.Background(), tracking.WorldSensing)
	require.NoError(t, s.Run(context.Background(), first))
	a := tracking.NewWorldAnchor(pose)
	require.NoError(t, first.AddAnchor(context.Background(), a))
	s.Stop()

	second, err := NewWorldTracking(WorldTrackingOptions{AnchorFile: file})
	require.NoError(t, err)
	runSession(t, second)

	u := nextWorld(t, second)
	assert.Equal(t, tracking.AnchorAdded, u.Event)
	assert.Equal(t, a.ID, u.Anchor.ID)
	assert.True(t, spatial.ApproxEqual(pose, u.Anchor.OriginFromAnchor, 1e-9))
}

func TestWorldTracking_AnchorFileInMemory(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	w, err := NewWorldTracking(WorldTrackingOptions{AnchorFile: "/state/anchors.json", FS: mfs})
	require.NoError(t, err)
	runSession(t, w)

	a := tracking.NewWorldAnchor(spatial.Translation(r3.Vec{Z: -1}))
	require.NoError(t, w.AddAnchor(context.Background(), a))
	assert.Equal(t, []string{"/state/anchors.json"}, mfs.Files())

	// A failed write is logged; the anchor still exists in the session.
	mfs.FailWrites = errors.New("disk full")
	b := tracking.NewWorldAnchor(spatial.Identity())
	require.NoError(t, w.AddAnchor(context.Background(), b))
	mfs.FailWrites = nil

	restored, err := NewWorldTracking(WorldTrackingOptions{AnchorFile: "/state/anchors.json", FS: mfs})
	require.NoError(t, err)
	runSession(t, restored)
	u := nextWorld(t, restored)
	assert.Equal(t, a.ID, u.Anchor.ID)
	assert.True(t, u.Anchor.IsTracked)
}

func TestWorldTracking_CorruptAnchorFile(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/anchors.json", []byte("{not json"), 0o644))

	_, err := NewWorldTracking(WorldTrackingOptions{AnchorFile: "/anchors.json", FS: mfs})
	assert.ErrorContains(t, err, "failed to parse anchor file")
}

func TestWorldTracking_SetTrackedPublishesUpdate(t *testing.T) {
	w, err := NewWorldTracking(WorldTrackingOptions{})
	require.NoError(t, err)
	runSession(t, w)
	a := tracking.NewWorldAnchor(spatial.Identity())
	require.NoError(t, w.AddAnchor(context.Background(), a))
	nextWorld(t, w)

	require.NoError(t, w.SetTracked(a.ID, false))
	u := nextWorld(t, w)
	assert.Equal(t, tracking.AnchorUpdated, u.Event)
	assert.False(t, u.Anchor.IsTracked)
}

func TestPlaneDetection_AddedThenUpdated(t *testing.T) {
	p := NewPlaneDetection(true)
	runSession(t, p)

	floor := Floor(0, 2)
	p.InjectPlane(floor)
	p.InjectPlane(floor)
	require.NoError(t, p.RemovePlane(floor.ID))

	var events []tracking.AnchorEvent
	for i := 0; i < 3; i++ {
		events = append(events, (<-p.AnchorUpdates()).Event)
	}
	assert.Equal(t, []tracking.AnchorEvent{tracking.AnchorAdded, tracking.AnchorUpdated, tracking.AnchorRemoved}, events)
	assert.Equal(t, 0, p.Planes())
}

func TestWall_NormalFacesZ(t *testing.T) {
	wall := Wall(r3.Vec{Z: -1}, 2, 2)
	g := wall.Geometry
	a := wall.OriginFromAnchor.Apply(g.Vertices[g.Faces[0]])
	b := wall.OriginFromAnchor.Apply(g.Vertices[g.Faces[1]])
	c := wall.OriginFromAnchor.Apply(g.Vertices[g.Faces[2]])
	n := spatial.TriangleNormal(a, b, c)
	assert.InDelta(t, 1, n.Z, 1e-9)
}
