package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/planeplopper/internal/fsutil"
	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/spatial"
	"github.com/banshee-data/planeplopper/internal/tracking"
)

// DefaultWorldAnchorLimit is the number of world anchors one app may own.
const DefaultWorldAnchorLimit = 30

// WorldTrackingOptions configures NewWorldTracking.
type WorldTrackingOptions struct {
	// Limit caps the number of live world anchors. Zero means
	// DefaultWorldAnchorLimit.
	Limit int
	// AnchorFile, when set, persists world anchors across restarts.
	AnchorFile string
	// FS is where AnchorFile lives. Nil means the OS filesystem.
	FS fsutil.FileSystem
	// Unsupported marks the provider as unable to run on this device.
	Unsupported bool
}

// WorldTracking simulates a world tracking provider.
type WorldTracking struct {
	lifecycle

	limit   int
	file    string
	fs      fsutil.FileSystem
	anchors map[uuid.UUID]tracking.WorldAnchor
	updates chan tracking.AnchorUpdate[tracking.WorldAnchor]

	pose    tracking.DeviceAnchor
	hasPose bool

	addErr    error
	removeErr error
}

var _ tracking.WorldTracker = (*WorldTracking)(nil)

// NewWorldTracking creates a world tracking provider. Anchors found in
// opts.AnchorFile are restored and reported as added once the provider
// starts running.
func NewWorldTracking(opts WorldTrackingOptions) (*WorldTracking, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultWorldAnchorLimit
	}
	w := &WorldTracking{
		limit:   limit,
		file:    opts.AnchorFile,
		fs:      opts.FS,
		anchors: make(map[uuid.UUID]tracking.WorldAnchor),
		updates: make(chan tracking.AnchorUpdate[tracking.WorldAnchor], updateBuffer),
	}
	if w.fs == nil {
		w.fs = fsutil.OSFileSystem{}
	}
	w.init("world_tracking", !opts.Unsupported, tracking.WorldSensing)
	if w.file != "" {
		restored, err := loadAnchorFile(w.fs, w.file)
		if err != nil {
			return nil, err
		}
		for _, a := range restored {
			w.anchors[a.ID] = a
		}
	}
	return w, nil
}

func (w *WorldTracking) start(emit func(tracking.SessionEvent)) {
	w.mu.Lock()
	w.emit = emit
	w.mu.Unlock()
	w.setState(tracking.ProviderRunning, nil)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range w.sortedLocked() {
		w.publishLocked(tracking.AnchorAdded, a)
	}
}

func (w *WorldTracking) stop(err error) {
	w.halt(err, func() { close(w.updates) })
}

// Fail stops the provider with err, as a tracking failure would.
func (w *WorldTracking) Fail(err error) { w.stop(err) }

// AnchorUpdates implements tracking.WorldTracker.
func (w *WorldTracking) AnchorUpdates() <-chan tracking.AnchorUpdate[tracking.WorldAnchor] {
	return w.updates
}

// AddAnchor implements tracking.WorldTracker. The added event is published
// before AddAnchor returns.
func (w *WorldTracking) AddAnchor(ctx context.Context, anchor tracking.WorldAnchor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running() {
		return tracking.ErrProviderNotRunning
	}
	if err := w.addErr; err != nil {
		w.addErr = nil
		return err
	}
	if _, exists := w.anchors[anchor.ID]; !exists && len(w.anchors) >= w.limit {
		return tracking.ErrWorldAnchorLimitReached
	}
	w.anchors[anchor.ID] = anchor
	w.persistLocked()
	w.publishLocked(tracking.AnchorAdded, anchor)
	return nil
}

// RemoveAnchor implements tracking.WorldTracker.
func (w *WorldTracking) RemoveAnchor(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running() {
		return tracking.ErrProviderNotRunning
	}
	if err := w.removeErr; err != nil {
		w.removeErr = nil
		return err
	}
	a, ok := w.anchors[id]
	if !ok {
		return fmt.Errorf("%w: %s", tracking.ErrAnchorNotFound, id)
	}
	delete(w.anchors, id)
	w.persistLocked()
	w.publishLocked(tracking.AnchorRemoved, a)
	return nil
}

// QueryDeviceAnchor implements tracking.WorldTracker.
func (w *WorldTracking) QueryDeviceAnchor(time.Time) (tracking.DeviceAnchor, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running() || !w.hasPose {
		return tracking.DeviceAnchor{}, false
	}
	return w.pose, true
}

// SetDevicePose sets the pose returned by QueryDeviceAnchor.
func (w *WorldTracking) SetDevicePose(t spatial.Transform, tracked bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pose = tracking.DeviceAnchor{OriginFromAnchor: t, IsTracked: tracked}
	w.hasPose = true
}

// ClearDevicePose makes QueryDeviceAnchor report no pose.
func (w *WorldTracking) ClearDevicePose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hasPose = false
}

// SetTracked changes whether an anchor is localized and publishes an
// updated event for it.
func (w *WorldTracking) SetTracked(id uuid.UUID, tracked bool) error {
	return w.mutate(id, func(a *tracking.WorldAnchor) { a.IsTracked = tracked })
}

// MoveAnchor relocalizes an anchor to t and publishes an updated event.
func (w *WorldTracking) MoveAnchor(id uuid.UUID, t spatial.Transform) error {
	return w.mutate(id, func(a *tracking.WorldAnchor) { a.OriginFromAnchor = t })
}

func (w *WorldTracking) mutate(id uuid.UUID, fn func(*tracking.WorldAnchor)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.anchors[id]
	if !ok {
		return fmt.Errorf("%w: %s", tracking.ErrAnchorNotFound, id)
	}
	fn(&a)
	w.anchors[id] = a
	w.persistLocked()
	w.publishLocked(tracking.AnchorUpdated, a)
	return nil
}

// InjectAnchor registers an anchor the app did not request, for example one
// left behind by a crashed session, and publishes it as added.
func (w *WorldTracking) InjectAnchor(a tracking.WorldAnchor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.anchors[a.ID] = a
	w.persistLocked()
	w.publishLocked(tracking.AnchorAdded, a)
}

// FailNextAdd makes the next AddAnchor call return err.
func (w *WorldTracking) FailNextAdd(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addErr = err
}

// FailNextRemove makes the next RemoveAnchor call return err.
func (w *WorldTracking) FailNextRemove(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeErr = err
}

// Anchors returns the live anchors ordered by identifier.
func (w *WorldTracking) Anchors() []tracking.WorldAnchor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sortedLocked()
}

// Limit returns the anchor capacity.
func (w *WorldTracking) Limit() int { return w.limit }

func (w *WorldTracking) sortedLocked() []tracking.WorldAnchor {
	out := make([]tracking.WorldAnchor, 0, len(w.anchors))
	for _, a := range w.anchors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (w *WorldTracking) publishLocked(event tracking.AnchorEvent, a tracking.WorldAnchor) {
	if !w.running() {
		return
	}
	select {
	case w.updates <- tracking.AnchorUpdate[tracking.WorldAnchor]{Event: event, Anchor: a}:
	case <-w.done:
	}
}

func (w *WorldTracking) persistLocked() {
	if w.file == "" {
		return
	}
	if err := writeAnchorFile(w.fs, w.file, w.sortedLocked()); err != nil {
		monitoring.Logf("[sim] failed to persist world anchors: %v", err)
	}
}

type anchorRecord struct {
	ID               uuid.UUID   `json:"id"`
	OriginFromAnchor [16]float64 `json:"origin_from_anchor"`
}

type anchorFile struct {
	Anchors []anchorRecord `json:"anchors"`
}

func loadAnchorFile(fsys fsutil.FileSystem, path string) ([]tracking.WorldAnchor, error) {
	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read anchor file: %w", err)
	}
	var f anchorFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse anchor file %s: %w", path, err)
	}
	out := make([]tracking.WorldAnchor, 0, len(f.Anchors))
	for _, r := range f.Anchors {
		if !spatial.IsValidMatrix(r.OriginFromAnchor) {
			monitoring.Logf("[sim] skipping anchor %s with invalid transform", r.ID)
			continue
		}
		out = append(out, tracking.WorldAnchor{
			ID:               r.ID,
			OriginFromAnchor: spatial.FromMatrix(r.OriginFromAnchor),
			IsTracked:        true,
		})
	}
	return out, nil
}

func writeAnchorFile(fsys fsutil.FileSystem, path string, anchors []tracking.WorldAnchor) error {
	f := anchorFile{Anchors: make([]anchorRecord, 0, len(anchors))}
	for _, a := range anchors {
		f.Anchors = append(f.Anchors, anchorRecord{ID: a.ID, OriginFromAnchor: a.OriginFromAnchor.Matrix()})
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(fsys, path, data, 0o644)
}
