// Package plopper wires the session adapter, plane tracker, cursor solver
// and world anchor reconciler around a single owner loop.
package plopper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/planeplopper/internal/actor"
	"github.com/banshee-data/planeplopper/internal/anchoring"
	"github.com/banshee-data/planeplopper/internal/config"
	"github.com/banshee-data/planeplopper/internal/cursor"
	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/planes"
	"github.com/banshee-data/planeplopper/internal/poller"
	"github.com/banshee-data/planeplopper/internal/scene"
	"github.com/banshee-data/planeplopper/internal/session"
	"github.com/banshee-data/planeplopper/internal/store"
	"github.com/banshee-data/planeplopper/internal/timeutil"
	"github.com/banshee-data/planeplopper/internal/tracking"
)

var (
	// ErrNoTarget is returned by Place when the cursor has no valid surface.
	ErrNoTarget = errors.New("no placement target")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("plopper already running")
)

// Options configures New.
type Options struct {
	Config  *config.Config
	Clock   timeutil.Clock
	Session tracking.Session
	World   tracking.WorldTracker
	Planes  tracking.PlaneDetector
	Store   *store.Store
}

// PlanePlopper places objects on detected surfaces and keeps them pinned to
// world anchors across sessions.
type PlanePlopper struct {
	cfg   *config.Config
	clock timeutil.Clock

	loop    *actor.Loop
	jobs    *actor.Jobs
	stopJob context.CancelFunc

	world    tracking.WorldTracker
	detector tracking.PlaneDetector
	store    *store.Store

	root       *scene.Entity
	entities   *cursor.Entities
	adapter    *session.Adapter
	planes     *planes.Tracker
	solver     *cursor.Solver
	reconciler *anchoring.Reconciler

	mu      sync.Mutex
	started bool
}

// New builds a plopper. Nothing runs until Run is called.
func New(opts Options) (*PlanePlopper, error) {
	if opts.Session == nil || opts.World == nil || opts.Planes == nil {
		return nil, fmt.Errorf("session, world tracking and plane detection are required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.EmptyConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	jobCtx, stopJob := context.WithCancel(context.Background())
	p := &PlanePlopper{
		cfg:      cfg,
		clock:    clock,
		loop:     actor.NewLoop(),
		jobs:     actor.NewJobs(jobCtx),
		stopJob:  stopJob,
		world:    opts.World,
		detector: opts.Planes,
		store:    opts.Store,
		root:     scene.NewEntity("root"),
	}
	p.entities = cursor.NewEntities(p.root, cfg.CursorConfig())
	p.adapter = session.NewAdapter(opts.Session, opts.World, opts.Planes)
	p.planes = planes.NewTracker(p.root)
	p.solver = cursor.NewSolver(cfg.CursorConfig(), opts.World, p.planes, clock, p.entities)
	p.reconciler = anchoring.NewReconciler(opts.Store, opts.World, p.root, p.loop, p.jobs, cfg.Policy())
	return p, nil
}

// Adapter exposes the session adapter for health reporting.
func (p *PlanePlopper) Adapter() *session.Adapter { return p.adapter }

// Run authorizes, begins the session and drives the anchor streams and the
// cursor poller until ctx is cancelled. It can be called once.
func (p *PlanePlopper) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.started = true
	p.mu.Unlock()

	// The owner loop outlives ctx so detached jobs can still hand results
	// back while shutting down.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go func() {
		if err := p.loop.Run(loopCtx); err != nil {
			monitoring.Logf("[plopper] owner loop exited: %v", err)
		}
	}()
	defer func() {
		p.stopJob()
		p.jobs.Wait()
		stopLoop()
		<-p.loop.Done()
	}()

	if status := p.adapter.RequestAuthorization(ctx); status != tracking.AuthorizationAllowed {
		monitoring.Logf("[plopper] world sensing authorization is %s", status)
	}
	if err := p.adapter.BeginSession(ctx); err != nil {
		return err
	}
	monitoring.Logf("[plopper] session running, polling cursor at %d Hz", p.cfg.GetPollHz())

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		p.adapter.MonitorEvents(ctx)
	}()
	go func() {
		defer wg.Done()
		p.consumeWorldAnchors(ctx)
	}()
	go func() {
		defer wg.Done()
		p.consumePlanes(ctx)
	}()
	go func() {
		defer wg.Done()
		err := poller.Run(ctx, p.clock, p.cfg.GetPollHz(), func(ctx context.Context) {
			if err := p.loop.Do(ctx, p.solver.Tick); err != nil && ctx.Err() == nil {
				monitoring.Logf("[plopper] cursor tick: %v", err)
			}
		})
		if err != nil {
			monitoring.Logf("[plopper] poller: %v", err)
		}
	}()

	<-ctx.Done()
	p.adapter.EndSession()
	wg.Wait()
	monitoring.Logf("[plopper] session ended")
	return nil
}

func (p *PlanePlopper) consumeWorldAnchors(ctx context.Context) {
	updates := p.world.AnchorUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			monitoring.Debugf("[plopper] world anchor %s", u)
			if err := p.loop.Do(ctx, func() { p.reconciler.Process(u) }); err != nil {
				return
			}
		}
	}
}

func (p *PlanePlopper) consumePlanes(ctx context.Context) {
	updates := p.detector.AnchorUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			monitoring.Debugf("[plopper] plane %s", u)
			if err := p.loop.Do(ctx, func() { p.planes.Process(u) }); err != nil {
				return
			}
		}
	}
}

// Place inserts a new object at the cursor and commits it to a world
// anchor. It returns the anchor identifier that will hold the object, or
// ErrNoTarget when the cursor is not on a surface.
func (p *PlanePlopper) Place(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	var placeErr error
	err := p.loop.Do(ctx, func() {
		c := p.solver.State()
		if !c.Found {
			placeErr = ErrNoTarget
			return
		}
		obj := p.store.Insert()
		id = p.reconciler.Commit(obj, c.Transform)
		monitoring.Logf("[plopper] placing object %s at world anchor %s", obj.ObjectID(), id)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, placeErr
}

// RemoveAll deletes every placed object.
func (p *PlanePlopper) RemoveAll(ctx context.Context) error {
	return p.loop.Do(ctx, p.reconciler.RemoveAll)
}

// Anchors returns the reconciler's view of every known world anchor.
func (p *PlanePlopper) Anchors(ctx context.Context) ([]anchoring.Binding, error) {
	var out []anchoring.Binding
	err := p.loop.Do(ctx, func() { out = p.reconciler.Snapshot() })
	return out, err
}

// Objects returns the placed objects known to the store.
func (p *PlanePlopper) Objects() []store.ModelInfo { return p.store.Models() }

// Do runs fn on the owner loop. Tests use it to observe scene state.
func (p *PlanePlopper) Do(ctx context.Context, fn func()) error { return p.loop.Do(ctx, fn) }
