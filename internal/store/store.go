// Package store persists placed objects in SQLite and serves as the
// reconciler's data source: it owns the index from world anchor identifier
// to placed object and rebuilds it from the database at startup.
package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/planeplopper/internal/anchoring"
	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/scene"
	"github.com/banshee-data/planeplopper/internal/timeutil"
)

// Model is one placed object. Models are transient until associated with a
// world anchor, at which point they are written to the database.
type Model struct {
	ID        uuid.UUID
	CreatedAt time.Time

	worldAnchorID *uuid.UUID
	content       *scene.Entity
}

// ObjectID implements anchoring.AnchorableObject.
func (m *Model) ObjectID() uuid.UUID { return m.ID }

// RenderContent implements anchoring.AnchorableObject.
func (m *Model) RenderContent() *scene.Entity { return m.content }

// WorldAnchorID implements anchoring.AnchorableObject.
func (m *Model) WorldAnchorID() (uuid.UUID, bool) {
	if m.worldAnchorID == nil {
		return uuid.Nil, false
	}
	return *m.worldAnchorID, true
}

// ModelInfo is a read-only copy of a model for reporting.
type ModelInfo struct {
	ID            uuid.UUID  `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	WorldAnchorID *uuid.UUID `json:"world_anchor_id,omitempty"`
	Persisted     bool       `json:"persisted"`
}

// Options configures Open.
type Options struct {
	Clock   timeutil.Clock
	Content ContentFactory
}

// Store is the SQLite-backed data source.
type Store struct {
	db      *sql.DB
	path    string
	clock   timeutil.Clock
	content ContentFactory

	mu        sync.Mutex
	models    map[uuid.UUID]*Model
	byAnchor  map[uuid.UUID]*Model
	persisted map[uuid.UUID]bool
	dirty     map[uuid.UUID]bool
}

var (
	_ anchoring.DataSource = (*Store)(nil)
	_ anchoring.Discarder  = (*Store)(nil)
)

// Open opens or creates the database at path, applies migrations and loads
// the persisted models.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps PRAGMAs and in-memory databases consistent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{
		db:        db,
		path:      path,
		clock:     opts.Clock,
		content:   opts.Content,
		models:    make(map[uuid.UUID]*Model),
		byAnchor:  make(map[uuid.UUID]*Model),
		persisted: make(map[uuid.UUID]bool),
		dirty:     make(map[uuid.UUID]bool),
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.content == nil {
		s.content = PlaceholderContent
	}

	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for admin tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Load replaces the in-memory state with the persisted models and rebuilds
// the anchor index. Every loaded model gets fresh render content.
func (s *Store) Load() error {
	var loaded []*Model
	err := retryOnBusy(func() error {
		loaded = loaded[:0]
		rows, err := s.db.Query(`SELECT id, created_at, world_anchor_id FROM placed_objects ORDER BY created_at`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var createdAt int64
			var anchor sql.NullString
			if err := rows.Scan(&id, &createdAt, &anchor); err != nil {
				return err
			}
			m, err := scanModel(id, createdAt, anchor)
			if err != nil {
				monitoring.Logf("[store] skipping row %s: %v", id, err)
				continue
			}
			loaded = append(loaded, m)
		}
		return rows.Err()
	})
	if err != nil {
		return fmt.Errorf("failed to load placed objects: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = make(map[uuid.UUID]*Model, len(loaded))
	s.byAnchor = make(map[uuid.UUID]*Model, len(loaded))
	s.persisted = make(map[uuid.UUID]bool, len(loaded))
	s.dirty = make(map[uuid.UUID]bool)
	for _, m := range loaded {
		m.content = s.content(m)
		s.models[m.ID] = m
		s.persisted[m.ID] = true
		if m.worldAnchorID != nil {
			s.byAnchor[*m.worldAnchorID] = m
		}
	}
	monitoring.Logf("[store] loaded %d placed objects (%d anchored)", len(loaded), len(s.byAnchor))
	return nil
}

func scanModel(id string, createdAt int64, anchor sql.NullString) (*Model, error) {
	oid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad id: %w", err)
	}
	m := &Model{ID: oid, CreatedAt: time.Unix(0, createdAt).UTC()}
	if anchor.Valid && anchor.String != "" {
		aid, err := uuid.Parse(anchor.String)
		if err != nil {
			return nil, fmt.Errorf("bad world anchor id: %w", err)
		}
		m.worldAnchorID = &aid
	}
	return m, nil
}

// RenderContentForAnchor implements anchoring.DataSource.
func (s *Store) RenderContentForAnchor(id uuid.UUID) *scene.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byAnchor[id]; ok {
		return m.content
	}
	return nil
}

// ShouldRemoveAnchor implements anchoring.DataSource. Any anchor without an
// object is an orphan.
func (s *Store) ShouldRemoveAnchor(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byAnchor[id] == nil
}

// Insert implements anchoring.DataSource. The model is not written until
// it is associated with an anchor.
func (s *Store) Insert() anchoring.AnchorableObject {
	m := &Model{ID: uuid.New(), CreatedAt: s.clock.Now().UTC()}
	m.content = s.content(m)
	s.mu.Lock()
	s.models[m.ID] = m
	s.mu.Unlock()
	return m
}

// Associate implements anchoring.DataSource. A failed save is logged and the
// in-memory association kept; the model stays dirty and is written by the
// next successful Save.
func (s *Store) Associate(obj anchoring.AnchorableObject, id uuid.UUID) {
	s.mu.Lock()
	m, ok := s.models[obj.ObjectID()]
	if !ok {
		s.mu.Unlock()
		monitoring.Logf("[store] associate: unknown object %s", obj.ObjectID())
		return
	}
	if m.worldAnchorID != nil && *m.worldAnchorID != id {
		delete(s.byAnchor, *m.worldAnchorID)
	}
	anchor := id
	m.worldAnchorID = &anchor
	s.byAnchor[id] = m
	s.dirty[m.ID] = true
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		monitoring.Logf("[store] failed to save: %v", err)
	}
}

// Save writes every dirty model.
func (s *Store) Save() error {
	type row struct {
		id        uuid.UUID
		createdAt time.Time
		anchor    interface{}
	}
	s.mu.Lock()
	pending := make([]row, 0, len(s.dirty))
	for id := range s.dirty {
		m, ok := s.models[id]
		if !ok {
			continue
		}
		r := row{id: m.ID, createdAt: m.CreatedAt}
		if m.worldAnchorID != nil {
			r.anchor = m.worldAnchorID.String()
		}
		pending = append(pending, r)
	}
	s.mu.Unlock()
	sort.Slice(pending, func(i, j int) bool { return pending[i].createdAt.Before(pending[j].createdAt) })

	now := s.clock.Now().UnixNano()
	var failed []string
	for _, r := range pending {
		err := retryOnBusy(func() error {
			_, err := s.db.Exec(`
				INSERT INTO placed_objects (id, created_at, world_anchor_id, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					world_anchor_id = excluded.world_anchor_id,
					updated_at = excluded.updated_at`,
				r.id.String(), r.createdAt.UnixNano(), r.anchor, now,
			)
			return err
		})
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", r.id, err))
			continue
		}
		s.mu.Lock()
		delete(s.dirty, r.id)
		s.persisted[r.id] = true
		s.mu.Unlock()
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to save %d placed objects: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

// Discard implements anchoring.Discarder.
func (s *Store) Discard(obj anchoring.AnchorableObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[obj.ObjectID()]
	if !ok || s.persisted[m.ID] {
		return
	}
	if m.content != nil {
		m.content.RemoveFromParent()
	}
	delete(s.models, m.ID)
	delete(s.dirty, m.ID)
}

// RemoveAll implements anchoring.DataSource.
func (s *Store) RemoveAll() {
	s.mu.Lock()
	for _, m := range s.models {
		if m.content != nil {
			m.content.RemoveFromParent()
		}
	}
	n := len(s.models)
	s.models = make(map[uuid.UUID]*Model)
	s.byAnchor = make(map[uuid.UUID]*Model)
	s.persisted = make(map[uuid.UUID]bool)
	s.dirty = make(map[uuid.UUID]bool)
	s.mu.Unlock()

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM placed_objects`)
		return err
	})
	if err != nil {
		monitoring.Logf("[store] failed to delete placed objects: %v", err)
		return
	}
	monitoring.Logf("[store] removed %d placed objects", n)
}

// Models returns every known model ordered by creation time.
func (s *Store) Models() []ModelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ModelInfo, 0, len(s.models))
	for _, m := range s.models {
		info := ModelInfo{ID: m.ID, CreatedAt: m.CreatedAt, Persisted: s.persisted[m.ID] && !s.dirty[m.ID]}
		if m.worldAnchorID != nil {
			a := *m.worldAnchorID
			info.WorldAnchorID = &a
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Dirty returns the number of models waiting to be written.
func (s *Store) Dirty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}
