package store

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/planeplopper/internal/scene"
	"github.com/banshee-data/planeplopper/internal/timeutil"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plopper.db")
	s, err := Open(path, Options{Clock: timeutil.NewMockClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func reopen(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s, _ := openTemp(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	assert.Empty(t, s.Models())
}

func TestMigrateDown(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.MigrateDown())
	version, _, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	require.NoError(t, s.MigrateUp())
}

func TestInsert_IsTransientUntilAssociated(t *testing.T) {
	s, path := openTemp(t)
	obj := s.Insert()
	require.NotNil(t, obj.RenderContent())
	_, anchored := obj.WorldAnchorID()
	assert.False(t, anchored)

	models := s.Models()
	require.Len(t, models, 1)
	assert.False(t, models[0].Persisted)

	require.NoError(t, s.Close())
	assert.Empty(t, reopen(t, path).Models())
}

func TestAssociate_PersistsAndRebuildsIndex(t *testing.T) {
	s, path := openTemp(t)
	obj := s.Insert()
	anchor := uuid.New()

	s.Associate(obj, anchor)

	assert.Same(t, obj.RenderContent(), s.RenderContentForAnchor(anchor))
	assert.False(t, s.ShouldRemoveAnchor(anchor))
	assert.True(t, s.ShouldRemoveAnchor(uuid.New()))
	assert.Equal(t, 0, s.Dirty())
	require.NoError(t, s.Close())

	restarted := reopen(t, path)
	content := restarted.RenderContentForAnchor(anchor)
	require.NotNil(t, content, "index rebuilt from persisted rows")
	assert.Nil(t, content.Parent(), "restored content waits for its anchor")
	assert.NotNil(t, content.FindChild("placeholder"))

	want := []ModelInfo{{ID: obj.ObjectID(), CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), WorldAnchorID: &anchor, Persisted: true}}
	if diff := cmp.Diff(want, restarted.Models()); diff != "" {
		t.Errorf("models mismatch (-want +got):\n%s", diff)
	}
}

func TestAssociate_SaveFailureKeepsAssociation(t *testing.T) {
	s, _ := openTemp(t)
	obj := s.Insert()
	require.NoError(t, s.db.Close())

	anchor := uuid.New()
	s.Associate(obj, anchor)

	assert.NotNil(t, s.RenderContentForAnchor(anchor), "no rollback on save failure")
	assert.Equal(t, 1, s.Dirty())
	assert.Error(t, s.Save())
}

func TestRemoveAll(t *testing.T) {
	s, path := openTemp(t)
	root := scene.NewEntity("root")
	anchored := s.Insert()
	s.Associate(anchored, uuid.New())
	transient := s.Insert()
	root.AddChild(anchored.RenderContent())
	root.AddChild(transient.RenderContent())

	s.RemoveAll()

	assert.Empty(t, root.Children())
	assert.Empty(t, s.Models())
	require.NoError(t, s.Close())
	assert.Empty(t, reopen(t, path).Models())
}

func TestDiscard(t *testing.T) {
	s, _ := openTemp(t)
	root := scene.NewEntity("root")
	transient := s.Insert()
	root.AddChild(transient.RenderContent())
	persisted := s.Insert()
	s.Associate(persisted, uuid.New())

	s.Discard(transient)
	s.Discard(persisted)

	assert.Nil(t, transient.RenderContent().Parent())
	models := s.Models()
	require.Len(t, models, 1)
	assert.Equal(t, persisted.ObjectID(), models[0].ID)
}

func TestWorldAnchorIsUnique(t *testing.T) {
	s, _ := openTemp(t)
	anchor := uuid.New()
	first := s.Insert()
	s.Associate(first, anchor)

	_, err := s.db.Exec(`INSERT INTO placed_objects (id, created_at, world_anchor_id) VALUES (?, ?, ?)`,
		uuid.NewString(), time.Now().UnixNano(), anchor.String())
	assert.Error(t, err)
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	boom := errors.New("no such table")
	assert.ErrorIs(t, retryOnBusy(func() error { calls++; return boom }), boom)
	assert.Equal(t, 1, calls)
}

func TestHandleBackup(t *testing.T) {
	s, _ := openTemp(t)
	s.Associate(s.Insert(), uuid.New())

	rec := httptest.NewRecorder()
	s.handleBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))
}

func TestAttachAdminRoutes(t *testing.T) {
	s, _ := openTemp(t)
	assert.NoError(t, s.AttachAdminRoutes(http.NewServeMux()))
}
