package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/planeplopper/internal/api"
	"github.com/banshee-data/planeplopper/internal/config"
	"github.com/banshee-data/planeplopper/internal/httputil"
	"github.com/banshee-data/planeplopper/internal/plopper"
)

func TestLoadConfig_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"poll_hz": 30, "world_anchor_limit": 5}`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.GetPollHz())
	assert.Equal(t, 5, cfg.GetWorldAnchorLimit())
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	// No defaults file relative to an empty working directory.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.EmptyConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.EmptyConfig()
	applyOverrides(cfg, "", "", "")
	assert.Equal(t, config.EmptyConfig(), cfg)

	applyOverrides(cfg, "/tmp/p.db", ":9000", ":9001")
	assert.Equal(t, "/tmp/p.db", cfg.GetDatabasePath())
	assert.Equal(t, ":9000", cfg.GetListen())
	assert.Equal(t, ":9001", cfg.GetGRPCListen())

	applyOverrides(cfg, "", "", "off")
	assert.Equal(t, "", cfg.GetGRPCListen())
	assert.Equal(t, ":9000", cfg.GetListen())
}

func TestRunCommand(t *testing.T) {
	id := uuid.New()
	placed, err := json.Marshal(api.PlaceResponse{AnchorID: id})
	require.NoError(t, err)
	status, err := json.Marshal(plopper.Status{Version: "dev", Planes: 2})
	require.NoError(t, err)

	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusAccepted, string(placed)).
		AddResponse(http.StatusOK, `{"status":"ok"}`).
		AddResponse(http.StatusOK, string(status)).
		AddResponse(http.StatusOK, `{"anchors":[],"objects":[]}`)
	c := api.NewClient("localhost:8086", mock)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runCommand(ctx, c, "place", &out))
	assert.Contains(t, out.String(), id.String())

	out.Reset()
	require.NoError(t, runCommand(ctx, c, "remove-all", &out))
	assert.Equal(t, "removed all objects\n", out.String())

	out.Reset()
	require.NoError(t, runCommand(ctx, c, "status", &out))
	var got plopper.Status
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 2, got.Planes)

	out.Reset()
	require.NoError(t, runCommand(ctx, c, "anchors", &out))
	assert.Contains(t, out.String(), `"anchors"`)

	require.Equal(t, 4, mock.RequestCount())
	assert.Equal(t, "/api/place", mock.Request(0).URL.Path)
	assert.Equal(t, "/api/anchors", mock.Request(3).URL.Path)
}

func TestRunCommand_Errors(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusConflict, `{"error":"cursor is not on a surface"}`)
	c := api.NewClient("localhost:8086", mock)

	var out bytes.Buffer
	err := runCommand(context.Background(), c, "place", &out)
	assert.ErrorContains(t, err, "cursor is not on a surface")

	err = runCommand(context.Background(), c, "plop", &out)
	assert.ErrorContains(t, err, `unknown command "plop"`)
	assert.Equal(t, 1, mock.RequestCount())
	assert.Empty(t, out.String())
}
