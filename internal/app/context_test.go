package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/engine"
	"gigline/internal/repo"
)

func TestOpenUsesWorkspaceSQLite(t *testing.T) {
	ws := t.TempDir()
	rt, err := Open(context.Background(), Options{Workspace: ws})
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, db.SQLite, rt.Dialect)
	assert.FileExists(t, db.Path(ws))

	g, err := rt.Engine.CreateGig(context.Background(), engine.GigCreateOptions{Title: "Walk dog", OwnerID: "olivia"})
	require.NoError(t, err)
	evts, err := rt.Engine.Repo.LatestEventsFrom(context.Background(), 10, 0, repo.EventFilters{GigID: g.ID})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "gig:created", evts[0].Type)
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	yml := "policies:\n  counter_accept: revert\n  max_positions: 2\n"
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(yml), 0o644))

	rt, err := Open(context.Background(), Options{Workspace: ws})
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, config.CounterAcceptRevert, rt.Config.CounterAcceptPolicy())
	_, err = rt.Engine.CreateGig(context.Background(), engine.GigCreateOptions{Title: "Big job", OwnerID: "olivia", PositionsAvailable: 3})
	require.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Workspace: t.TempDir(), Driver: "oracle"})
	require.Error(t, err)
}

func TestLoadConfigExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: 0.0.0.0:9999\n"), 0o644))
	cfg, err := LoadConfig(t.TempDir(), path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Addr)
	assert.Equal(t, 100, cfg.Policies.MaxPositions)
}
