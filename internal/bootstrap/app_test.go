package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wwnotes-sync/internal/config"
	"wwnotes-sync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.toml"))
	t.Setenv("REMOTE_BACKEND", "none")
	t.Setenv("LOCAL_BACKEND", "file")
	t.Setenv("LOCAL_DIR", dir)
	t.Setenv("NOTIFIER_CHANNELS", "storage,websocket")
	t.Setenv("POLL_INTERVAL", "1h")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func TestNew_WiresLocalOnlyNode(t *testing.T) {
	cfg := loadTestConfig(t, t.TempDir())
	app := newTestApp(t, cfg)

	assert.NotNil(t, app.Registry)
	assert.NotNil(t, app.Uploads)
	assert.NotEmpty(t, app.Registry.SourceID())

	doc, err := app.Uploads.Register(context.Background(), &domain.UploadRequest{
		Info: &domain.UploadResult{PublicID: "p1", SecureURL: "https://cdn/p1.pdf", OriginalFilename: "calc_notes", Format: "pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", doc.ID)
	assert.Equal(t, "Calc Notes", doc.Title)

	families, err := app.Metrics.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_SharedDirectoryActsLikeTabs(t *testing.T) {
	dir := t.TempDir()
	cfg := loadTestConfig(t, dir)

	first := newTestApp(t, cfg)
	second := newTestApp(t, cfg)
	require.NotEqual(t, first.Registry.SourceID(), second.Registry.SourceID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first.Start(ctx)
	second.Start(ctx)
	defer first.Stop()
	defer second.Stop()

	// give the watchers a moment to attach
	time.Sleep(100 * time.Millisecond)

	_, err := first.Uploads.Register(ctx, &domain.UploadRequest{
		Info: &domain.UploadResult{PublicID: "shared-1", SecureURL: "https://cdn/shared.pdf"},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := second.Registry.Get("shared-1")
		return ok
	}, 3*time.Second, 20*time.Millisecond, "second node should learn about the upload")

	// A third node starting later rebuilds the catalog from the slot files.
	third := newTestApp(t, cfg)
	third.Registry.Refresh(ctx)
	_, ok := third.Registry.Get("shared-1")
	assert.True(t, ok, "slot files should carry the catalog")
}
