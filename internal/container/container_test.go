package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notechart/adapters/sqlstore"
	"notechart/app"
	"notechart/domain/chart"
	"notechart/internal/config"
	"notechart/internal/testkit"
)

func testConfig(backend string) *config.Config {
	return &config.Config{
		Database:  config.DatabaseConfig{Driver: sqlstore.DriverSQLite, URL: ":memory:"},
		Inference: config.InferenceConfig{StageTimeout: time.Second},
		Cache:     config.CacheConfig{Backend: backend, TTL: time.Hour},
		Analysis:  config.AnalysisConfig{MaxConcurrent: 2},
	}
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestContainerRunsAgainstDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("sql")
	db, err := sqlstore.OpenAndMigrate(ctx, cfg.Database.Driver, cfg.Database.URL)
	require.NoError(t, err)

	snap := testkit.NewNotebookGenerator(testkit.DefaultNotebookConfig()).Generate("journal")
	require.NoError(t, sqlstore.NewNoteStore(db).Import(ctx, snap))

	c, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.InitWithDatabase(ctx, db))

	assert.Equal(t, "default", c.Policies.Current().Version)
	assert.NotEmpty(t, c.Exemplars.Version)

	first, err := c.Analysis.Analyze(ctx, app.AnalysisRequest{NotebookID: "journal"})
	require.NoError(t, err)
	assert.Equal(t, chart.ModeRecommend, first.Mode)
	assert.Equal(t, len(snap.Notes), first.NoteCount)
	assert.False(t, first.Cached)

	second, err := c.Analysis.Analyze(ctx, app.AnalysisRequest{NotebookID: "journal"})
	require.NoError(t, err)
	assert.True(t, second.Cached, "sql cache serves the repeat")
	assert.Equal(t, first.ID, second.ID)
}

func TestContainerLoadsPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: team-7\nsample_limit: 100\n"), 0o600))

	cfg := testConfig("memory")
	cfg.Policy.Path = path
	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background(), nil))

	assert.Equal(t, "team-7", c.Policies.Current().Version)
	assert.Equal(t, path, c.Reloader.Path())
}

func TestContainerRejectsBrokenPolicyFile(t *testing.T) {
	cfg := testConfig("memory")
	cfg.Policy.Path = filepath.Join(t.TempDir(), "missing.yaml")
	c, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Error(t, c.Init(context.Background(), nil))
}

func TestSQLCacheNeedsDatabase(t *testing.T) {
	c, err := New(testConfig("sql"), nil)
	require.NoError(t, err)
	assert.Error(t, c.Init(context.Background(), nil))
}
