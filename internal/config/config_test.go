package config

import (
	"testing"
	"time"

	"notechart/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("CACHE_BACKEND", "")
	t.Setenv("INFERENCE_API_KEY", "")
	t.Setenv("INFERENCE_STAGE_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 20*time.Second, cfg.Inference.StageTimeout)
	assert.Empty(t, cfg.Inference.APIKey)
	assert.EqualValues(t, 8, cfg.Analysis.MaxConcurrent)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "file:notes.db")
	t.Setenv("CACHE_BACKEND", "sql")
	t.Setenv("INFERENCE_STAGE_TIMEOUT", "5s")
	t.Setenv("POLICY_WATCH", "false")
	t.Setenv("ANALYSIS_SAMPLE_LIMIT", "200")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Inference.StageTimeout)
	assert.False(t, cfg.Policy.Watch)
	assert.Equal(t, 200, cfg.Analysis.SampleLimit)
}

func TestLoadRejectsRedisWithoutAddr(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
