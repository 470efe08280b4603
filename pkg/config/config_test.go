package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 1, cfg.MaxBuilders)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 240*time.Second, cfg.UpdateCheckInterval)
	assert.Equal(t, 3200, cfg.Port)
	assert.Equal(t, "aur_worker", cfg.BuilderImage)
	assert.Equal(t, "aur", cfg.RepoName)
	assert.Equal(t, int64(0), cfg.MemoryLimit)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MAX_BUILDERS", "4")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("UPDATE_CHECK_INTERVAL", "60")
	t.Setenv("PORT", "8080")
	t.Setenv("BUILDER_IMAGE", "custom_worker")
	t.Setenv("REPO_NAME", "myrepo")
	t.Setenv("MEMORY_LIMIT", "1073741824")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, 4, cfg.MaxBuilders)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.UpdateCheckInterval)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "custom_worker", cfg.BuilderImage)
	assert.Equal(t, "myrepo", cfg.RepoName)
	assert.Equal(t, int64(1<<30), cfg.MemoryLimit)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestUnparseableValuesFallBack(t *testing.T) {
	t.Setenv("MAX_BUILDERS", "many")
	t.Setenv("PORT", "")
	t.Setenv("MEMORY_LIMIT", "1G")

	cfg := Load()

	assert.Equal(t, 1, cfg.MaxBuilders)
	assert.Equal(t, 3200, cfg.Port)
	assert.Equal(t, int64(0), cfg.MemoryLimit)
}
