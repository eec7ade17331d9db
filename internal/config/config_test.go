package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/chunkforge/internal/stage"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	path := writeConfig(t, "world.hcl", `
world {
  name = "overworld"
  seed = 1337
}

persistence {
  path = "/tmp/overworld.db"
}

scheduler {
  workers      = 8
  max_retries  = 3
  base_backoff = "5ms"
  max_backoff  = "500ms"
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "overworld", cfg.World.Name)
	assert.Equal(t, int64(1337), cfg.World.Seed)
	assert.Equal(t, "/tmp/overworld.db", cfg.Persistence.Path)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 5*time.Millisecond, cfg.Scheduler.BaseBackoff)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.MaxBackoff)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Scheduler.WarnInterval, cfg.Scheduler.WarnInterval)
}

func TestLoadStageRadiusOverride(t *testing.T) {
	path := writeConfig(t, "radii.hcl", `
world {
  name = "w"
}

stage "surface" {
  radius = 2
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Radii.Radius(stage.Surface))
	assert.Equal(t, stage.DefaultRadii().Radius(stage.Carvers), cfg.Radii.Radius(stage.Carvers))
}

func TestLoadEnvReference(t *testing.T) {
	t.Setenv("CHUNKFORGE_DB", "/data/world.db")
	path := writeConfig(t, "env.hcl", `
world {
  name = "w"
}

persistence {
  path = env.CHUNKFORGE_DB
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/world.db", cfg.Persistence.Path)
}

func TestLoadDirectoryMergesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-world.hcl"), []byte(`
world {
  name = "merged"
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20-scheduler.hcl"), []byte(`
scheduler {
  workers = 2
}
`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "merged", cfg.World.Name)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad syntax", `world {`},
		{"unknown stage", "world {\n  name = \"w\"\n}\n\nstage \"bedrock\" {\n  radius = 1\n}\n"},
		{"bad duration", "world {\n  name = \"w\"\n}\n\nscheduler {\n  base_backoff = \"fast\"\n}\n"},
		{"negative workers", "world {\n  name = \"w\"\n}\n\nscheduler {\n  workers = -1\n}\n"},
		{"empty world name", "world {\n  name = \"\"\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "bad.hcl", tt.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	assert.Error(t, err)
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().validate())
}
