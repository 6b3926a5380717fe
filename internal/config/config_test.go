package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, ".archiver/last_commit", cfg.Pipeline.WatermarkFile)
	assert.Equal(t, 64, cfg.Sampler.DrainThreshold)
	assert.Equal(t, 10*time.Second, cfg.LockTimeout())
	assert.NotEmpty(t, cfg.Categories)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archiver.yaml")
	content := `
server:
  secret: s3cret
repos:
  - name: main
    source: /srv/html
    target: /srv/json
categories:
  - name: group
    tag: GROUP
    holes: true
    tracks_deleted_replies: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("ARCHIVER_SAMPLER_MAX", "80")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Server.Secret)
	assert.Equal(t, 80, cfg.Sampler.Max)
	require.Len(t, cfg.Repos, 1)

	repo, ok := cfg.Repo("main")
	require.True(t, ok)
	assert.Equal(t, "/srv/json", repo.Target)

	require.Len(t, cfg.Categories, 1)
	assert.True(t, cfg.Categories[0].TracksDeletedReplies)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad driver", func(c *Config) { c.DB.Driver = "mysql" }},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"sampler bounds", func(c *Config) { c.Sampler.Max = c.Sampler.Min - 1 }},
		{"repo without target", func(c *Config) { c.Repos = []RepoConfig{{Name: "a", Source: "/x"}} }},
		{"duplicate repo", func(c *Config) {
			c.Repos = []RepoConfig{{Name: "a", Source: "/x", Target: "/y"}, {Name: "a", Source: "/x", Target: "/y"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
