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
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, 10*time.Second, cfg.Delay)
	assert.Equal(t, 10, cfg.MaxSyncStep)
	assert.Equal(t, 5*time.Minute, cfg.ErrorSkipPeriod)
	assert.Equal(t, filepath.Join(dir, "docsync.db"), cfg.DBPath)
	assert.Equal(t, "md5", cfg.DigestAlgorithm)
	assert.Contains(t, cfg.IgnoreList, ".DS_Store")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "delay: 30s\nmax_sync_step: 25\nerror_skip_period: 1m\ndb_path: /var/lib/docsync/state.db\ndigest_algorithm: md5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Delay)
	assert.Equal(t, 25, cfg.MaxSyncStep)
	assert.Equal(t, time.Minute, cfg.ErrorSkipPeriod)
	assert.Equal(t, "/var/lib/docsync/state.db", cfg.DBPath)
	assert.Equal(t, "md5", cfg.DigestAlgorithm)
}

func TestLoadRejectsDigestTheRemoteCannotCompare(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("digest_algorithm: sha256\n"), 0644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "digest_algorithm")
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DOCSYNC_MAX_SYNC_STEP", "3")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxSyncStep)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch", func(c *Config) { c.MaxSyncStep = 0 }},
		{"zero delay", func(c *Config) { c.Delay = 0 }},
		{"negative cooldown", func(c *Config) { c.ErrorSkipPeriod = -time.Second }},
		{"unknown digest", func(c *Config) { c.DigestAlgorithm = "crc32" }},
		{"digest the remote does not report", func(c *Config) { c.DigestAlgorithm = "sha256" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default
	assert.NoError(t, cfg.Validate())
}

func TestMarkerPaths(t *testing.T) {
	cfg := Config{Dir: "/tmp/ds"}
	assert.Equal(t, "/tmp/ds/stop_42", cfg.StopMarker(42))
	assert.Equal(t, "/tmp/ds/docsync_sync.pid", cfg.PidFile())
}
