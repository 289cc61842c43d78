package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"US", "IN"}, cfg.Regions)
	assert.Equal(t, "file", cfg.Snapshot.Driver)
	assert.Equal(t, "https://community.n8n.io", cfg.Sources.Discourse.BaseURL)
	assert.Len(t, cfg.Sources.GoogleTrends.Keywords, 4)
	assert.Equal(t, 8*time.Second, cfg.Sources.GoogleTrends.ParseDelay())
	assert.Equal(t, 24*time.Hour, cfg.Schedule.ParseInterval())
	assert.False(t, cfg.Sources.YouTube.FetchStatistics)
	assert.Equal(t, 360, cfg.Sources.GoogleTrends.TZOffset)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
regions: [DE]
snapshot:
  driver: sqlite
  path: /tmp/snap.db
schedule:
  at: ""
  interval: 6h
sources:
  google_trends:
    keywords: ["n8n ai agent"]
    delay: 2s
    tz_offset: 0
log:
  level: debug
`), 0o644))

	t.Setenv("YOUTUBE_API_KEY", "yt-key")
	t.Setenv("POPRADAR_REGIONS", "us, br ,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"US", "BR"}, cfg.Regions)
	assert.Equal(t, "sqlite", cfg.Snapshot.Driver)
	assert.Equal(t, 6*time.Hour, cfg.Schedule.ParseInterval())
	assert.Equal(t, []string{"n8n ai agent"}, cfg.Sources.GoogleTrends.Keywords)
	assert.Equal(t, 2*time.Second, cfg.Sources.GoogleTrends.ParseDelay())
	assert.Equal(t, 0, cfg.Sources.GoogleTrends.TZOffset, "UTC is configurable")
	assert.Equal(t, "yt-key", cfg.Sources.YouTube.APIKey)
	assert.True(t, cfg.Sources.Discourse.Enabled, "unset keys keep defaults")
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Snapshot.Driver = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Schedule.At = "2am"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Regions = nil
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
