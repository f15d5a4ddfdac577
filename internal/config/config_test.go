package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.5, cfg.Timeline.ScenePad)
	assert.Equal(t, 0.5, cfg.Timeline.CrossfadeOverlap)
	assert.Equal(t, 2.0, cfg.Timeline.BackgroundFadeOut)
	assert.Equal(t, 36.0, cfg.Caption.FontSize)
	assert.Equal(t, 4, cfg.Encoder.Threads)
	assert.Equal(t, filepath.Join("output", "videos"), cfg.Paths.VideosDir())
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "storyreel.yaml", `
paths:
  output_dir: /srv/reels
timeline:
  crossfade_overlap: 0.25
encoder:
  threads: 8
  stale_partial_grace: 5m
logging:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/reels", cfg.Paths.OutputDir)
	assert.Equal(t, "bgm", cfg.Paths.BGMDir)
	assert.Equal(t, 0.25, cfg.Timeline.CrossfadeOverlap)
	assert.Equal(t, 0.5, cfg.Timeline.ScenePad)
	assert.Equal(t, 8, cfg.Encoder.Threads)
	assert.Equal(t, 5*time.Minute, cfg.Encoder.StalePartialGrace)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "encoder:\n  thread: 8\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.yaml", "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Encoder, cfg.Encoder)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORYREEL_OUTPUT_DIR", "/env/out")
	t.Setenv("STORYREEL_THREADS", "2")
	t.Setenv("STORYREEL_FFMPEG", "/opt/ffmpeg/bin/ffmpeg")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/out", cfg.Paths.OutputDir)
	assert.Equal(t, 2, cfg.Encoder.Threads)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Encoder.FFmpegPath)
}

func TestEnvThreadsMustBeNumeric(t *testing.T) {
	t.Setenv("STORYREEL_THREADS", "many")
	_, err := Load("")
	assert.ErrorContains(t, err, "STORYREEL_THREADS")
}

func TestDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	if _, set := os.LookupEnv("STORYREEL_WORK_DIR"); set {
		t.Skip("STORYREEL_WORK_DIR already set")
	}
	t.Cleanup(func() { os.Unsetenv("STORYREEL_WORK_DIR") })
	t.Setenv("STORYREEL_BGM_DIR", "/process/bgm")

	envFile := writeFile(t, t.TempDir(), ".env", "STORYREEL_BGM_DIR=/file/bgm\nSTORYREEL_WORK_DIR=/file/work\n")
	cfg, err := Load("", envFile, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "/process/bgm", cfg.Paths.BGMDir)
	assert.Equal(t, "/file/work", cfg.Paths.WorkDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no output dir", func(c *Config) { c.Paths.OutputDir = " " }},
		{"zero pad", func(c *Config) { c.Timeline.ScenePad = 0 }},
		{"negative overlap", func(c *Config) { c.Timeline.CrossfadeOverlap = -1 }},
		{"negative fade out", func(c *Config) { c.Timeline.BackgroundFadeOut = -0.1 }},
		{"zero font", func(c *Config) { c.Caption.FontSize = 0 }},
		{"no threads", func(c *Config) { c.Encoder.Threads = 0 }},
		{"no encode slots", func(c *Config) { c.Encoder.MaxConcurrentEncodes = 0 }},
		{"unknown preset", func(c *Config) { c.Encoder.Preset = "warp" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
