package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/storyreel/internal/model"
	"github.com/ivlev/storyreel/internal/testsupport"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSweepCommand(t *testing.T) {
	outDir := t.TempDir()
	t.Setenv("STORYREEL_OUTPUT_DIR", outDir)
	stale := filepath.Join(outDir, "videos", "video_demo_x.mp4.partial")
	testsupport.WriteFile(t, stale, 64)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	out, err := execute(t, "sweep", "--env-file", "", "--log-level", "error", "--grace", "10m")
	require.NoError(t, err)
	assert.Contains(t, out, "1 stale partial file(s) removed")
	assert.NoFileExists(t, stale)
}

func TestComposeRequiresManifest(t *testing.T) {
	_, err := execute(t, "compose", "--env-file", "")
	assert.Error(t, err)
}

func TestComposeMissingManifest(t *testing.T) {
	t.Setenv("STORYREEL_OUTPUT_DIR", t.TempDir())
	_, err := execute(t, "compose", "--env-file", "", "--log-level", "error", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRenderResult(t *testing.T) {
	req := model.CompositionRequest{ProjectID: "demo"}
	res := &model.CompositionResult{
		VideoURL:         "/output/videos/video_demo_x.mp4",
		Duration:         12.5,
		TimelineDuration: 12.5,
		FileSize:         3 << 20,
		ScenesUsed:       2,
		Skipped:          []model.SkippedScene{{Index: 3, Stage: "resolve", Reason: "asset not found"}},
		BackgroundMixed:  true,
		BackgroundVolume: 0.15,
	}
	out := renderResult(req, res)
	assert.Contains(t, out, "/output/videos/video_demo_x.mp4")
	assert.Contains(t, out, "12.5s")
	assert.Contains(t, out, "3.1 MB")
	assert.Contains(t, out, "yes (volume 0.15)")
	assert.Contains(t, out, "asset not found")
}

func TestRenderFields(t *testing.T) {
	out := renderFields("Check", "Result", [][2]string{{"ffmpeg", "/usr/bin/ffmpeg"}})
	assert.Contains(t, out, "Check")
	assert.Contains(t, out, "/usr/bin/ffmpeg")
}

func TestRenderSkipped(t *testing.T) {
	assert.Empty(t, renderSkipped(nil))
	out := renderSkipped([]model.SkippedScene{{Index: 0, Stage: "timeline", Reason: "no audio stream"}})
	assert.Contains(t, out, "Scene")
	assert.Contains(t, out, "no audio stream")
}
