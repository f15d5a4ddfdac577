package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/storyreel/internal/errs"
	"github.com/ivlev/storyreel/internal/model"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "story.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadFullManifest(t *testing.T) {
	path := write(t, `
version: "1"
project: demo
resolution: 720x1280
fps: 24
transition: none
background:
  track: /bgm/calm.mp3
  volume: 0.3
scenes:
  - index: 2
    narration: "  Second  "
    image: /output/images/2.png
    audio: /output/audio/2.mp3
    duration: 3
  - index: 1
    image: images/1.png
    audio: /abs/1.mp3
`)
	m, err := Read(path)
	require.NoError(t, err)
	req, err := m.Request()
	require.NoError(t, err)

	assert.Equal(t, "demo", req.ProjectID)
	assert.Equal(t, model.Resolution{Width: 720, Height: 1280}, req.Resolution)
	assert.Equal(t, 24, req.FPS)
	assert.Equal(t, model.TransitionNone, req.Transition)
	assert.Equal(t, "/bgm/calm.mp3", req.BackgroundRef)
	assert.Equal(t, 0.3, req.BackgroundVolume)

	require.Len(t, req.Scenes, 2)
	assert.Equal(t, model.Scene{
		Index: 2, Narration: "Second", ImageRef: "/output/images/2.png", AudioRef: "/output/audio/2.mp3", DeclaredDuration: 3,
	}, req.Scenes[0])
	assert.Equal(t, filepath.Join(filepath.Dir(path), "images", "1.png"), req.Scenes[1].ImageRef)
	assert.Equal(t, "/abs/1.mp3", req.Scenes[1].AudioRef)
	assert.NoError(t, req.Validate())
}

func TestRequestDefaults(t *testing.T) {
	m, err := Read(write(t, "project: p1\nscenes:\n  - image: a.png\n    audio: a.mp3\n  - image: b.png\n    audio: b.mp3\n"))
	require.NoError(t, err)
	req, err := m.Request()
	require.NoError(t, err)

	assert.Equal(t, model.Resolution{Width: 1080, Height: 1920}, req.Resolution)
	assert.Equal(t, 30, req.FPS)
	assert.Equal(t, model.TransitionFade, req.Transition)
	assert.Equal(t, 0.15, req.BackgroundVolume)
	assert.Empty(t, req.BackgroundRef)
	assert.Equal(t, 1, req.Scenes[0].Index)
	assert.Equal(t, 2, req.Scenes[1].Index)
}

func TestRequestKeepsZeroBasedIndices(t *testing.T) {
	m, err := Read(write(t, `
project: demo
scenes:
  - index: 0
    image: a.png
    audio: a.mp3
  - index: 1
    image: b.png
    audio: b.mp3
  - index: 2
    image: c.png
    audio: c.mp3
`))
	require.NoError(t, err)
	req, err := m.Request()
	require.NoError(t, err)

	var indices []int
	for _, s := range req.Scenes {
		indices = append(indices, s.Index)
	}
	assert.Equal(t, []int{0, 1, 2}, indices)
	assert.NoError(t, req.Validate())
}

func TestReadNaNVolumeFailsValidation(t *testing.T) {
	m, err := Read(write(t, "project: demo\nbackground:\n  track: calm.mp3\n  volume: .nan\nscenes:\n  - image: a.png\n    audio: a.mp3\n"))
	require.NoError(t, err)
	req, err := m.Request()
	require.NoError(t, err)
	assert.ErrorIs(t, req.Validate(), errs.ErrInvalidRequest)
}

func TestRequestVersion(t *testing.T) {
	for _, v := range []string{"", "1"} {
		m := &Manifest{Version: v, Project: "p"}
		_, err := m.Request()
		assert.NoError(t, err, "version %q", v)
	}
	m := &Manifest{Version: "2", Project: "p"}
	_, err := m.Request()
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
	assert.Contains(t, err.Error(), `unsupported manifest version "2"`)
}

func TestRequestRejectsBadFields(t *testing.T) {
	m := &Manifest{Project: "p", Transition: "slide"}
	_, err := m.Request()
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)

	m = &Manifest{Project: "p", Resolution: "wide"}
	_, err = m.Request()
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestReadMalformed(t *testing.T) {
	_, err := Read(write(t, "scenes: [unclosed"))
	assert.Error(t, err)
	_, err = Read(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteResult(t *testing.T) {
	res := NewResult("demo", &model.CompositionResult{
		VideoURL:         "/output/videos/video_demo_x.mp4",
		LocalPath:        "/srv/output/videos/video_demo_x.mp4",
		Duration:         12.5,
		TimelineDuration: 12.5,
		FileSize:         2048,
		ScenesUsed:       2,
		Skipped:          []model.SkippedScene{{Index: 3, Stage: "resolve", Reason: "asset not found"}},
		BackgroundMixed:  true,
		BackgroundVolume: 0.15,
	})
	path := filepath.Join(t.TempDir(), "result.yaml")
	require.NoError(t, WriteResult(res, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Result
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, res, back)
	assert.Contains(t, string(data), "video_url: /output/videos/video_demo_x.mp4")
}
