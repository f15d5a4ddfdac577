package clip

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ivlev/storyreel/internal/caption"
	"github.com/ivlev/storyreel/internal/errs"
	"github.com/ivlev/storyreel/internal/model"
	"github.com/ivlev/storyreel/internal/testsupport"
)

var testOpts = Options{Width: 1080, Height: 1920, FPS: 30}

func entry(index int, narration string, withAudio bool, clipDuration float64) model.TimelineEntry {
	e := model.TimelineEntry{
		ResolvedScene: model.ResolvedScene{
			Scene:     model.Scene{Index: index, Narration: narration},
			ImagePath: "/assets/scene.png",
		},
		HasAudio:     withAudio,
		ClipDuration: clipDuration,
	}
	if withAudio {
		e.AudioPath = "/assets/scene.mp3"
		e.AudioDuration = clipDuration - 0.5
	}
	return e
}

func newAssembler(t *testing.T, runner *testsupport.FakeRunner, withCaptions bool) (*Assembler, string, *observer.ObservedLogs) {
	t.Helper()
	var r *caption.Renderer
	if withCaptions {
		var err error
		r, err = caption.NewRenderer("", caption.DefaultStyle())
		require.NoError(t, err)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	dir := t.TempDir()
	return NewAssembler(runner, r, dir, testOpts, zap.New(core)), dir, logs
}

func hasSeq(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		if slices.Equal(args[i:i+len(seq)], seq) {
			return true
		}
	}
	return false
}

func filterArg(t *testing.T, args []string) string {
	t.Helper()
	i := slices.Index(args, "-filter_complex")
	require.GreaterOrEqual(t, i, 0)
	return args[i+1]
}

func TestAssembleWithAudioAndCaption(t *testing.T) {
	runner := &testsupport.FakeRunner{}
	a, dir, _ := newAssembler(t, runner, true)

	c, err := a.Assemble(context.Background(), 0, entry(1, "Scene one", true, 4.5))
	require.NoError(t, err)
	require.NoError(t, c.CaptionErr)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	args := calls[0]

	assert.Equal(t, c.Path, args[len(args)-1])
	assert.Equal(t, filepath.Join(dir, "clip_000_1.mkv"), c.Path)
	assert.True(t, hasSeq(args, "-loop", "1", "-framerate", "30", "-i", "/assets/scene.png"))
	assert.True(t, hasSeq(args, "-i", "/assets/scene.mp3"))
	assert.True(t, hasSeq(args, "-i", filepath.Join(dir, "clip_000_1_caption.png")))
	assert.True(t, hasSeq(args, "-t", "4.5"))
	assert.True(t, hasSeq(args, "-map", "[a]"))
	assert.True(t, hasSeq(args, "-c:a", "pcm_s16le"))

	graph := filterArg(t, args)
	assert.Contains(t, graph, "scale=1080:1920:force_original_aspect_ratio=increase,crop=1080:1920")
	assert.Contains(t, graph, "[2:v]overlay=x=40:y=1720")
	assert.Contains(t, graph, "[1:a]aresample=44100")

	assert.ElementsMatch(t, []string{"clip_000_1.mkv", "clip_000_1_caption.png"}, testsupport.ListFiles(t, dir))
	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	assert.Empty(t, testsupport.ListFiles(t, dir))
}

func TestAssembleSilentScene(t *testing.T) {
	runner := &testsupport.FakeRunner{}
	a, _, _ := newAssembler(t, runner, false)

	c, err := a.Assemble(context.Background(), 2, entry(7, "ignored without renderer", false, 3))
	require.NoError(t, err)
	defer c.Release()

	args := runner.Calls()[0]
	assert.False(t, c.HasAudio)
	assert.False(t, slices.Contains(args, "[a]"))
	assert.False(t, slices.Contains(args, "pcm_s16le"))
	assert.NotContains(t, filterArg(t, args), "overlay")
	assert.True(t, hasSeq(args, "-t", "3"))
}

func TestAssembleDropsUnrenderableCaption(t *testing.T) {
	runner := &testsupport.FakeRunner{}
	a, dir, logs := newAssembler(t, runner, true)

	c, err := a.Assemble(context.Background(), 0, entry(3, "你好，世界", true, 2.5))
	require.NoError(t, err)
	defer c.Release()

	assert.ErrorIs(t, c.CaptionErr, errs.ErrCaptionRenderFailed)
	assert.NotContains(t, filterArg(t, runner.Calls()[0]), "overlay")
	assert.Equal(t, []string{"clip_000_3.mkv"}, testsupport.ListFiles(t, dir))

	warned := logs.FilterMessage("caption dropped").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zapcore.WarnLevel, warned[0].Level)
	assert.EqualValues(t, 3, warned[0].ContextMap()["scene"])
}

func TestAssembleRunnerFailureCleansUp(t *testing.T) {
	boom := errors.New("boom")
	runner := &testsupport.FakeRunner{Fail: func([]string) error { return boom }}
	a, dir, _ := newAssembler(t, runner, true)

	c, err := a.Assemble(context.Background(), 0, entry(1, "Scene one", true, 4.5))
	assert.Nil(t, c)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, testsupport.ListFiles(t, dir))
}

func TestAssembleAllKeepsOrder(t *testing.T) {
	runner := &testsupport.FakeRunner{}
	a, _, _ := newAssembler(t, runner, false)

	entries := []model.TimelineEntry{
		entry(1, "", true, 4.5),
		entry(2, "", true, 3.5),
		entry(5, "", false, 5.5),
	}
	clips, err := a.AssembleAll(context.Background(), entries, 2)
	require.NoError(t, err)
	defer ReleaseAll(clips)

	require.Len(t, clips, 3)
	for i, c := range clips {
		assert.Equal(t, entries[i].Scene.Index, c.Entry.Scene.Index)
	}
	assert.Len(t, runner.Calls(), 3)
}

func TestAssembleAllReleasesOnFailure(t *testing.T) {
	runner := &testsupport.FakeRunner{Fail: func(args []string) error {
		if strings.HasSuffix(args[len(args)-1], "_2.mkv") {
			return errors.New("bad scene")
		}
		return nil
	}}
	a, dir, _ := newAssembler(t, runner, false)

	entries := []model.TimelineEntry{entry(1, "", true, 4.5), entry(2, "", true, 3.5), entry(3, "", true, 2)}
	clips, err := a.AssembleAll(context.Background(), entries, 1)
	require.Error(t, err)
	assert.Nil(t, clips)
	assert.Empty(t, testsupport.ListFiles(t, dir))
}

func TestAssembleCancelled(t *testing.T) {
	runner := &testsupport.FakeRunner{}
	a, _, _ := newAssembler(t, runner, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Assemble(ctx, 0, entry(1, "", true, 4.5))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.Calls())
}
