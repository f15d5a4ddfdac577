package system

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filtersOutput = `Filters:
  T.. = Timeline support
  ... = Slice threading
 ... scale             V->V       Scale the input video size and/or convert the image format.
 ... crop              V->V       Crop the input video.
 T.C overlay           VV->V      Overlay a video source on top of the input.
 .S. xfade             VV->V      Cross fade one video with another video.
 ... concat            N->N       Concatenate audio and video streams.
 ... adelay            A->A       Delay one or more audio channels.
 ... amix              N->A       Audio mixing.
 T.. afade             A->A       Fade in/out input audio.
 ... atrim             A->A       Pick one continuous section from the input, drop the rest.
 ... apad              A->A       Pad audio with silence.
`

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

func fakeChecker(filters, encoders string) *Checker {
	c := NewChecker("ffmpeg", "ffprobe")
	c.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	c.output = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		switch args[len(args)-1] {
		case "-filters":
			return []byte(filters), nil
		case "-encoders":
			return []byte(encoders), nil
		}
		return nil, errors.New("unexpected command")
	}
	return c
}

func TestPreflightAllPresent(t *testing.T) {
	rep, err := fakeChecker(filtersOutput, encodersOutput).Preflight(context.Background(), "libx264", "aac")
	require.NoError(t, err)

	assert.True(t, rep.OK())
	assert.Equal(t, "/usr/bin/ffmpeg", rep.FFmpeg)
	assert.Equal(t, "/usr/bin/ffprobe", rep.FFprobe)
	assert.Equal(t, "h264_nvenc", rep.BestH264)
	assert.Positive(t, rep.Host.LogicalCPUs)
}

func TestPreflightReportsMissing(t *testing.T) {
	filters := strings.Replace(filtersOutput, " .S. xfade ", " .S. xfadex ", 1)
	rep, err := fakeChecker(filters, encodersOutput).Preflight(context.Background(), "libx264", "libopus")
	require.NoError(t, err)

	assert.False(t, rep.OK())
	assert.Equal(t, []string{"xfade"}, rep.MissingFilters)
	assert.Equal(t, []string{"libopus"}, rep.MissingEncoders)
}

func TestPreflightToolNotFound(t *testing.T) {
	c := fakeChecker(filtersOutput, encodersOutput)
	c.lookPath = func(name string) (string, error) {
		if name == "ffprobe" {
			return "", errors.New("executable file not found in $PATH")
		}
		return "/usr/bin/" + name, nil
	}
	_, err := c.Preflight(context.Background())
	assert.ErrorContains(t, err, "ffprobe not found")
}

func TestBestH264Encoder(t *testing.T) {
	best, err := fakeChecker("", encodersOutput).BestH264Encoder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "h264_nvenc", best)

	_, err = fakeChecker("", "Encoders:\n A....D aac  AAC\n").BestH264Encoder(context.Background())
	assert.Error(t, err)
}

func TestListedNamesSkipsLegend(t *testing.T) {
	names := listedNames(encodersOutput)
	assert.Contains(t, names, "libx264")
	assert.Contains(t, names, "aac")
	assert.NotContains(t, names, "=")
}

func TestDefaultSceneWorkersBounds(t *testing.T) {
	n := DefaultSceneWorkers(context.Background())
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 8)
}

func TestInitResourceLimitsDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { InitResourceLimits(nil) })
}
