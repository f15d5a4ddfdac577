package mixer

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"github.com/ivlev/storyreel/internal/compositor"
	"github.com/ivlev/storyreel/internal/errs"
	"github.com/ivlev/storyreel/internal/probe"
	"github.com/ivlev/storyreel/internal/resolver"
	"github.com/ivlev/storyreel/internal/video"
)

const DefaultFadeOut = 2.0

// Info describes what Mix did to the timeline audio.
type Info struct {
	Applied bool
	Volume  float64
	// TrackDuration is the background file's own length.
	TrackDuration float64
	// Trimmed is set when the track was cut short to the timeline length.
	Trimmed bool
	// Unavailable explains why a requested track was not mixed.
	Unavailable error
}

type Mixer struct {
	resolver resolver.Resolver
	prober   probe.Prober
	fadeOut  float64
	logger   *zap.Logger
}

func New(res resolver.Resolver, prober probe.Prober, fadeOut float64, logger *zap.Logger) *Mixer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fadeOut < 0 {
		fadeOut = 0
	}
	return &Mixer{resolver: res, prober: prober, fadeOut: fadeOut, logger: logger}
}

// Mix lays the background track referenced by ref under the timeline's audio at
// volume. The track is trimmed to the timeline and faded out, never looped.
// A missing or unreadable track leaves the timeline as it is; only cancellation
// is returned as an error. When a track is mixed, ownership of t moves to the
// returned timeline.
func (m *Mixer) Mix(ctx context.Context, t *compositor.Timeline, ref string, volume float64) (*compositor.Timeline, Info, error) {
	if ref == "" {
		return t, Info{}, nil
	}
	if err := ctx.Err(); err != nil {
		return t, Info{}, err
	}

	skip := func(detail string, err error) (*compositor.Timeline, Info, error) {
		wrapped := errs.Wrap(errs.ErrBackgroundTrackUnavailable, "", "mix", detail, err)
		m.logger.Warn("background track skipped",
			zap.String("stage", "mix"),
			zap.String("track", ref),
			zap.Error(wrapped),
		)
		return t, Info{Unavailable: wrapped}, nil
	}

	path, err := m.resolver.Resolve(ref)
	if err != nil {
		return skip("resolve background track", err)
	}
	res, err := m.prober.Probe(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return t, Info{}, ctxErr
		}
		return skip(fmt.Sprintf("probe %s", path), err)
	}
	if res.AudioStreamCount() == 0 {
		return skip(fmt.Sprintf("%s has no audio stream", path), nil)
	}
	trackDuration := res.DurationSeconds()
	if math.IsNaN(trackDuration) || math.IsInf(trackDuration, 0) || trackDuration <= 0 {
		return skip(fmt.Sprintf("%s has no usable duration", path), nil)
	}

	info := Info{
		Applied:       true,
		Volume:        volume,
		TrackDuration: trackDuration,
		Trimmed:       trackDuration > t.Duration,
	}
	input := len(t.Inputs)
	filters := []string{m.backgroundChain(input, volume, trackDuration, t.Duration)}
	audio := "[bg]"
	if t.Audio != "" {
		filters = append(filters, fmt.Sprintf("%s[bg]amix=inputs=2:duration=first:normalize=0[mix]", t.Audio))
		audio = "[mix]"
	}

	m.logger.Debug("background track mixed",
		zap.String("track", path),
		zap.Float64("volume", volume),
		zap.Float64("track_duration", trackDuration),
		zap.Bool("trimmed", info.Trimmed),
	)
	return t.WithAudio([]string{path}, filters, audio), info, nil
}

// backgroundChain scales, trims and fades the background input.
func (m *Mixer) backgroundChain(input int, volume, trackDuration, total float64) string {
	end := math.Min(trackDuration, total)
	fade := math.Min(m.fadeOut, end)
	chain := fmt.Sprintf("[%d:a]aresample=44100,aformat=channel_layouts=stereo,volume=%s,atrim=end=%s,asetpts=PTS-STARTPTS",
		input, strconv.FormatFloat(volume, 'f', -1, 64), video.Seconds(end))
	if fade > 0 {
		chain += fmt.Sprintf(",afade=t=out:st=%s:d=%s", video.Seconds(end-fade), video.Seconds(fade))
	}
	return chain + "[bg]"
}
