package timeline

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/storyreel/internal/errs"
	"github.com/ivlev/storyreel/internal/model"
	"github.com/ivlev/storyreel/internal/probe"
)

const (
	DefaultPad     = 0.5
	DefaultOverlap = 0.5
)

type Options struct {
	// Pad is added after each scene's narration.
	Pad float64
	// Overlap is the crossfade length between adjacent clips under fade.
	Overlap    float64
	Transition model.Transition
}

func DefaultOptions() Options {
	return Options{Pad: DefaultPad, Overlap: DefaultOverlap, Transition: model.TransitionFade}
}

// Measurement is a resolved scene with its narration length as measured from the file.
type Measurement struct {
	Scene    model.ResolvedScene
	Duration float64
	HasAudio bool
}

// Failure is a scene that could not be measured.
type Failure struct {
	Scene model.ResolvedScene
	Err   error
}

// Measure probes every scene's audio asset, at most workers at a time. Scenes
// that fail to probe are returned as failures; only cancellation is an error.
func Measure(ctx context.Context, prober probe.Prober, scenes []model.ResolvedScene, workers int) ([]Measurement, []Failure, error) {
	if workers < 1 {
		workers = 1
	}
	measured := make([]*Measurement, len(scenes))
	failed := make([]error, len(scenes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range scenes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scene := scenes[i]
			res, err := prober.Probe(gctx, scene.AudioPath)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed[i] = errs.Wrap(errs.ErrAssetNotFound, "", "timeline", fmt.Sprintf("probe audio %s", scene.AudioPath), err)
				return nil
			}
			d := res.DurationSeconds()
			if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
				failed[i] = errs.Wrap(errs.ErrAssetNotFound, "", "timeline", fmt.Sprintf("audio %s has no usable duration", scene.AudioPath), nil)
				return nil
			}
			measured[i] = &Measurement{Scene: scene, Duration: d, HasAudio: res.AudioStreamCount() > 0}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var out []Measurement
	var failures []Failure
	for i := range scenes {
		if measured[i] != nil {
			out = append(out, *measured[i])
		} else if failed[i] != nil {
			failures = append(failures, Failure{Scene: scenes[i], Err: failed[i]})
		}
	}
	return out, failures, nil
}

// PairOverlap is the crossfade length between two adjacent clips. It is zero when
// the overlap would not fit strictly inside the shorter clip.
func PairOverlap(prev, next, overlap float64) float64 {
	if overlap <= 0 {
		return 0
	}
	if overlap >= math.Min(prev, next) {
		return 0
	}
	return overlap
}

// Build lays measured scenes end to end in index order. Under fade, each clip after
// the first starts Overlap before its predecessor ends.
func Build(measurements []Measurement, opts Options) ([]model.TimelineEntry, error) {
	if len(measurements) == 0 {
		return nil, errs.Wrap(errs.ErrCompositionEmpty, "", "timeline", "no measurable scenes", nil)
	}
	if opts.Pad < 0 {
		return nil, fmt.Errorf("timeline: negative pad %v", opts.Pad)
	}

	sorted := make([]Measurement, len(measurements))
	copy(sorted, measurements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Scene.Index < sorted[j].Scene.Index
	})

	entries := make([]model.TimelineEntry, 0, len(sorted))
	for i, m := range sorted {
		clipDuration := m.Duration + opts.Pad
		if clipDuration <= 0 {
			return nil, fmt.Errorf("timeline: scene %d has non-positive clip duration %v", m.Scene.Index, clipDuration)
		}
		entry := model.TimelineEntry{
			ResolvedScene: m.Scene,
			AudioDuration: m.Duration,
			HasAudio:      m.HasAudio,
			ClipDuration:  clipDuration,
		}
		if i > 0 {
			prev := entries[i-1]
			if opts.Transition == model.TransitionFade {
				entry.Overlap = PairOverlap(prev.ClipDuration, clipDuration, opts.Overlap)
			}
			entry.CrossfadeIn = entry.Overlap > 0
			entry.StartOffset = prev.End() - entry.Overlap
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Total is the length of the composed timeline.
func Total(entries []model.TimelineEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].End()
}
