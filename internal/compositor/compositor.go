package compositor

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/ivlev/storyreel/internal/clip"
	"github.com/ivlev/storyreel/internal/errs"
	"github.com/ivlev/storyreel/internal/model"
	"github.com/ivlev/storyreel/internal/video"
)

// Timeline is a filter graph joining every clip into one video stream and, when
// any clip carries narration, one audio stream. It owns its clips until Release.
type Timeline struct {
	// Inputs are media files in ffmpeg input order.
	Inputs  []string
	Filters []string
	// Video and Audio are output pad labels, e.g. "[vout]". Audio is empty when silent.
	Video    string
	Audio    string
	Duration float64
	FPS      int

	clips   []*clip.Clip
	mu      sync.Mutex
	release sync.Once
	err     error
}

// FilterGraph is the -filter_complex argument.
func (t *Timeline) FilterGraph() string {
	return strings.Join(t.Filters, ";")
}

// Args returns the ffmpeg input, filter and map arguments for the timeline.
func (t *Timeline) Args() []string {
	var args []string
	for _, in := range t.Inputs {
		args = append(args, "-i", in)
	}
	args = append(args, "-filter_complex", t.FilterGraph(), "-map", t.Video)
	if t.Audio != "" {
		args = append(args, "-map", t.Audio)
	}
	return args
}

// Clips returns the clips backing the timeline in order.
func (t *Timeline) Clips() []*clip.Clip {
	return t.clips
}

// WithAudio returns a timeline with extra inputs and filters and a new audio output.
// The clips move to the returned timeline; releasing t afterwards is a no-op.
func (t *Timeline) WithAudio(inputs, filters []string, audio string) *Timeline {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := &Timeline{
		Inputs:   append(append([]string(nil), t.Inputs...), inputs...),
		Filters:  append(append([]string(nil), t.Filters...), filters...),
		Video:    t.Video,
		Audio:    audio,
		Duration: t.Duration,
		FPS:      t.FPS,
		clips:    t.clips,
	}
	t.clips = nil
	return next
}

// Release deletes every clip the timeline still owns.
func (t *Timeline) Release() error {
	if t == nil {
		return nil
	}
	t.release.Do(func() {
		t.mu.Lock()
		clips := t.clips
		t.clips = nil
		t.mu.Unlock()
		t.err = clip.ReleaseAll(clips)
	})
	return t.err
}

// Compose joins clips in order. Under fade, entries flagged CrossfadeIn blend over
// their predecessor with xfade and the rest hard cut. The returned timeline owns
// the clips; on error they stay with the caller.
func Compose(clips []*clip.Clip, transition model.Transition, fps int) (*Timeline, error) {
	if len(clips) == 0 {
		return nil, errs.Wrap(errs.ErrCompositionEmpty, "", "composite", "no clips to join", nil)
	}
	for i, c := range clips {
		if c == nil {
			return nil, fmt.Errorf("compose: clip %d is nil", i)
		}
		if i == 0 {
			continue
		}
		prev := clips[i-1].Entry
		e := c.Entry
		if e.Scene.Index <= prev.Scene.Index {
			return nil, fmt.Errorf("compose: scene %d follows scene %d", e.Scene.Index, prev.Scene.Index)
		}
		if transition == model.TransitionNone && e.Overlap > 0 {
			return nil, fmt.Errorf("compose: scene %d overlaps its predecessor under transition none", e.Scene.Index)
		}
		if want := prev.End() - e.Overlap; math.Abs(e.StartOffset-want) > 1e-9 {
			return nil, fmt.Errorf("compose: scene %d starts at %v, expected %v", e.Scene.Index, e.StartOffset, want)
		}
	}

	t := &Timeline{
		FPS:      fps,
		Duration: clips[len(clips)-1].Entry.End(),
		clips:    clips,
	}
	for _, c := range clips {
		t.Inputs = append(t.Inputs, c.Path)
	}

	if transition == model.TransitionNone {
		t.Filters = append(t.Filters, concatAll(len(clips)))
	} else {
		t.Filters = append(t.Filters, pairwise(clips)...)
	}
	t.Video = "[vout]"

	if f := narration(clips, t.Duration); f != "" {
		t.Filters = append(t.Filters, f)
		t.Audio = "[aout]"
	}
	return t, nil
}

func concatAll(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[%d:v]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=0[vout]", n)
	return b.String()
}

// pairwise builds the fade chain: each step joins the running result with the next clip.
func pairwise(clips []*clip.Clip) []string {
	if len(clips) == 1 {
		return []string{"[0:v]null[vout]"}
	}
	var out []string
	prev := "[0:v]"
	for i := 1; i < len(clips); i++ {
		label := fmt.Sprintf("[vx%d]", i)
		if i == len(clips)-1 {
			label = "[vout]"
		}
		e := clips[i].Entry
		if e.CrossfadeIn {
			out = append(out, fmt.Sprintf("%s[%d:v]xfade=transition=fade:duration=%s:offset=%s%s",
				prev, i, video.Seconds(e.Overlap), video.Seconds(e.StartOffset), label))
		} else {
			out = append(out, fmt.Sprintf("%s[%d:v]concat=n=2:v=1:a=0%s", prev, i, label))
		}
		prev = label
	}
	return out
}

// narration places each clip's audio at its start offset and sums the tracks.
// The result is padded then cut to the timeline length so silent tail scenes keep
// audio and video the same length.
func narration(clips []*clip.Clip, total float64) string {
	var parts, labels []string
	for i, c := range clips {
		if !c.HasAudio {
			continue
		}
		label := fmt.Sprintf("[an%d]", i)
		ms := int64(math.Round(c.Entry.StartOffset * 1000))
		parts = append(parts, fmt.Sprintf("[%d:a]adelay=delays=%d:all=1%s", i, ms, label))
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return ""
	}
	end := fmt.Sprintf("apad,atrim=end=%s,asetpts=PTS-STARTPTS[aout]", video.Seconds(total))
	if len(labels) == 1 {
		parts = append(parts, labels[0]+end)
	} else {
		parts = append(parts, fmt.Sprintf("%samix=inputs=%d:duration=longest:normalize=0,%s",
			strings.Join(labels, ""), len(labels), end))
	}
	return strings.Join(parts, ";")
}
