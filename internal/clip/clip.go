package clip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/storyreel/internal/caption"
	"github.com/ivlev/storyreel/internal/errs"
	"github.com/ivlev/storyreel/internal/model"
	"github.com/ivlev/storyreel/internal/video"
)

// Intermediate segments favor speed and quality over size; they never leave the work dir.
const (
	segmentPreset     = "veryfast"
	segmentCRF        = 18
	segmentSampleRate = 44100
)

type Options struct {
	Width, Height int
	FPS           int
	VideoCodec    string
}

// Clip is one rendered scene segment. The Clip owns its files until Release.
type Clip struct {
	Entry    model.TimelineEntry
	Path     string
	HasAudio bool
	// CaptionErr is set when the caption was dropped for this scene.
	CaptionErr error

	files []string
	once  sync.Once
	err   error
}

// Release deletes the clip's files. It is safe to call more than once.
func (c *Clip) Release() error {
	if c == nil {
		return nil
	}
	c.once.Do(func() {
		var errList []error
		for _, f := range c.files {
			if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				errList = append(errList, err)
			}
		}
		c.err = errors.Join(errList...)
	})
	return c.err
}

// ReleaseAll releases every clip and joins the errors.
func ReleaseAll(clips []*Clip) error {
	var errList []error
	for _, c := range clips {
		if err := c.Release(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Assembler renders timeline entries into standalone segments.
type Assembler struct {
	runner   video.Runner
	captions *caption.Renderer
	workDir  string
	opts     Options
	logger   *zap.Logger
}

// NewAssembler creates an assembler writing into workDir. A nil captions renderer
// disables captions.
func NewAssembler(runner video.Runner, captions *caption.Renderer, workDir string, opts Options, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.VideoCodec == "" {
		opts.VideoCodec = "libx264"
	}
	return &Assembler{runner: runner, captions: captions, workDir: workDir, opts: opts, logger: logger}
}

// Assemble renders one entry. Caption problems are recorded on the clip, not returned.
func (a *Assembler) Assemble(ctx context.Context, position int, entry model.TimelineEntry) (*Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := fmt.Sprintf("clip_%03d_%d", position, entry.Scene.Index)
	c := &Clip{
		Entry:    entry,
		Path:     filepath.Join(a.workDir, base+".mkv"),
		HasAudio: entry.HasAudio,
	}
	c.files = append(c.files, c.Path)

	overlay, err := a.renderCaption(entry, filepath.Join(a.workDir, base+"_caption.png"))
	if err != nil {
		c.CaptionErr = err
		a.logger.Warn("caption dropped",
			zap.Int("scene", entry.Scene.Index),
			zap.String("stage", "assemble"),
			zap.Error(err),
		)
	}
	if overlay != nil {
		c.files = append(c.files, overlay.path)
	}

	if err := a.runner.Run(ctx, a.segmentArgs(c, overlay)); err != nil {
		c.Release()
		return nil, err
	}
	return c, nil
}

type captionOverlay struct {
	path string
	x, y int
}

func (a *Assembler) renderCaption(entry model.TimelineEntry, path string) (*captionOverlay, error) {
	if a.captions == nil || entry.Scene.Narration == "" {
		return nil, nil
	}
	rendered, err := a.captions.Render(entry.Scene.Narration, a.opts.Width, a.opts.Height)
	if err != nil {
		return nil, err
	}
	defer rendered.Release()
	if err := rendered.WritePNG(path); err != nil {
		os.Remove(path)
		return nil, errs.Wrap(errs.ErrCaptionRenderFailed, "", "assemble", "write caption image", err)
	}
	return &captionOverlay{path: path, x: rendered.X, y: rendered.Y}, nil
}

func (a *Assembler) segmentArgs(c *Clip, overlay *captionOverlay) []string {
	o := a.opts
	fps := strconv.Itoa(o.FPS)

	args := []string{"-loop", "1", "-framerate", fps, "-i", c.Entry.ImagePath}
	next := 1
	audioIn := -1
	if c.HasAudio {
		audioIn = next
		next++
		args = append(args, "-i", c.Entry.AudioPath)
	}
	captionIn := -1
	if overlay != nil {
		captionIn = next
		args = append(args, "-loop", "1", "-framerate", fps, "-i", overlay.path)
	}

	graph := fmt.Sprintf("[0:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,fps=%d",
		o.Width, o.Height, o.Width, o.Height, o.FPS)
	if captionIn >= 0 {
		graph += fmt.Sprintf(",format=rgba[base];[base][%d:v]overlay=x=%d:y=%d,format=yuv420p[v]", captionIn, overlay.x, overlay.y)
	} else {
		graph += ",format=yuv420p[v]"
	}
	if audioIn >= 0 {
		graph += fmt.Sprintf(";[%d:a]aresample=%d,aformat=sample_fmts=s16:channel_layouts=stereo,apad[a]", audioIn, segmentSampleRate)
	}

	args = append(args, "-filter_complex", graph, "-map", "[v]")
	if audioIn >= 0 {
		args = append(args, "-map", "[a]")
	}
	args = append(args,
		"-t", video.Seconds(c.Entry.ClipDuration),
		"-r", fps,
		"-c:v", o.VideoCodec,
		"-preset", segmentPreset,
		"-crf", strconv.Itoa(segmentCRF),
		"-pix_fmt", "yuv420p",
	)
	if audioIn >= 0 {
		args = append(args, "-c:a", "pcm_s16le")
	}
	args = append(args, "-f", "matroska", c.Path)
	return args
}

// AssembleAll renders entries concurrently, at most workers at a time. Clips come
// back in entry order. On error every clip already rendered is released.
func (a *Assembler) AssembleAll(ctx context.Context, entries []model.TimelineEntry, workers int) ([]*Clip, error) {
	if workers < 1 {
		workers = 1
	}
	clips := make([]*Clip, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, entry := range entries {
		g.Go(func() error {
			c, err := a.Assemble(gctx, i, entry)
			if err != nil {
				return err
			}
			clips[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		ReleaseAll(clips)
		return nil, err
	}
	return clips, nil
}
