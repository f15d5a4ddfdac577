package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ivlev/storyreel/internal/caption"
	"github.com/ivlev/storyreel/internal/clip"
	"github.com/ivlev/storyreel/internal/compositor"
	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/errs"
	"github.com/ivlev/storyreel/internal/mixer"
	"github.com/ivlev/storyreel/internal/model"
	"github.com/ivlev/storyreel/internal/probe"
	"github.com/ivlev/storyreel/internal/resolver"
	"github.com/ivlev/storyreel/internal/sink"
	"github.com/ivlev/storyreel/internal/system"
	"github.com/ivlev/storyreel/internal/timeline"
	"github.com/ivlev/storyreel/internal/video"
)

// Deps are the engine's collaborators. Zero values are replaced with the
// ffmpeg-backed defaults built from the config.
type Deps struct {
	Runner video.Runner
	Prober probe.Prober
	// Assets resolves scene image and audio references.
	Assets resolver.Resolver
	// Tracks resolves background track references.
	Tracks resolver.Resolver
	Logger *zap.Logger
	// NewID returns the unique part of an output file name.
	NewID func() string
}

// Engine composes videos. One Engine serves any number of concurrent runs.
type Engine struct {
	cfg      *config.Config
	deps     Deps
	captions *caption.Renderer
	encodes  *semaphore.Weighted
	workers  int
	logger   *zap.Logger
}

func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Encoder.VideoCodec == "auto" {
		c := *cfg
		checker := system.NewChecker(cfg.Encoder.FFmpegPath, cfg.Encoder.FFprobePath)
		best, err := checker.BestH264Encoder(context.Background())
		if err != nil {
			deps.Logger.Warn("detect H.264 encoder, using libx264", zap.Error(err))
			best = "libx264"
		}
		c.Encoder.VideoCodec = best
		cfg = &c
	}
	if deps.Runner == nil {
		deps.Runner = video.NewFFmpeg(cfg.Encoder.FFmpegPath, deps.Logger.Named("ffmpeg"))
	}
	if deps.Prober == nil {
		deps.Prober = probe.FFprobe{Binary: cfg.Encoder.FFprobePath}
	}
	if deps.Assets == nil {
		deps.Assets = resolver.OutputPolicy(cfg.Paths.OutputDir, cfg.Paths.OutputURLPrefix)
	}
	if deps.Tracks == nil {
		deps.Tracks = resolver.BackgroundPolicy(cfg.Paths.BGMDir, cfg.Paths.BGMURLPrefix)
	}
	if deps.NewID == nil {
		deps.NewID = newID
	}

	var captions *caption.Renderer
	if !cfg.Caption.Disabled {
		style := caption.DefaultStyle()
		style.FontSize = cfg.Caption.FontSize
		style.HorizontalMargin = cfg.Caption.HorizontalMargin
		style.BottomOffset = cfg.Caption.BottomOffset
		style.StrokeWidth = cfg.Caption.StrokeWidth
		r, err := caption.NewRenderer(cfg.Caption.FontPath, style)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		captions = r
	}

	workers := cfg.Encoder.SceneWorkers
	if workers == 0 {
		workers = system.DefaultSceneWorkers(context.Background())
	}

	return &Engine{
		cfg:      cfg,
		deps:     deps,
		captions: captions,
		encodes:  semaphore.NewWeighted(int64(cfg.Encoder.MaxConcurrentEncodes)),
		workers:  workers,
		logger:   deps.Logger,
	}, nil
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// run carries the state of one Compose call.
type run struct {
	e      *Engine
	req    model.CompositionRequest
	log    *zap.Logger
	result model.CompositionResult
	phases []phase
}

type phase struct {
	name string
	took time.Duration
}

func (r *run) timed(name string, start time.Time) {
	r.phases = append(r.phases, phase{name: name, took: time.Since(start)})
}

func (r *run) skip(index int, stage string, err error) {
	r.result.Skipped = append(r.result.Skipped, model.SkippedScene{Index: index, Stage: stage, Reason: err.Error()})
	r.log.Warn("scene skipped",
		zap.Int("scene", index),
		zap.String("stage", stage),
		zap.Error(err),
	)
}

// fail tags err with the project and, for context errors, converts it to ErrCancelled.
func (r *run) fail(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil && !errors.Is(err, errs.ErrCancelled) {
		return errs.FromContext(ctx, r.req.ProjectID, stage)
	}
	if errs.Kind(err) == nil {
		err = errs.WithDiagnostic(errs.Wrap(errs.ErrEncodeFailed, r.req.ProjectID, stage, "", err), video.Output(err))
	}
	return errs.WithProject(err, r.req.ProjectID)
}

// Compose runs the whole pipeline for req. Either a complete file is published and
// described by the result, or nothing is left behind.
func (e *Engine) Compose(ctx context.Context, req model.CompositionRequest) (*model.CompositionResult, error) {
	started := time.Now()
	r := &run{e: e, req: req, log: e.logger.With(zap.String("project", req.ProjectID))}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := errs.FromContext(ctx, req.ProjectID, "validate"); err != nil {
		return nil, err
	}

	resolved, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := r.buildTimeline(ctx, resolved)
	if err != nil {
		return nil, err
	}

	videosDir, err := r.prepareOutput()
	if err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(e.cfg.Paths.WorkDir, "storyreel_"+req.ProjectID+"_")
	if err != nil {
		return nil, errs.Wrap(errs.ErrEncodeFailed, req.ProjectID, "assemble", "create work dir", err)
	}
	defer os.RemoveAll(workDir)

	phaseStart := time.Now()
	asm := clip.NewAssembler(e.deps.Runner, e.captions, workDir, clip.Options{
		Width:  req.Resolution.Width,
		Height: req.Resolution.Height,
		FPS:    req.FPS,
	}, r.log)
	clips, err := asm.AssembleAll(ctx, entries, e.workers)
	if err != nil {
		return nil, r.fail(ctx, "assemble", err)
	}
	for _, c := range clips {
		if c.CaptionErr != nil {
			r.result.CaptionsDropped = append(r.result.CaptionsDropped, c.Entry.Scene.Index)
		}
	}
	r.timed("assemble", phaseStart)

	tl, err := compositor.Compose(clips, req.Transition, req.FPS)
	if err != nil {
		clip.ReleaseAll(clips)
		return nil, r.fail(ctx, "composite", err)
	}
	current := tl
	defer func() { current.Release() }()

	mixed, info, err := mixer.New(e.deps.Tracks, e.deps.Prober, e.cfg.Timeline.BackgroundFadeOut, r.log).
		Mix(ctx, tl, req.BackgroundRef, req.BackgroundVolume)
	if err != nil {
		return nil, r.fail(ctx, "mix", err)
	}
	current = mixed
	r.result.BackgroundMixed = info.Applied
	if info.Applied {
		r.result.BackgroundVolume = info.Volume
	}

	if err := e.encodes.Acquire(ctx, 1); err != nil {
		return nil, errs.FromContext(ctx, req.ProjectID, "encode")
	}
	defer e.encodes.Release(1)

	phaseStart = time.Now()
	name := fmt.Sprintf("video_%s_%s.mp4", req.ProjectID, e.deps.NewID())
	encoder := sink.NewEncoder(e.deps.Runner, e.deps.Prober, sink.Options{
		VideoCodec:   e.cfg.Encoder.VideoCodec,
		AudioCodec:   e.cfg.Encoder.AudioCodec,
		AudioBitrate: e.cfg.Encoder.AudioBitrate,
		Preset:       e.cfg.Encoder.Preset,
		Threads:      e.cfg.Encoder.Threads,
	}, r.log)
	out, err := encoder.Encode(ctx, current, filepath.Join(videosDir, name))
	if err != nil {
		return nil, r.fail(ctx, "encode", err)
	}
	r.timed("encode", phaseStart)

	r.result.LocalPath = out.Path
	r.result.VideoURL = strings.TrimRight(e.cfg.Paths.OutputURLPrefix, "/") + "/videos/" + name
	r.result.Duration = math.Round(out.Duration*10) / 10
	r.result.TimelineDuration = current.Duration
	r.result.FileSize = out.Size
	r.result.ScenesUsed = len(entries)

	r.log.Info("video published",
		zap.String("path", out.Path),
		zap.Float64("duration", r.result.Duration),
		zap.String("size", humanize.Bytes(uint64(out.Size))),
		zap.Int("scenes", r.result.ScenesUsed),
		zap.Int("skipped", len(r.result.Skipped)),
		zap.Bool("background", r.result.BackgroundMixed),
	)
	if e.cfg.ShowStats {
		r.report(time.Since(started))
	}
	return &r.result, nil
}

// resolve maps scene references to local files in parallel. Unresolvable scenes
// are skipped; an empty result is fatal.
func (r *run) resolve(ctx context.Context) ([]model.ResolvedScene, error) {
	start := time.Now()
	scenes := r.req.Scenes
	out := make([]*model.ResolvedScene, len(scenes))
	failed := make([]error, len(scenes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.e.workers)
	for i := range scenes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := scenes[i]
			img, err := r.e.deps.Assets.Resolve(s.ImageRef)
			if err != nil {
				failed[i] = fmt.Errorf("image: %w", err)
				return nil
			}
			audio, err := r.e.deps.Assets.Resolve(s.AudioRef)
			if err != nil {
				failed[i] = fmt.Errorf("audio: %w", err)
				return nil
			}
			out[i] = &model.ResolvedScene{Scene: s, ImagePath: img, AudioPath: audio}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.FromContext(ctx, r.req.ProjectID, "resolve")
	}

	var resolved []model.ResolvedScene
	for i := range scenes {
		if failed[i] != nil {
			r.skip(scenes[i].Index, "resolve", failed[i])
			continue
		}
		resolved = append(resolved, *out[i])
	}
	r.timed("resolve", start)
	if len(resolved) == 0 {
		return nil, errs.Wrap(errs.ErrCompositionEmpty, r.req.ProjectID, "resolve", "no scene could be resolved", nil)
	}
	return resolved, nil
}

func (r *run) buildTimeline(ctx context.Context, resolved []model.ResolvedScene) ([]model.TimelineEntry, error) {
	start := time.Now()
	measured, failures, err := timeline.Measure(ctx, r.e.deps.Prober, resolved, r.e.workers)
	if err != nil {
		return nil, errs.FromContext(ctx, r.req.ProjectID, "timeline")
	}
	for _, f := range failures {
		r.skip(f.Scene.Index, "timeline", f.Err)
	}
	entries, err := timeline.Build(measured, timeline.Options{
		Pad:        r.e.cfg.Timeline.ScenePad,
		Overlap:    r.e.cfg.Timeline.CrossfadeOverlap,
		Transition: r.req.Transition,
	})
	if err != nil {
		return nil, errs.WithProject(err, r.req.ProjectID)
	}
	r.timed("timeline", start)
	r.log.Debug("timeline built",
		zap.Int("scenes", len(entries)),
		zap.Float64("duration", timeline.Total(entries)),
		zap.String("transition", string(r.req.Transition)),
	)
	return entries, nil
}

// prepareOutput checks the managed output dir and makes sure its videos subtree
// exists. Stale partials from abandoned runs are swept on the way.
func (r *run) prepareOutput() (string, error) {
	cfg := r.e.cfg
	info, err := os.Stat(cfg.Paths.OutputDir)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", cfg.Paths.OutputDir)
		}
		return "", errs.Wrap(errs.ErrEncodeFailed, r.req.ProjectID, "publish", "output dir unavailable", err)
	}
	dir := cfg.Paths.VideosDir()
	if err := os.Mkdir(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return "", errs.Wrap(errs.ErrEncodeFailed, r.req.ProjectID, "publish", "create videos dir", err)
	}
	if _, err := sink.SweepStale(dir, cfg.Encoder.StalePartialGrace, r.log); err != nil {
		r.log.Warn("sweep stale partials", zap.Error(err))
	}
	return dir, nil
}

// report logs the per-phase timing of a finished run.
func (r *run) report(total time.Duration) {
	fields := []zap.Field{
		zap.String("build", r.e.cfg.BuildVersion),
		zap.Duration("total", total),
	}
	for _, p := range r.phases {
		fields = append(fields, zap.Duration(p.name, p.took))
	}
	r.log.Info("performance report", fields...)
}
