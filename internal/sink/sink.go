package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/ivlev/storyreel/internal/compositor"
	"github.com/ivlev/storyreel/internal/errs"
	"github.com/ivlev/storyreel/internal/probe"
	"github.com/ivlev/storyreel/internal/video"
)

// PartialSuffix marks files an encode is still writing.
const PartialSuffix = ".partial"

type Options struct {
	VideoCodec   string
	AudioCodec   string
	Preset       string
	AudioBitrate string
	Threads      int
}

func DefaultOptions() Options {
	return Options{
		VideoCodec:   "libx264",
		AudioCodec:   "aac",
		Preset:       "medium",
		AudioBitrate: "192k",
		Threads:      4,
	}
}

// Output is a published video file.
type Output struct {
	Path     string
	Duration float64
	Size     int64
	// Probed is false when Duration fell back to the computed timeline length.
	Probed bool
}

// Encoder writes a composed timeline to its final location through a locked
// partial file and an atomic rename.
type Encoder struct {
	runner video.Runner
	prober probe.Prober
	opts   Options
	logger *zap.Logger
}

func NewEncoder(runner video.Runner, prober probe.Prober, opts Options, logger *zap.Logger) *Encoder {
	def := DefaultOptions()
	if opts.VideoCodec == "" {
		opts.VideoCodec = def.VideoCodec
	}
	if opts.AudioCodec == "" {
		opts.AudioCodec = def.AudioCodec
	}
	if opts.Preset == "" {
		opts.Preset = def.Preset
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = def.AudioBitrate
	}
	if opts.Threads < 1 {
		opts.Threads = def.Threads
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{runner: runner, prober: prober, opts: opts, logger: logger}
}

// Encode renders t to finalPath. The timeline is released on every return path.
// Nothing exists at finalPath unless Encode succeeds.
func (e *Encoder) Encode(ctx context.Context, t *compositor.Timeline, finalPath string) (out Output, err error) {
	defer func() {
		if rerr := t.Release(); rerr != nil {
			e.logger.Warn("release clips", zap.Error(rerr))
		}
	}()

	if ctx.Err() != nil {
		return Output{}, errs.FromContext(ctx, "", "encode")
	}
	if _, statErr := os.Stat(finalPath); statErr == nil {
		return Output{}, errs.Wrap(errs.ErrEncodeFailed, "", "publish", fmt.Sprintf("%s already exists", finalPath), nil)
	}

	partial := finalPath + PartialSuffix
	lock := flock.New(partial)
	locked, err := lock.TryLock()
	if err != nil {
		return Output{}, errs.Wrap(errs.ErrEncodeFailed, "", "encode", "lock partial output", err)
	}
	if !locked {
		return Output{}, errs.Wrap(errs.ErrEncodeFailed, "", "encode", fmt.Sprintf("%s is locked by another encode", partial), nil)
	}
	published := false
	defer func() {
		if !published {
			if rmErr := os.Remove(partial); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				e.logger.Warn("remove partial output", zap.String("path", partial), zap.Error(rmErr))
			}
		}
		if uerr := lock.Unlock(); uerr != nil {
			e.logger.Debug("unlock partial output", zap.Error(uerr))
		}
	}()

	start := time.Now()
	if runErr := e.runner.Run(ctx, e.args(t, partial)); runErr != nil {
		if ctx.Err() != nil {
			return Output{}, errs.FromContext(ctx, "", "encode")
		}
		return Output{}, errs.WithDiagnostic(
			errs.Wrap(errs.ErrEncodeFailed, "", "encode", "ffmpeg final encode", runErr),
			video.Output(runErr),
		)
	}
	if ctx.Err() != nil {
		return Output{}, errs.FromContext(ctx, "", "encode")
	}

	info, err := os.Stat(partial)
	if err != nil {
		return Output{}, errs.Wrap(errs.ErrEncodeFailed, "", "encode", "stat partial output", err)
	}
	if info.Size() == 0 {
		return Output{}, errs.Wrap(errs.ErrEncodeFailed, "", "encode", "encoder produced an empty file", nil)
	}
	if err := os.Rename(partial, finalPath); err != nil {
		return Output{}, errs.Wrap(errs.ErrEncodeFailed, "", "publish", "rename partial output", err)
	}
	published = true
	// The lock created the partial with owner-only permissions.
	if err := os.Chmod(finalPath, 0o644); err != nil {
		e.logger.Warn("chmod published video", zap.String("path", finalPath), zap.Error(err))
	}

	out = Output{Path: finalPath, Size: info.Size(), Duration: t.Duration}
	res, perr := e.prober.Probe(ctx, finalPath)
	if d := res.DurationSeconds(); perr == nil && d > 0 && !math.IsNaN(d) && !math.IsInf(d, 0) {
		out.Duration = d
		out.Probed = true
	} else {
		e.logger.Warn("probe published video, using timeline duration",
			zap.String("path", finalPath),
			zap.Float64("timeline_duration", t.Duration),
			zap.Error(perr),
		)
	}

	e.logger.Debug("encode finished",
		zap.String("path", finalPath),
		zap.String("size", humanize.Bytes(uint64(out.Size))),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

func (e *Encoder) args(t *compositor.Timeline, partial string) []string {
	o := e.opts
	args := t.Args()
	args = append(args, "-c:v", o.VideoCodec)
	// Hardware encoders use their own preset names.
	if o.VideoCodec == "libx264" || o.VideoCodec == "libx265" {
		args = append(args, "-preset", o.Preset)
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(t.FPS),
		"-threads", strconv.Itoa(o.Threads),
	)
	if t.Audio != "" {
		args = append(args, "-c:a", o.AudioCodec, "-b:a", o.AudioBitrate)
	}
	args = append(args,
		"-t", video.Seconds(t.Duration),
		"-movflags", "+faststart",
		"-f", "mp4",
		partial,
	)
	return args
}

// SweepStale removes partial files in dir older than grace that no encode holds.
func SweepStale(dir string, grace time.Duration, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("sweep %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-grace)
	var removed []string
	var errList []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), PartialSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		lock := flock.New(path)
		locked, err := lock.TryLock()
		if err != nil || !locked {
			logger.Debug("partial in use, kept", zap.String("path", path))
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errList = append(errList, err)
		} else {
			removed = append(removed, path)
			logger.Info("removed stale partial",
				zap.String("path", path),
				zap.String("age", humanize.RelTime(info.ModTime(), time.Now(), "old", "")),
			)
		}
		_ = lock.Unlock()
	}
	return removed, errors.Join(errList...)
}
