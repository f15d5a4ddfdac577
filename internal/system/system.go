package system

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// openFileTarget covers clip segments, caption images and ffmpeg pipes for
// several concurrent runs.
const openFileTarget = 2048

// InitResourceLimits raises the soft open-file limit toward openFileTarget.
func InitResourceLimits(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn("read open file limit", zap.Error(err))
		return
	}
	if rLimit.Cur >= openFileTarget {
		return
	}
	rLimit.Cur = openFileTarget
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn("raise open file limit", zap.Error(err))
		return
	}
	logger.Debug("open file limit raised", zap.Uint64("limit", uint64(rLimit.Cur)))
}

// Host is a snapshot of the machine the encoder runs on.
type Host struct {
	LogicalCPUs  int
	MemTotal     uint64
	MemAvailable uint64
}

func HostSummary(ctx context.Context) Host {
	h := Host{LogicalCPUs: runtime.NumCPU()}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		h.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemTotal = vm.Total
		h.MemAvailable = vm.Available
	}
	return h
}

// DefaultSceneWorkers sizes per-scene parallelism from the host: half the
// logical CPUs, between 1 and 8. Each worker drives its own ffmpeg.
func DefaultSceneWorkers(ctx context.Context) int {
	n := HostSummary(ctx).LogicalCPUs / 2
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return n
}

// RequiredFilters are the ffmpeg filters composition graphs use.
var RequiredFilters = []string{"scale", "crop", "overlay", "xfade", "concat", "adelay", "amix", "afade", "atrim", "apad"}

// h264Preference lists hardware encoders ahead of the software fallback.
var h264Preference = []string{"h264_videotoolbox", "h264_nvenc", "libx264"}

// Report is the outcome of Preflight.
type Report struct {
	FFmpeg          string
	FFprobe         string
	MissingFilters  []string
	MissingEncoders []string
	BestH264        string
	Host            Host
}

func (r Report) OK() bool {
	return r.FFmpeg != "" && r.FFprobe != "" && len(r.MissingFilters) == 0 && len(r.MissingEncoders) == 0
}

// Checker inspects the ffmpeg installation.
type Checker struct {
	FFmpegPath  string
	FFprobePath string
	// output runs a command and returns its combined output.
	output func(ctx context.Context, name string, args ...string) ([]byte, error)
	lookPath func(string) (string, error)
}

func NewChecker(ffmpegPath, ffprobePath string) *Checker {
	return &Checker{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		output: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
		lookPath: exec.LookPath,
	}
}

// Preflight finds both tools and checks the filters and encoders the engine needs.
// A non-nil error means a tool could not be found or run at all.
func (c *Checker) Preflight(ctx context.Context, encoders ...string) (Report, error) {
	rep := Report{Host: HostSummary(ctx)}

	var err error
	if rep.FFmpeg, err = c.lookPath(c.FFmpegPath); err != nil {
		return rep, fmt.Errorf("ffmpeg not found: %w", err)
	}
	if rep.FFprobe, err = c.lookPath(c.FFprobePath); err != nil {
		return rep, fmt.Errorf("ffprobe not found: %w", err)
	}

	filters, err := c.output(ctx, rep.FFmpeg, "-hide_banner", "-filters")
	if err != nil {
		return rep, fmt.Errorf("list ffmpeg filters: %w", err)
	}
	have := listedNames(string(filters))
	for _, f := range RequiredFilters {
		if _, ok := have[f]; !ok {
			rep.MissingFilters = append(rep.MissingFilters, f)
		}
	}

	encList, err := c.output(ctx, rep.FFmpeg, "-hide_banner", "-encoders")
	if err != nil {
		return rep, fmt.Errorf("list ffmpeg encoders: %w", err)
	}
	haveEnc := listedNames(string(encList))
	for _, e := range encoders {
		if e == "" || e == "auto" {
			continue
		}
		if _, ok := haveEnc[e]; !ok {
			rep.MissingEncoders = append(rep.MissingEncoders, e)
		}
	}
	rep.BestH264 = bestH264(haveEnc)
	return rep, nil
}

// BestH264Encoder asks ffmpeg for its encoders and picks the preferred H.264 one.
func (c *Checker) BestH264Encoder(ctx context.Context) (string, error) {
	out, err := c.output(ctx, c.FFmpegPath, "-hide_banner", "-encoders")
	if err != nil {
		return "", fmt.Errorf("list ffmpeg encoders: %w", err)
	}
	best := bestH264(listedNames(string(out)))
	if best == "" {
		return "", errors.New("ffmpeg has no H.264 encoder")
	}
	return best, nil
}

func bestH264(have map[string]struct{}) string {
	for _, name := range h264Preference {
		if _, ok := have[name]; ok {
			return name
		}
	}
	return ""
}

// listedNames collects the second column of ffmpeg's -filters and -encoders tables.
func listedNames(out string) map[string]struct{} {
	names := make(map[string]struct{})
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] == "=" || strings.HasSuffix(fields[0], ":") {
			continue
		}
		names[fields[1]] = struct{}{}
	}
	return names
}
