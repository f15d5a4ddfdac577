package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the engine configuration. It is passed to engine.New explicitly.
type Config struct {
	Paths    Paths    `yaml:"paths"`
	Timeline Timeline `yaml:"timeline"`
	Caption  Caption  `yaml:"caption"`
	Encoder  Encoder  `yaml:"encoder"`
	Logging  Logging  `yaml:"logging"`
	// ShowStats logs a per-phase timing report after each run.
	ShowStats    bool   `yaml:"show_stats"`
	BuildVersion string `yaml:"-"`
}

type Paths struct {
	OutputDir string `yaml:"output_dir"`
	BGMDir    string `yaml:"bgm_dir"`
	// WorkDir holds per-run intermediate clips. Empty means the system temp dir.
	WorkDir         string `yaml:"work_dir"`
	OutputURLPrefix string `yaml:"output_url_prefix"`
	BGMURLPrefix    string `yaml:"bgm_url_prefix"`
}

// VideosDir is the published subtree inside the output dir.
func (p Paths) VideosDir() string {
	return filepath.Join(p.OutputDir, "videos")
}

type Timeline struct {
	ScenePad          float64 `yaml:"scene_pad"`
	CrossfadeOverlap  float64 `yaml:"crossfade_overlap"`
	BackgroundFadeOut float64 `yaml:"background_fade_out"`
}

type Caption struct {
	// FontPath empty means the embedded Go Regular face.
	FontPath         string  `yaml:"font_path"`
	FontSize         float64 `yaml:"font_size"`
	HorizontalMargin int     `yaml:"horizontal_margin"`
	BottomOffset     int     `yaml:"bottom_offset"`
	StrokeWidth      float64 `yaml:"stroke_width"`
	Disabled         bool    `yaml:"disabled"`
}

type Encoder struct {
	FFmpegPath           string        `yaml:"ffmpeg_path"`
	FFprobePath          string        `yaml:"ffprobe_path"`
	VideoCodec           string        `yaml:"video_codec"`
	AudioCodec           string        `yaml:"audio_codec"`
	AudioBitrate         string        `yaml:"audio_bitrate"`
	Preset               string        `yaml:"preset"`
	Threads              int           `yaml:"threads"`
	MaxConcurrentEncodes int           `yaml:"max_concurrent_encodes"`
	SceneWorkers         int           `yaml:"scene_workers"`
	StalePartialGrace    time.Duration `yaml:"stale_partial_grace"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Paths: Paths{
			OutputDir:       "output",
			BGMDir:          "bgm",
			OutputURLPrefix: "/output",
			BGMURLPrefix:    "/bgm",
		},
		Timeline: Timeline{
			ScenePad:          0.5,
			CrossfadeOverlap:  0.5,
			BackgroundFadeOut: 2.0,
		},
		Caption: Caption{
			FontSize:         36,
			HorizontalMargin: 40,
			BottomOffset:     200,
			StrokeWidth:      1.5,
		},
		Encoder: Encoder{
			FFmpegPath:           "ffmpeg",
			FFprobePath:          "ffprobe",
			VideoCodec:           "libx264",
			AudioCodec:           "aac",
			AudioBitrate:         "192k",
			Preset:               "medium",
			Threads:              4,
			MaxConcurrentEncodes: 1,
			StalePartialGrace:    30 * time.Minute,
		},
		Logging: Logging{Level: "info", Format: "auto"},
	}
}

// Load reads envFiles (missing ones are ignored), then the YAML file at path when
// non-empty, then STORYREEL_* environment overrides, and validates the result.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"STORYREEL_OUTPUT_DIR": &c.Paths.OutputDir,
		"STORYREEL_BGM_DIR":    &c.Paths.BGMDir,
		"STORYREEL_WORK_DIR":   &c.Paths.WorkDir,
		"STORYREEL_FFMPEG":     &c.Encoder.FFmpegPath,
		"STORYREEL_FFPROBE":    &c.Encoder.FFprobePath,
		"STORYREEL_LOG_LEVEL":  &c.Logging.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := os.LookupEnv("STORYREEL_THREADS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("STORYREEL_THREADS: %w", err)
		}
		c.Encoder.Threads = n
	}
	return nil
}

var allowedPresets = map[string]struct{}{
	"ultrafast": {},
	"superfast": {},
	"veryfast":  {},
	"faster":    {},
	"fast":      {},
	"medium":    {},
	"slow":      {},
	"slower":    {},
	"veryslow":  {},
}

func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		add("paths.output_dir is required")
	}
	if c.Timeline.ScenePad <= 0 {
		add("timeline.scene_pad must be positive, got %v", c.Timeline.ScenePad)
	}
	if c.Timeline.CrossfadeOverlap < 0 {
		add("timeline.crossfade_overlap must not be negative, got %v", c.Timeline.CrossfadeOverlap)
	}
	if c.Timeline.BackgroundFadeOut < 0 {
		add("timeline.background_fade_out must not be negative, got %v", c.Timeline.BackgroundFadeOut)
	}
	if c.Caption.FontSize <= 0 {
		add("caption.font_size must be positive, got %v", c.Caption.FontSize)
	}
	if c.Caption.HorizontalMargin < 0 || c.Caption.BottomOffset < 0 || c.Caption.StrokeWidth < 0 {
		add("caption margins and stroke must not be negative")
	}
	if c.Encoder.Threads < 1 {
		add("encoder.threads must be at least 1, got %d", c.Encoder.Threads)
	}
	if c.Encoder.MaxConcurrentEncodes < 1 {
		add("encoder.max_concurrent_encodes must be at least 1, got %d", c.Encoder.MaxConcurrentEncodes)
	}
	if c.Encoder.SceneWorkers < 0 {
		add("encoder.scene_workers must not be negative, got %d", c.Encoder.SceneWorkers)
	}
	if _, ok := allowedPresets[c.Encoder.Preset]; !ok {
		add("encoder.preset %q is not an x264 preset", c.Encoder.Preset)
	}
	switch c.Logging.Format {
	case "", "auto", "console", "json":
	default:
		add("logging.format %q must be auto, console or json", c.Logging.Format)
	}
	return errors.Join(problems...)
}
