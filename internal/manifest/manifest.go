package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/storyreel/internal/errs"
	"github.com/ivlev/storyreel/internal/model"
)

// Manifest is a composition request stored as YAML.
type Manifest struct {
	Version    string      `yaml:"version"`
	Project    string      `yaml:"project"`
	Resolution string      `yaml:"resolution,omitempty"` // e.g. 1080x1920
	FPS        int         `yaml:"fps,omitempty"`
	Transition string      `yaml:"transition,omitempty"` // none or fade
	Background *Background `yaml:"background,omitempty"`
	Scenes     []Scene     `yaml:"scenes"`

	dir string
}

type Background struct {
	Track  string   `yaml:"track"`
	Volume *float64 `yaml:"volume,omitempty"`
}

// Scene is one manifest entry. An omitted index means the entry's 1-based position.
type Scene struct {
	Index     *int    `yaml:"index,omitempty"`
	Narration string  `yaml:"narration,omitempty"`
	Image     string  `yaml:"image"`
	Audio     string  `yaml:"audio"`
	Duration  float64 `yaml:"duration,omitempty"`
}

// Read loads a manifest. Relative asset paths are taken relative to the file.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// Version is the manifest format this package reads. An empty version means Version.
const Version = "1"

// Request converts the manifest, filling request defaults for omitted fields.
func (m *Manifest) Request() (model.CompositionRequest, error) {
	if m.Version != "" && m.Version != Version {
		return model.CompositionRequest{}, errs.Wrap(errs.ErrInvalidRequest, m.Project, "validate",
			fmt.Sprintf("unsupported manifest version %q", m.Version), nil)
	}
	res, err := model.ParseResolution(m.Resolution)
	if err != nil {
		return model.CompositionRequest{}, errs.WithProject(err, m.Project)
	}
	transition, err := model.ParseTransition(m.Transition)
	if err != nil {
		return model.CompositionRequest{}, errs.WithProject(err, m.Project)
	}
	req := model.CompositionRequest{
		ProjectID:        m.Project,
		BackgroundVolume: model.DefaultBackgroundVolume,
		Resolution:       res,
		FPS:              m.FPS,
		Transition:       transition,
	}
	if req.FPS == 0 {
		req.FPS = model.DefaultFPS
	}
	if m.Background != nil {
		req.BackgroundRef = m.Background.Track
		if m.Background.Volume != nil {
			req.BackgroundVolume = *m.Background.Volume
		}
	}
	for i, s := range m.Scenes {
		index := i + 1
		if s.Index != nil {
			index = *s.Index
		}
		req.Scenes = append(req.Scenes, model.Scene{
			Index:            index,
			Narration:        strings.TrimSpace(s.Narration),
			ImageRef:         m.localize(s.Image),
			AudioRef:         m.localize(s.Audio),
			DeclaredDuration: s.Duration,
		})
	}
	return req, nil
}

// localize anchors plain relative paths at the manifest's directory. Absolute and
// URL-style references are left for the resolver.
func (m *Manifest) localize(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || m.dir == "" || strings.HasPrefix(ref, "/") || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(m.dir, ref)
}

// Result is the YAML form of a finished composition.
type Result struct {
	Project          string    `yaml:"project"`
	VideoURL         string    `yaml:"video_url"`
	LocalPath        string    `yaml:"local_path"`
	Duration         float64   `yaml:"duration"`
	TimelineDuration float64   `yaml:"timeline_duration"`
	FileSize         int64     `yaml:"file_size"`
	ScenesUsed       int       `yaml:"scenes_used"`
	Skipped          []Skipped `yaml:"skipped,omitempty"`
	CaptionsDropped  []int     `yaml:"captions_dropped,omitempty"`
	BackgroundMixed  bool      `yaml:"background_mixed"`
	BackgroundVolume float64   `yaml:"background_volume,omitempty"`
}

type Skipped struct {
	Index  int    `yaml:"index"`
	Stage  string `yaml:"stage"`
	Reason string `yaml:"reason"`
}

func NewResult(project string, r *model.CompositionResult) Result {
	out := Result{
		Project:          project,
		VideoURL:         r.VideoURL,
		LocalPath:        r.LocalPath,
		Duration:         r.Duration,
		TimelineDuration: r.TimelineDuration,
		FileSize:         r.FileSize,
		ScenesUsed:       r.ScenesUsed,
		CaptionsDropped:  r.CaptionsDropped,
		BackgroundMixed:  r.BackgroundMixed,
		BackgroundVolume: r.BackgroundVolume,
	}
	for _, s := range r.Skipped {
		out.Skipped = append(out.Skipped, Skipped{Index: s.Index, Stage: s.Stage, Reason: s.Reason})
	}
	return out
}

// WriteResult writes a result to a YAML file.
func WriteResult(res Result, path string) error {
	data, err := yaml.Marshal(res)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
