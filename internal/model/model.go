package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ivlev/storyreel/internal/errs"
)

// Request defaults mirror what the upstream glue layer sends when a field is omitted.
const (
	DefaultBackgroundVolume = 0.15
	DefaultWidth            = 1080
	DefaultHeight           = 1920
	DefaultFPS              = 30
)

type Transition string

const (
	TransitionNone Transition = "none"
	TransitionFade Transition = "fade"
)

// ParseTransition maps a request value onto a Transition. Empty means fade.
func ParseTransition(s string) (Transition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fade":
		return TransitionFade, nil
	case "none":
		return TransitionNone, nil
	default:
		return "", errs.Wrap(errs.ErrInvalidRequest, "", "validate", fmt.Sprintf("unsupported transition %q", s), nil)
	}
}

// Scene is one narrated beat as delivered by the caller.
type Scene struct {
	Index     int
	Narration string
	ImageRef  string
	AudioRef  string
	// DeclaredDuration is advisory; the measured narration length wins.
	DeclaredDuration float64
}

// ResolvedScene is a Scene whose assets were verified on the local filesystem.
type ResolvedScene struct {
	Scene
	ImagePath string
	AudioPath string
}

// TimelineEntry places one resolved scene on the global timeline.
type TimelineEntry struct {
	ResolvedScene
	AudioDuration float64
	HasAudio      bool
	StartOffset   float64
	ClipDuration  float64
	// CrossfadeIn marks that this entry blends over the tail of its predecessor.
	CrossfadeIn bool
	// Overlap is the blend length against the predecessor, zero for hard cuts.
	Overlap float64
}

// End is the entry's end time on the global timeline.
func (e TimelineEntry) End() float64 {
	return e.StartOffset + e.ClipDuration
}

type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

var resolutionPattern = regexp.MustCompile(`^\s*(\d+)\s*[xX]\s*(\d+)\s*$`)

// ParseResolution parses the "WIDTHxHEIGHT" form, e.g. "1080x1920".
func ParseResolution(s string) (Resolution, error) {
	if strings.TrimSpace(s) == "" {
		return Resolution{Width: DefaultWidth, Height: DefaultHeight}, nil
	}
	m := resolutionPattern.FindStringSubmatch(s)
	if m == nil {
		return Resolution{}, errs.Wrap(errs.ErrInvalidRequest, "", "validate", fmt.Sprintf("malformed resolution %q", s), nil)
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	return Resolution{Width: w, Height: h}, nil
}

// CompositionRequest is owned by exactly one composition run.
type CompositionRequest struct {
	ProjectID        string
	Scenes           []Scene
	BackgroundRef    string
	BackgroundVolume float64
	Resolution       Resolution
	FPS              int
	Transition       Transition
}

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Validate checks the request shape. It does not touch the filesystem.
func (r *CompositionRequest) Validate() error {
	fail := func(detail string) error {
		return errs.Wrap(errs.ErrInvalidRequest, r.ProjectID, "validate", detail, nil)
	}
	if !projectIDPattern.MatchString(r.ProjectID) {
		return fail(fmt.Sprintf("project id %q must be 1-64 chars of [A-Za-z0-9_-]", r.ProjectID))
	}
	if len(r.Scenes) == 0 {
		return errs.Wrap(errs.ErrCompositionEmpty, r.ProjectID, "validate", "request has no scenes", nil)
	}
	if r.Resolution.Width <= 0 || r.Resolution.Height <= 0 {
		return fail(fmt.Sprintf("resolution %s must be positive", r.Resolution))
	}
	if r.FPS <= 0 {
		return fail(fmt.Sprintf("fps %d must be positive", r.FPS))
	}
	if !(r.BackgroundVolume >= 0 && r.BackgroundVolume <= 1) {
		return fail(fmt.Sprintf("background volume %.3f outside [0,1]", r.BackgroundVolume))
	}
	switch r.Transition {
	case TransitionNone, TransitionFade:
	default:
		return fail(fmt.Sprintf("unsupported transition %q", r.Transition))
	}
	seen := make(map[int]struct{}, len(r.Scenes))
	for _, s := range r.Scenes {
		if _, dup := seen[s.Index]; dup {
			return fail(fmt.Sprintf("duplicate scene index %d", s.Index))
		}
		seen[s.Index] = struct{}{}
	}
	return nil
}

// SkippedScene records a scene dropped during a run and why.
type SkippedScene struct {
	Index  int
	Stage  string
	Reason string
}

// CompositionResult is created once, at the end of a successful run.
type CompositionResult struct {
	VideoURL  string
	LocalPath string
	// Duration is the measured length of the published file, rounded to 0.1s.
	Duration float64
	// TimelineDuration is the exact computed length of the composed timeline.
	TimelineDuration float64
	FileSize         int64

	ScenesUsed       int
	Skipped          []SkippedScene
	CaptionsDropped  []int
	BackgroundMixed  bool
	BackgroundVolume float64
}
