package errs

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidRequest             = errors.New("invalid request")
	ErrAssetNotFound              = errors.New("asset not found")
	ErrCompositionEmpty           = errors.New("composition empty")
	ErrCaptionRenderFailed        = errors.New("caption render failed")
	ErrBackgroundTrackUnavailable = errors.New("background track unavailable")
	ErrEncodeFailed               = errors.New("encode failed")
	ErrCancelled                  = errors.New("cancelled")
)

// Error tags a failure with the run it belongs to and the stage that raised it.
type Error struct {
	Kind    error
	Project string
	Stage   string
	Detail  string
	// Diagnostic is the external tool's own message, kept verbatim.
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Project != "" {
		parts = append(parts, "project "+e.Project)
	}
	if e.Stage != "" {
		parts = append(parts, e.Stage)
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	msg := e.Kind.Error()
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, ": ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds an *Error. A nil kind is treated as ErrEncodeFailed.
func Wrap(kind error, project, stage, detail string, err error) error {
	if kind == nil {
		kind = ErrEncodeFailed
	}
	return &Error{
		Kind:    kind,
		Project: strings.TrimSpace(project),
		Stage:   strings.TrimSpace(stage),
		Detail:  strings.TrimSpace(detail),
		Err:     err,
	}
}

// WithDiagnostic attaches an external tool message to err when err is an *Error.
func WithDiagnostic(err error, diagnostic string) error {
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.Diagnostic = strings.TrimSpace(diagnostic)
		return &cp
	}
	return err
}

// WithProject fills in the project of the outermost *Error when it has none.
func WithProject(err error, project string) error {
	var e *Error
	if errors.As(err, &e) && e.Project == "" {
		cp := *e
		cp.Project = strings.TrimSpace(project)
		return &cp
	}
	return err
}

// Diagnostic returns the external tool message carried by err, if any.
func Diagnostic(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Diagnostic
	}
	return ""
}

// Stage returns the stage name carried by err, if any.
func Stage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// FromContext converts a context failure into ErrCancelled, or returns nil if ctx is live.
func FromContext(ctx context.Context, project, stage string) error {
	if err := ctx.Err(); err != nil {
		return Wrap(ErrCancelled, project, stage, "", err)
	}
	return nil
}

// Kind reports the first taxonomy sentinel err matches, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrCancelled, ErrInvalidRequest, ErrCompositionEmpty, ErrEncodeFailed,
		ErrAssetNotFound, ErrCaptionRenderFailed, ErrBackgroundTrackUnavailable,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
