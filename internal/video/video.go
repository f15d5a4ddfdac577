package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runner executes one ffmpeg invocation. Implementations must honor ctx cancellation.
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// ToolError is a non-zero ffmpeg exit along with what ffmpeg printed.
type ToolError struct {
	Err    error
	Output string
}

func (e *ToolError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("ffmpeg: %v", e.Err)
	}
	return fmt.Sprintf("ffmpeg: %v: %s", e.Err, e.Output)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Output returns ffmpeg's diagnostic text carried by err, if any.
func Output(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Output
	}
	return ""
}

// maxDiagnostic bounds how much stderr is kept for an error report.
const maxDiagnostic = 8 << 10

// FFmpeg runs the system ffmpeg binary.
type FFmpeg struct {
	Binary string
	Logger *zap.Logger
}

// NewFFmpeg creates a runner for binary ("ffmpeg" when empty).
func NewFFmpeg(binary string, logger *zap.Logger) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{Binary: binary, Logger: logger}
}

var baseArgs = []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}

func (f *FFmpeg) Run(ctx context.Context, args []string) error {
	full := append(append([]string(nil), baseArgs...), args...)
	cmd := exec.CommandContext(ctx, f.Binary, full...)
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	start := time.Now()
	f.Logger.Debug("ffmpeg start", zap.Strings("args", full))
	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &ToolError{Err: err, Output: tail(stderr.Bytes(), maxDiagnostic)}
	}
	f.Logger.Debug("ffmpeg done", zap.Duration("elapsed", elapsed))
	return nil
}

func tail(b []byte, limit int) string {
	out := bytes.TrimSpace(b)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return string(out)
}

// Seconds formats a time value for ffmpeg options and filter arguments.
func Seconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
