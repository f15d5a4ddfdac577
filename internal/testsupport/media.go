package testsupport

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/ivlev/storyreel/internal/probe"
)

// FakeRunner stands in for ffmpeg. Each call writes its output path, which by
// convention is the last argument.
type FakeRunner struct {
	// Fail, when set, decides per call whether ffmpeg "exits" with an error.
	// The output file is still written first, as a real partial encode would.
	Fail func(args []string) error
	// Block makes calls whose output matches BlockOn wait for ctx to end.
	Block   bool
	BlockOn func(args []string) bool
	// Started receives once per blocking call, after the output file exists.
	Started chan struct{}

	mu    sync.Mutex
	calls [][]string
}

func (r *FakeRunner) Run(ctx context.Context, args []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), args...))
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("fake ffmpeg: no arguments")
	}
	out := args[len(args)-1]
	if err := os.WriteFile(out, []byte("fake media "+out), 0o644); err != nil {
		return err
	}
	if r.Block && (r.BlockOn == nil || r.BlockOn(args)) {
		if r.Started != nil {
			r.Started <- struct{}{}
		}
		<-ctx.Done()
		return ctx.Err()
	}
	if r.Fail != nil {
		return r.Fail(args)
	}
	return nil
}

// Calls returns a copy of every argument list seen so far.
func (r *FakeRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// FakeProber answers probes from fixed durations keyed by path.
type FakeProber struct {
	Durations map[string]float64
	// Silent lists paths that have a duration but no audio stream.
	Silent map[string]bool
	// Default, when positive, answers for paths not listed in Durations.
	Default float64

	mu    sync.Mutex
	calls []string
}

func (p *FakeProber) Probe(ctx context.Context, path string) (probe.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, path)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return probe.Result{}, err
	}
	d, ok := p.Durations[path]
	if !ok {
		if p.Default <= 0 {
			return probe.Result{}, fmt.Errorf("fake ffprobe: %s: no such file", path)
		}
		d = p.Default
	}
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	res := probe.Result{
		Format: probe.Format{
			Filename: path,
			Duration: strconv.FormatFloat(d, 'f', -1, 64),
			Size:     strconv.FormatInt(size, 10),
		},
	}
	if !p.Silent[path] {
		res.Streams = append(res.Streams, probe.Stream{Index: 0, CodecType: "audio"})
	}
	return res, nil
}

// Calls returns every probed path.
func (p *FakeProber) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}
