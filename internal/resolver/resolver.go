package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ivlev/storyreel/internal/errs"
)

// Resolver maps an asset reference onto a readable local file.
type Resolver interface {
	Resolve(ref string) (string, error)
}

// Root re-roots references that start with Prefix under Dir.
// An empty Prefix matches bare relative names.
type Root struct {
	Prefix string
	Dir    string
}

// PathPolicy resolves references verbatim first, then against its roots in order.
type PathPolicy struct {
	Roots []Root
}

// NewPathPolicy creates a policy over the given roots.
func NewPathPolicy(roots ...Root) *PathPolicy {
	return &PathPolicy{Roots: roots}
}

// OutputPolicy resolves scene assets: absolute paths, or URL paths like /output/images/a.png.
func OutputPolicy(outputDir, urlPrefix string) *PathPolicy {
	return NewPathPolicy(Root{Prefix: urlPrefix, Dir: outputDir})
}

// BackgroundPolicy resolves background tracks. It accepts bare names relative to the
// track directory as well as /bgm/ URL paths.
func BackgroundPolicy(bgmDir, urlPrefix string) *PathPolicy {
	return NewPathPolicy(
		Root{Prefix: "", Dir: bgmDir},
		Root{Prefix: urlPrefix, Dir: bgmDir},
	)
}

func (p *PathPolicy) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errs.Wrap(errs.ErrAssetNotFound, "", "resolve", "empty reference", nil)
	}
	if err := checkFile(ref); err == nil {
		return ref, nil
	}

	var lastErr error
	for _, root := range p.Roots {
		candidate, ok := reroot(ref, root)
		if !ok {
			continue
		}
		if err := checkFile(candidate); err != nil {
			lastErr = err
			continue
		}
		return candidate, nil
	}
	return "", errs.Wrap(errs.ErrAssetNotFound, "", "resolve", fmt.Sprintf("reference %q", ref), lastErr)
}

func reroot(ref string, root Root) (string, bool) {
	if root.Dir == "" {
		return "", false
	}
	var rel string
	if root.Prefix == "" {
		if filepath.IsAbs(ref) || strings.HasPrefix(ref, "/") {
			return "", false
		}
		rel = ref
	} else {
		prefix := "/" + strings.Trim(root.Prefix, "/") + "/"
		trimmed := "/" + strings.TrimLeft(ref, "/")
		if !strings.HasPrefix(trimmed, prefix) {
			return "", false
		}
		rel = strings.TrimPrefix(trimmed, prefix)
	}

	rel = filepath.Clean(filepath.FromSlash(rel))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.Join(root.Dir, rel), true
}

// checkFile succeeds for non-empty regular files that can be opened for reading.
func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
