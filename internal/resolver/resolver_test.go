package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/storyreel/internal/errs"
)

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestOutputPolicy(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(base, "output")
	writeFile(t, filepath.Join(base, "secret.txt"), "secret")
	abs := filepath.Join(out, "images", "p1.png")
	writeFile(t, abs, "png")
	writeFile(t, filepath.Join(out, "audio", "empty.mp3"), "")

	policy := OutputPolicy(out, "/output")

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"verbatim absolute", abs, abs, false},
		{"url prefix", "/output/images/p1.png", abs, false},
		{"url prefix without leading slash", "output/images/p1.png", abs, false},
		{"missing", "/output/images/missing.png", "", true},
		{"empty file", "/output/audio/empty.mp3", "", true},
		{"traversal", "/output/../secret.txt", "", true},
		{"unknown prefix", "/static/images/p1.png", "", true},
		{"blank", "  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Resolve(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errs.ErrAssetNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBackgroundPolicy(t *testing.T) {
	bgm := t.TempDir()
	track := filepath.Join(bgm, "calm.mp3")
	writeFile(t, track, "mp3")

	policy := BackgroundPolicy(bgm, "/bgm")

	for _, ref := range []string{track, "calm.mp3", "/bgm/calm.mp3"} {
		got, err := policy.Resolve(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, track, got, ref)
	}

	_, err := policy.Resolve("../calm.mp3")
	assert.ErrorIs(t, err, errs.ErrAssetNotFound)
}

func TestDirectoryIsNotAnAsset(t *testing.T) {
	dir := t.TempDir()
	_, err := NewPathPolicy().Resolve(dir)
	assert.ErrorIs(t, err, errs.ErrAssetNotFound)
}
