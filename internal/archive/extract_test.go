package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "course.oam")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestExtractWritesTree(t *testing.T) {
	archivePath := writeZip(t, map[string]string{
		"index.html":        "<html></html>",
		"scripts/edge.js":   "var a = 1;",
		"images/sprite.png": "png-bytes",
		"empty/":            "",
	})
	dest := filepath.Join(t.TempDir(), "course.oam_unzipped")

	m, err := NewExtractor(nil, Limits{}).Extract(context.Background(), archivePath, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Files)
	assert.EqualValues(t, len("<html></html>")+len("var a = 1;")+len("png-bytes"), m.Bytes)

	body, err := os.ReadFile(filepath.Join(dest, "scripts", "edge.js"))
	require.NoError(t, err)
	assert.Equal(t, "var a = 1;", string(body))

	info, err := os.Stat(filepath.Join(dest, "empty"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExtractRejectsTraversal(t *testing.T) {
	archivePath := writeZip(t, map[string]string{"../../evil.sh": "rm -rf /"})
	dest := filepath.Join(t.TempDir(), "out")

	_, err := NewExtractor(nil, Limits{}).Extract(context.Background(), archivePath, dest)
	require.ErrorIs(t, err, ErrUnsafePath)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "evil.sh"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractEnforcesLimits(t *testing.T) {
	archivePath := writeZip(t, map[string]string{
		"a.txt": strings.Repeat("a", 64),
		"b.txt": strings.Repeat("b", 64),
	})

	_, err := NewExtractor(nil, Limits{MaxFiles: 1}).Extract(context.Background(), archivePath, t.TempDir())
	assert.ErrorIs(t, err, ErrTooManyFiles)

	_, err = NewExtractor(nil, Limits{MaxBytes: 100}).Extract(context.Background(), archivePath, t.TempDir())
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestExtractRejectsNonArchive(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.oam")
	require.NoError(t, os.WriteFile(p, []byte("not a zip"), 0o644))
	_, err := NewExtractor(nil, Limits{}).Extract(context.Background(), p, t.TempDir())
	assert.Error(t, err)
}

func TestExtractHonoursCancellation(t *testing.T) {
	archivePath := writeZip(t, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExtractor(nil, Limits{}).Extract(ctx, archivePath, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSafeJoin(t *testing.T) {
	root := filepath.Join(string(os.PathSeparator), "tmp", "root")
	cases := []struct {
		name string
		ok   bool
	}{
		{"a/b.txt", true},
		{"./a.txt", true},
		{"a/../b.txt", true},
		{"../b.txt", false},
		{"/etc/passwd", false},
		{`..\windows.txt`, false},
	}
	for _, tc := range cases {
		_, err := safeJoin(root, tc.name)
		if tc.ok && err != nil {
			t.Fatalf("safeJoin(%q) unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("safeJoin(%q) expected error", tc.name)
		}
	}
}
