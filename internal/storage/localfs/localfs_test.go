package localfs

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/storage"
)

func newProvider(t *testing.T) (*Provider, string, string) {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "tenant")
	master := filepath.Join(base, "master")
	p, err := New(nil, root, master)
	require.NoError(t, err)
	return p, root, master
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.White)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStoreFileWithMetadata(t *testing.T) {
	p, root, _ := newProvider(t)
	body := "%PDF-1.4\n" + strings.Repeat("x", 491)

	stored, err := p.StoreFile(context.Background(), strings.NewReader(body), "assets/ab/cd/abcd.pdf", storage.StoreOptions{
		CreateMetadata:  true,
		CreateThumbnail: true,
		Thumbnail:       storage.ThumbnailOptions{Height: 200},
	})
	require.NoError(t, err)
	assert.Equal(t, "assets/ab/cd/abcd.pdf", stored.Path)
	assert.EqualValues(t, len(body), stored.Size)
	assert.Equal(t, "application/pdf", stored.MimeType)
	assert.Empty(t, stored.ThumbnailPath, "pdf has no thumbnail")

	onDisk, err := os.ReadFile(filepath.Join(root, "assets", "ab", "cd", "abcd.pdf"))
	require.NoError(t, err)
	assert.Equal(t, body, string(onDisk))

	entries, err := os.ReadDir(filepath.Join(root, "assets", "ab", "cd"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStoreFileGeneratesThumbnail(t *testing.T) {
	p, root, _ := newProvider(t)
	stored, err := p.StoreFile(context.Background(), bytes.NewReader(pngBytes(t, 600, 400)), "assets/12/34/1234.png", storage.StoreOptions{
		CreateMetadata:  true,
		CreateThumbnail: true,
		Thumbnail:       storage.ThumbnailOptions{Height: 200},
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", stored.MimeType)
	assert.Equal(t, "assets/12/34/1234_thumb.png", stored.ThumbnailPath)

	f, err := os.Open(filepath.Join(root, "assets", "12", "34", "1234_thumb.png"))
	require.NoError(t, err)
	defer f.Close()
	thumb, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 200, thumb.Bounds().Dy())
	assert.Equal(t, 300, thumb.Bounds().Dx())

	require.NoError(t, p.DeleteFile(context.Background(), "assets/12/34/1234.png"))
	_, err = os.Stat(filepath.Join(root, "assets", "12", "34", "1234_thumb.png"))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "thumbnail should be deleted with the file")
}

func TestStoreFileWithoutMetadata(t *testing.T) {
	p, _, _ := newProvider(t)
	stored, err := p.StoreFile(context.Background(), strings.NewReader("hello"), "a.txt", storage.StoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, storage.StoredFile{Path: "a.txt"}, stored)
}

func TestOpenAndForceMaster(t *testing.T) {
	p, _, master := newProvider(t)
	ctx := context.Background()
	_, err := p.StoreFile(ctx, strings.NewReader("tenant bytes"), "assets/x.txt", storage.StoreOptions{})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(master, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(master, "assets", "x.txt"), []byte("master bytes"), 0o644))

	rc, err := p.Open(ctx, "assets/x.txt", storage.OpenOptions{BufferSize: 16})
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "tenant bytes", string(got))

	rc, err = p.Open(ctx, "assets/x.txt", storage.OpenOptions{ForceMaster: true})
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "master bytes", string(got))

	_, err = p.Open(ctx, "assets/missing.txt", storage.OpenOptions{})
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestStoreAndRemoveDirectory(t *testing.T) {
	p, root, _ := newProvider(t)
	ctx := context.Background()
	staging := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "js"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "index.html"), []byte("<html/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "js", "edge.js"), []byte("edge()"), 0o644))

	require.NoError(t, p.StoreDirectory(ctx, staging, "assets/aa/bb/aabb"))
	got, err := os.ReadFile(filepath.Join(root, "assets", "aa", "bb", "aabb", "js", "edge.js"))
	require.NoError(t, err)
	assert.Equal(t, "edge()", string(got))

	require.NoError(t, p.RemoveDirectory(ctx, "assets/aa/bb/aabb"))
	_, err = os.Stat(filepath.Join(root, "assets", "aa", "bb", "aabb"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	assert.ErrorIs(t, p.RemoveDirectory(ctx, "/"), ErrOutsideRoot)
}

func TestResolveStaysInsideRoot(t *testing.T) {
	p, root, _ := newProvider(t)
	full, err := p.resolve("../../etc/passwd", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "etc", "passwd"), full)
}

func TestDeleteMissingFile(t *testing.T) {
	p, _, _ := newProvider(t)
	err := p.DeleteFile(context.Background(), "assets/none.bin")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestStoreFileHonoursCancellation(t *testing.T) {
	p, _, _ := newProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.StoreFile(ctx, strings.NewReader("data"), "a.bin", storage.StoreOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
