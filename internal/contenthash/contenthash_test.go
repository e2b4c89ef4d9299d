package contenthash

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashReaderKnownDigests(t *testing.T) {
	cases := []struct {
		algorithm Algorithm
		want      string
	}{
		{SHA1, "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{SHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}
	for _, tc := range cases {
		t.Run(string(tc.algorithm), func(t *testing.T) {
			got, n, err := HashReader(tc.algorithm, strings.NewReader("abc"), 1)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.EqualValues(t, 3, n)
		})
	}
}

func TestBlakeDigestsAre256Bit(t *testing.T) {
	for _, alg := range []Algorithm{BLAKE3, BLAKE2B} {
		got, _, err := HashReader(alg, strings.NewReader("abc"), 2)
		require.NoError(t, err)
		assert.Len(t, got, 64, string(alg))
	}
	b3, _, _ := HashReader(BLAKE3, strings.NewReader("abc"), 0)
	b2, _, _ := HashReader(BLAKE2B, strings.NewReader("abc"), 0)
	assert.NotEqual(t, b3, b2)
}

func TestHashReaderChunkSizeDoesNotChangeDigest(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	for _, algorithm := range []Algorithm{SHA1, SHA256, BLAKE3, BLAKE2B} {
		small, _, err := HashReader(algorithm, bytes.NewReader(payload), 7)
		require.NoError(t, err)
		large, _, err := HashReader(algorithm, bytes.NewReader(payload), 1<<20)
		require.NoError(t, err)
		assert.Equal(t, small, large, algorithm)
	}
}

func TestHasherIncrementalMatchesOneShot(t *testing.T) {
	h, err := New(BLAKE3)
	require.NoError(t, err)
	_, _ = h.Write([]byte("hello "))
	_, _ = h.Write([]byte("world"))

	oneShot, _, err := HashReader(BLAKE3, strings.NewReader("hello world"), 0)
	require.NoError(t, err)
	assert.Equal(t, oneShot, h.Digest())
	assert.Len(t, h.Digest(), 64)
	assert.EqualValues(t, 11, h.Written())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestHashReaderPropagatesReadError(t *testing.T) {
	_, _, err := HashReader(SHA1, failingReader{}, 16)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRead))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestHashFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o644))
	got, n, err := HashFile(SHA1, p, 0)
	require.NoError(t, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", got)
	assert.EqualValues(t, 3, n)

	_, _, err = HashFile(SHA1, filepath.Join(t.TempDir(), "missing"), 0)
	assert.ErrorIs(t, err, ErrRead)
}

func TestPaths(t *testing.T) {
	digest := "a9993e364706816aba3e25717850c26c9cd0d89d"

	dir, err := Directory(digest)
	require.NoError(t, err)
	assert.Equal(t, "assets/a9/99", dir)

	p, err := StoragePath(digest, ".pdf")
	require.NoError(t, err)
	assert.Equal(t, "assets/a9/99/"+digest+".pdf", p)

	pkg, err := PackageDirectory(digest)
	require.NoError(t, err)
	assert.Equal(t, "assets/a9/99/"+digest, pkg)

	_, err = Directory("abc")
	assert.ErrorIs(t, err, ErrInvalidDigest)
}

func TestParseAlgorithm(t *testing.T) {
	got, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAlgorithm, got)

	got, err = ParseAlgorithm(" BLAKE3 ")
	require.NoError(t, err)
	assert.Equal(t, BLAKE3, got)

	_, err = ParseAlgorithm("md5")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}
