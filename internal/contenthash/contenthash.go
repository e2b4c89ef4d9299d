// Package contenthash derives content-addressed storage locations from a streamed digest.
package contenthash

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported digest function.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
	// BLAKE2B is the 256-bit variant.
	BLAKE2B Algorithm = "blake2b"

	// DefaultAlgorithm keeps the 40-character digests existing asset paths were built with.
	DefaultAlgorithm = SHA1

	// RootDir is the top-level directory every content-addressed path lives under.
	RootDir = "assets"

	// DefaultBufferSize is the chunk size used when no explicit buffer size is given.
	DefaultBufferSize = 64 * 1024
)

var (
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
	ErrInvalidDigest    = errors.New("digest too short to shard")
	// ErrRead marks a failure reading the source stream while hashing.
	ErrRead = errors.New("read stream")
)

// ParseAlgorithm resolves a configured algorithm name; empty selects DefaultAlgorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "":
		return DefaultAlgorithm, nil
	case SHA1:
		return SHA1, nil
	case SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	case BLAKE2B:
		return BLAKE2B, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// Hasher accumulates a digest over bytes written to it, one chunk at a time.
type Hasher struct {
	h       hash.Hash
	written int64
}

// New returns a Hasher for the given algorithm.
func New(algorithm Algorithm) (*Hasher, error) {
	var h hash.Hash
	switch algorithm {
	case SHA1:
		h = sha1.New()
	case SHA256:
		h = sha256.New()
	case BLAKE3:
		h = blake3.New()
	case BLAKE2B:
		var err error
		if h, err = blake2b.New256(nil); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	return &Hasher{h: h}, nil
}

// Write feeds a chunk into the digest. It never fails.
func (h *Hasher) Write(p []byte) (int, error) {
	n, _ := h.h.Write(p)
	h.written += int64(n)
	return n, nil
}

// Written reports how many bytes have been hashed.
func (h *Hasher) Written() int64 { return h.written }

// Digest returns the lower-case hex digest of everything written so far.
func (h *Hasher) Digest() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// HashReader streams r through a new Hasher using a buffer of bufSize bytes.
func HashReader(algorithm Algorithm, r io.Reader, bufSize int) (string, int64, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", 0, err
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	buf := make([]byte, bufSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return "", h.Written(), fmt.Errorf("%w: %w", ErrRead, readErr)
		}
	}
	return h.Digest(), h.Written(), nil
}

// HashFile hashes the file at filePath.
func HashFile(algorithm Algorithm, filePath string, bufSize int) (string, int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrRead, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return HashReader(algorithm, f, bufSize)
}

// Directory returns the sharded directory for a digest: assets/<d[0:2]>/<d[2:4]>.
func Directory(digest string) (string, error) {
	if len(digest) < 4 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	return path.Join(RootDir, digest[:2], digest[2:4]), nil
}

// StoragePath returns assets/<d[0:2]>/<d[2:4]>/<digest><ext>.
func StoragePath(digest, ext string) (string, error) {
	dir, err := Directory(digest)
	if err != nil {
		return "", err
	}
	return path.Join(dir, digest+ext), nil
}

// PackageDirectory returns the directory an extracted package is placed under.
func PackageDirectory(digest string) (string, error) {
	return StoragePath(digest, "")
}
