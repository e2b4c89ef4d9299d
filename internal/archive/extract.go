// Package archive unpacks uploaded package archives into a staging directory.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	DefaultMaxFiles = 10000
	DefaultMaxBytes = 2 << 30
)

var (
	ErrUnsafePath   = errors.New("archive entry escapes extraction root")
	ErrTooManyFiles = errors.New("archive has too many entries")
	ErrTooLarge     = errors.New("archive expands beyond size limit")
)

// Limits bounds what a single archive may expand into. Zero values select the defaults.
type Limits struct {
	MaxFiles int
	MaxBytes int64
}

// Manifest summarizes an extraction.
type Manifest struct {
	Root  string
	Files int
	Bytes int64
}

// Extractor unpacks zip-format packages.
type Extractor struct {
	limits Limits
	logger *slog.Logger
}

// NewExtractor creates an extractor with the given limits.
func NewExtractor(log *slog.Logger, limits Limits) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = DefaultMaxFiles
	}
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = DefaultMaxBytes
	}
	return &Extractor{
		limits: limits,
		logger: log.With(slog.String("service", "archive")),
	}
}

// Extract unpacks the archive at archivePath into destDir, creating it if needed.
// On failure the partially written destDir is left for the caller to clean up.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) (Manifest, error) {
	rc, err := zip.OpenReader(archivePath)
	if err != nil {
		return Manifest{}, fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	if len(rc.File) > e.limits.MaxFiles {
		return Manifest{}, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(rc.File), e.limits.MaxFiles)
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return Manifest{}, fmt.Errorf("resolve destination: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create destination: %w", err)
	}

	manifest := Manifest{Root: root}
	for _, f := range rc.File {
		if err := ctx.Err(); err != nil {
			return manifest, err
		}
		target, err := safeJoin(root, f.Name)
		if err != nil {
			return manifest, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return manifest, fmt.Errorf("create %s: %w", f.Name, err)
			}
			continue
		}
		if f.Mode()&fs.ModeSymlink != 0 {
			e.logger.Warn("skipping symlink entry", slog.String("entry", f.Name))
			continue
		}
		remaining := e.limits.MaxBytes - manifest.Bytes
		n, err := extractFile(f, target, remaining)
		manifest.Bytes += n
		if err != nil {
			return manifest, err
		}
		manifest.Files++
	}
	e.logger.Debug("archive extracted",
		slog.String("archive", archivePath),
		slog.Int("files", manifest.Files),
		slog.Int64("bytes", manifest.Bytes),
	)
	return manifest, nil
}

func extractFile(f *zip.File, target string, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create parent of %s: %w", f.Name, err)
	}
	src, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer func() {
		_ = src.Close()
	}()
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", f.Name, err)
	}
	n, err := io.Copy(dst, io.LimitReader(src, remaining+1))
	closeErr := dst.Close()
	if err != nil {
		return n, fmt.Errorf("write %s: %w", f.Name, err)
	}
	if n > remaining {
		return n, ErrTooLarge
	}
	if closeErr != nil {
		return n, fmt.Errorf("close %s: %w", f.Name, closeErr)
	}
	return n, nil
}

// safeJoin resolves an entry name under root, rejecting absolute names and ".." escapes.
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if filepath.IsAbs(cleaned) || filepath.VolumeName(cleaned) != "" {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(root, cleaned)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}
