// Package localfs implements storage.Provider on the local filesystem.
package localfs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/storage"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/thumbnail"
)

const (
	// Name is the repository name this provider registers under by default.
	Name = "localfs"

	defaultBufferSize = 64 * 1024
	thumbnailSuffix   = "_thumb.png"
)

var ErrOutsideRoot = errors.New("path escapes storage root")

// Provider stores assets below a tenant root, with a separate master root for shared reads.
type Provider struct {
	root       string
	masterRoot string
	logger     *slog.Logger
}

// New creates a provider rooted at root. An empty masterRoot reuses root.
func New(log *slog.Logger, root, masterRoot string) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if strings.TrimSpace(masterRoot) == "" {
		masterRoot = absRoot
	}
	absMaster, err := filepath.Abs(masterRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve master root: %w", err)
	}
	for _, dir := range []string{absRoot, absMaster} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage root %s: %w", dir, err)
		}
	}
	return &Provider{
		root:       absRoot,
		masterRoot: absMaster,
		logger:     log.With(slog.String("service", "localfs")),
	}, nil
}

// ThumbnailPath returns where StoreFile places the thumbnail for a stored path.
func ThumbnailPath(p string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + thumbnailSuffix
}

func (p *Provider) StoreFile(ctx context.Context, src io.Reader, dest string, opts storage.StoreOptions) (storage.StoredFile, error) {
	full, err := p.resolve(dest, false)
	if err != nil {
		return storage.StoredFile{}, err
	}
	size, err := writeAtomic(ctx, src, full)
	if err != nil {
		return storage.StoredFile{}, err
	}
	stored := storage.StoredFile{Path: dest}
	if opts.CreateMetadata {
		stored.Size = size
		stored.MimeType = detectMime(full)
	}
	if opts.CreateThumbnail {
		mimeType := stored.MimeType
		if mimeType == "" {
			mimeType = detectMime(full)
		}
		if thumbnail.Supported(mimeType) {
			thumbPath := ThumbnailPath(dest)
			if err := p.writeThumbnail(ctx, full, thumbPath, opts.Thumbnail); err != nil {
				p.logger.Warn("thumbnail generation failed",
					slog.String("path", dest),
					slog.Any("error", err),
				)
			} else {
				stored.ThumbnailPath = thumbPath
			}
		}
	}
	return stored, nil
}

func (p *Provider) writeThumbnail(ctx context.Context, full, thumbPath string, opts storage.ThumbnailOptions) error {
	thumbFull, err := p.resolve(thumbPath, false)
	if err != nil {
		return err
	}
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(thumbnail.Generate(f, pw, opts.Width, opts.Height))
	}()
	_, err = writeAtomic(ctx, pr, thumbFull)
	_ = pr.Close()
	return err
}

func (p *Provider) StoreDirectory(ctx context.Context, srcDir, dest string) error {
	full, err := p.resolve(dest, false)
	if err != nil {
		return err
	}
	return filepath.WalkDir(srcDir, func(walkPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, walkPath)
		if err != nil {
			return err
		}
		target := filepath.Join(full, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		f, err := os.Open(walkPath)
		if err != nil {
			return err
		}
		_, err = writeAtomic(ctx, f, target)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		return nil
	})
}

type bufferedFile struct {
	*bufio.Reader
	io.Closer
}

func (p *Provider) Open(_ context.Context, name string, opts storage.OpenOptions) (io.ReadCloser, error) {
	full, err := p.resolve(name, opts.ForceMaster)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	return bufferedFile{Reader: bufio.NewReaderSize(f, size), Closer: f}, nil
}

func (p *Provider) DeleteFile(_ context.Context, name string) error {
	full, err := p.resolve(name, false)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	thumbFull, err := p.resolve(ThumbnailPath(name), false)
	if err == nil {
		if err := os.Remove(thumbFull); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("delete thumbnail failed", slog.String("path", name), slog.Any("error", err))
		}
	}
	return nil
}

func (p *Provider) RemoveDirectory(_ context.Context, name string) error {
	full, err := p.resolve(name, false)
	if err != nil {
		return err
	}
	if full == p.root {
		return fmt.Errorf("%w: refusing to remove storage root", ErrOutsideRoot)
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("remove directory %s: %w", name, err)
	}
	return nil
}

func (p *Provider) resolve(name string, master bool) (string, error) {
	root := p.root
	if master {
		root = p.masterRoot
	}
	cleaned := path.Clean("/" + filepath.ToSlash(name))
	full := filepath.Join(root, filepath.FromSlash(cleaned))
	if full != root && !strings.HasPrefix(full, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}
	return full, nil
}

// writeAtomic copies src into a temp file next to full and renames it into place,
// so concurrent writers of the same content-addressed path never expose partial bytes.
func writeAtomic(ctx context.Context, src io.Reader, full string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()
	n, err := io.Copy(tmp, &contextReader{ctx: ctx, r: src})
	closeErr := tmp.Close()
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close: %w", closeErr)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return n, fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		return n, fmt.Errorf("rename: %w", err)
	}
	committed = true
	return n, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func detectMime(full string) string {
	mt, err := mimetype.DetectFile(full)
	if err == nil && mt.String() != "application/octet-stream" {
		return mt.String()
	}
	if byExt := mime.TypeByExtension(filepath.Ext(full)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
