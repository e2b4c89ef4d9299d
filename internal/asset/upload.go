package asset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/archive"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/contenthash"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/identity"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/logger"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/metrics"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/storage"
)

// stagingSuffix is appended to the uploaded archive path to name its extraction directory.
const stagingSuffix = "_unzipped"

// Compensation steps reported to metrics.
const (
	StepDeleteFile      = "delete_file"
	StepRemoveDirectory = "remove_directory"
	StepRemoveStaging   = "remove_staging"
	StepRemoveArchive   = "remove_archive"
)

// PackageExtractor unpacks an uploaded archive into a local directory.
type PackageExtractor interface {
	Extract(ctx context.Context, archivePath, destDir string) (archive.Manifest, error)
}

// UploaderConfig tunes upload classification, hashing and thumbnails.
type UploaderConfig struct {
	HashAlgorithm     contenthash.Algorithm
	BufferSize        int
	Thumbnail         storage.ThumbnailOptions
	PackageExtensions []string
}

// Uploader turns a staged upload into stored bytes plus an asset record.
type Uploader struct {
	assets    *Service
	storage   storage.Registry
	extractor PackageExtractor
	metrics   *metrics.Metrics
	cfg       UploaderConfig
	logger    *slog.Logger
}

func NewUploader(log *slog.Logger, assets *Service, registry storage.Registry, extractor PackageExtractor, m *metrics.Metrics, cfg UploaderConfig) *Uploader {
	if log == nil {
		log = slog.Default()
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = contenthash.DefaultAlgorithm
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = contenthash.DefaultBufferSize
	}
	exts := make([]string, 0, len(cfg.PackageExtensions))
	for _, ext := range cfg.PackageExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	cfg.PackageExtensions = exts
	return &Uploader{
		assets:    assets,
		storage:   registry,
		extractor: extractor,
		metrics:   m,
		cfg:       cfg,
		logger:    log.With(slog.String("service", "asset_upload")),
	}
}

// Kind classifies an upload by the extension of its original filename.
func (u *Uploader) Kind(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, candidate := range u.cfg.PackageExtensions {
		if ext == candidate {
			return KindPackage
		}
	}
	return KindFile
}

// Upload stores the staged file in the requested repository and records it.
// Packages are extracted and stored as a directory; the archive and its staging
// directory are removed whatever the outcome.
func (u *Uploader) Upload(ctx context.Context, in UploadInput, user identity.User) (Asset, error) {
	if strings.TrimSpace(in.File.Path) == "" || strings.TrimSpace(in.File.Name) == "" {
		return Asset{}, fmt.Errorf("%w: file is required", ErrMalformedInput)
	}
	repository := strings.ToLower(strings.TrimSpace(in.Repository))
	if repository == "" {
		repository = u.assets.opts.DefaultRepository
	}
	provider, err := u.provider(repository)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: repository %q: %w", ErrMalformedInput, repository, err)
	}
	in.Repository = repository

	kind := u.Kind(in.File.Name)
	var out Asset
	if kind == KindPackage {
		out, err = u.uploadPackage(ctx, provider, in, user)
	} else {
		out, err = u.uploadFile(ctx, provider, in, user)
	}
	u.metrics.Upload(kind, err)
	if err != nil {
		logger.Ctx(ctx, u.logger).Error("upload failed",
			slog.String("kind", kind),
			slog.String("filename", in.File.Name),
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
	return out, err
}

func (u *Uploader) uploadFile(ctx context.Context, provider storage.Provider, in UploadInput, user identity.User) (Asset, error) {
	digest, n, err := contenthash.HashFile(u.cfg.HashAlgorithm, in.File.Path, u.cfg.BufferSize)
	if err != nil {
		return Asset{}, fmt.Errorf("hash upload: %w", err)
	}
	u.metrics.UploadBytes(KindFile, n)
	ext := strings.ToLower(filepath.Ext(in.File.Name))
	dir, err := contenthash.Directory(digest)
	if err != nil {
		return Asset{}, err
	}
	dest, err := contenthash.StoragePath(digest, ext)
	if err != nil {
		return Asset{}, err
	}

	src, err := os.Open(in.File.Path)
	if err != nil {
		return Asset{}, fmt.Errorf("reopen upload: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()
	var stored storage.StoredFile
	err = u.assets.call(ctx, "store file", func(ctx context.Context) error {
		var err error
		stored, err = provider.StoreFile(ctx, src, dest, storage.StoreOptions{
			CreateMetadata:  true,
			CreateThumbnail: true,
			Thumbnail:       u.cfg.Thumbnail,
		})
		return err
	})
	if err != nil {
		return Asset{}, err
	}
	if stored.Path == "" {
		stored.Path = dest
	}
	if stored.Size == 0 {
		stored.Size = n
	}

	created, err := u.assets.Create(ctx, Asset{
		Title:         in.Title,
		Description:   in.Description,
		Repository:    in.Repository,
		Filename:      digest + ext,
		Directory:     dir,
		Path:          stored.Path,
		Size:          stored.Size,
		MimeType:      coalesce(stored.MimeType, in.File.MimeType, "application/octet-stream"),
		IsDirectory:   false,
		Tags:          in.Tags,
		ThumbnailPath: coalesce(stored.ThumbnailPath, NoThumbnail),
		CreatedBy:     user.ID,
	}, user)
	if err != nil {
		u.compensate(ctx, user, StepDeleteFile, stored.Path, func(ctx context.Context) error {
			return provider.DeleteFile(ctx, stored.Path)
		})
		return Asset{}, err
	}
	return created, nil
}

func (u *Uploader) uploadPackage(ctx context.Context, provider storage.Provider, in UploadInput, user identity.User) (Asset, error) {
	staging := in.File.Path + stagingSuffix
	defer u.cleanupPackage(ctx, in.File.Path, staging)

	if u.extractor == nil {
		return Asset{}, fmt.Errorf("package extractor not configured")
	}
	var digest string
	err := u.assets.call(ctx, "extract package", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			d, n, err := contenthash.HashFile(u.cfg.HashAlgorithm, in.File.Path, u.cfg.BufferSize)
			if err != nil {
				return fmt.Errorf("hash package: %w", err)
			}
			digest = d
			u.metrics.UploadBytes(KindPackage, n)
			return nil
		})
		g.Go(func() error {
			_, err := u.extractor.Extract(gctx, in.File.Path, staging)
			return err
		})
		return g.Wait()
	})
	if err != nil {
		if errors.Is(err, archive.ErrUnsafePath) || errors.Is(err, archive.ErrTooManyFiles) || errors.Is(err, archive.ErrTooLarge) {
			return Asset{}, fmt.Errorf("%w: %w", ErrMalformedInput, err)
		}
		return Asset{}, err
	}
	dir, err := contenthash.PackageDirectory(digest)
	if err != nil {
		return Asset{}, err
	}
	if err := u.assets.call(ctx, "store package", func(ctx context.Context) error {
		return provider.StoreDirectory(ctx, staging, dir)
	}); err != nil {
		return Asset{}, err
	}

	created, err := u.assets.Create(ctx, Asset{
		Title:         in.Title,
		Description:   in.Description,
		Repository:    in.Repository,
		Filename:      in.File.Name,
		Directory:     dir,
		Path:          dir,
		IsDirectory:   true,
		Tags:          in.Tags,
		ThumbnailPath: NoThumbnail,
		CreatedBy:     user.ID,
		AssetType:     AssetTypePackage,
	}, user)
	if err != nil {
		u.compensate(ctx, user, StepRemoveDirectory, dir, func(ctx context.Context) error {
			return provider.RemoveDirectory(ctx, dir)
		})
		return Asset{}, err
	}
	return created, nil
}

func (u *Uploader) provider(repository string) (storage.Provider, error) {
	if u.storage == nil {
		return nil, storage.ErrRepositoryNotFound
	}
	return u.storage.Get(repository)
}

// compensate undoes a store step after a failed record creation. It runs on a context
// detached from the request so an expired request deadline does not skip it.
// Bytes another record references are kept. A failed reference lookup does not block the undo.
func (u *Uploader) compensate(ctx context.Context, user identity.User, step, storedPath string, undo func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.Ctx(ctx, u.logger)
	shared, err := u.sharedElsewhere(ctx, user, storedPath)
	if err != nil {
		log.Warn("shared path lookup failed, compensating anyway",
			slog.String("step", step),
			slog.String("path", storedPath),
			slog.Any("error", err),
		)
	}
	if shared {
		log.Info("stored path referenced by another asset, skipping cleanup",
			slog.String("step", step),
			slog.String("path", storedPath),
		)
		return
	}
	err = u.assets.call(ctx, step, undo)
	u.metrics.Compensation(step, err)
	if err != nil {
		log.Error("upload compensation failed",
			slog.String("step", step),
			slog.String("path", storedPath),
			slog.Any("error", err),
		)
	}
}

func (u *Uploader) sharedElsewhere(ctx context.Context, user identity.User, storedPath string) (bool, error) {
	store, err := u.assets.tenantStore(ctx, user)
	if err != nil {
		return false, err
	}
	return u.assets.referencedElsewhere(ctx, store, storedPath, "")
}

// cleanupPackage removes the staging directory, then the uploaded archive.
func (u *Uploader) cleanupPackage(ctx context.Context, archivePath, staging string) {
	log := logger.Ctx(ctx, u.logger)
	err := os.RemoveAll(staging)
	u.metrics.Compensation(StepRemoveStaging, err)
	if err != nil {
		log.Warn("remove staging directory failed", slog.String("path", staging), slog.Any("error", err))
	}
	err = os.Remove(archivePath)
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	u.metrics.Compensation(StepRemoveArchive, err)
	if err != nil {
		log.Warn("remove uploaded archive failed", slog.String("path", archivePath), slog.Any("error", err))
	}
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
