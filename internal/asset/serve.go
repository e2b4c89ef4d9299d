package asset

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/identity"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/logger"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/storage"
)

// Variants reported to the served-bytes counter.
const (
	VariantFile      = "file"
	VariantThumbnail = "thumbnail"
	VariantShared    = "shared"
)

// Open streams the stored bytes of a readable asset.
func (s *Service) Open(ctx context.Context, id string, user identity.User) (Download, error) {
	a, err := s.readable(ctx, id, user)
	if err != nil {
		return Download{}, err
	}
	if a.IsDirectory {
		return Download{}, ErrNotFound
	}
	rc, err := s.open(ctx, a.Repository, a.Path, storage.OpenOptions{}, VariantFile)
	if err != nil {
		return Download{}, err
	}
	return Download{Reader: rc, MimeType: a.MimeType, Size: a.Size}, nil
}

// OpenThumbnail streams the preview of a readable asset.
func (s *Service) OpenThumbnail(ctx context.Context, id string, user identity.User) (Download, error) {
	a, err := s.readable(ctx, id, user)
	if err != nil {
		return Download{}, err
	}
	if !a.HasThumbnail() {
		return Download{}, ErrNotFound
	}
	rc, err := s.open(ctx, a.Repository, a.ThumbnailPath, storage.OpenOptions{}, VariantThumbnail)
	if err != nil {
		return Download{}, err
	}
	return Download{Reader: rc}, nil
}

// OpenShared streams an asset recorded in the master database. No per-user filter applies.
func (s *Service) OpenShared(ctx context.Context, id string) (Download, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Download{}, ErrNotFound
	}
	if s.databases == nil {
		return Download{}, upstream("resolve master database", errNoDatabases)
	}
	var master records.Store
	err := s.call(ctx, "resolve master database", func(ctx context.Context) error {
		var err error
		master, err = s.databases.Master(ctx)
		return err
	})
	if err != nil {
		return Download{}, err
	}
	docs, err := s.retrieve(ctx, master, records.ByID(id), records.Options{})
	if err != nil {
		return Download{}, err
	}
	if len(docs) != 1 {
		return Download{}, ErrNotFound
	}
	a, err := fromDocument(docs[0])
	if err != nil {
		return Download{}, upstream("load asset record", err)
	}
	if a.IsDirectory {
		return Download{}, ErrNotFound
	}
	rc, err := s.open(ctx, a.Repository, a.Path, storage.OpenOptions{ForceMaster: true}, VariantShared)
	if err != nil {
		return Download{}, err
	}
	return Download{Reader: rc, MimeType: a.MimeType, Size: a.Size}, nil
}

func (s *Service) readable(ctx context.Context, id string, user identity.User) (Asset, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Asset{}, ErrNotFound
	}
	found, err := s.Retrieve(ctx, records.ByID(id), records.Options{}, user)
	if err != nil {
		return Asset{}, err
	}
	if len(found) != 1 {
		return Asset{}, ErrNotFound
	}
	return found[0], nil
}

func (s *Service) open(ctx context.Context, repository, storedPath string, opts storage.OpenOptions, variant string) (io.ReadCloser, error) {
	provider, err := s.provider(repository)
	if err != nil {
		logger.Ctx(ctx, s.logger).Error("asset record references unknown repository",
			slog.String("repository", repository),
			slog.Any("error", err),
		)
		return nil, upstream("resolve repository", err)
	}
	opts.BufferSize = s.opts.BufferSize
	// The stream is read after this returns, so it gets the caller's context rather
	// than a per-call deadline.
	rc, err := provider.Open(ctx, storedPath, opts)
	err = upstream("open stored asset", err)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Ctx(ctx, s.logger).Warn("asset record without stored bytes", slog.String("path", storedPath))
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &countingReader{rc: rc, done: func(n int64) { s.metrics.Served(variant, n) }}, nil
}

type countingReader struct {
	rc   io.ReadCloser
	n    int64
	done func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) Close() error {
	if c.done != nil {
		c.done(c.n)
		c.done = nil
	}
	return c.rc.Close()
}
