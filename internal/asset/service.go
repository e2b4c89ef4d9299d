// Package asset implements asset ingestion, permission-gated record access and serving.
package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/identity"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/logger"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/metrics"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/policy"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/storage"
)

const defaultBufferSize = 64 * 1024

// Options tunes a Service.
type Options struct {
	// Timeout bounds each call to the record store, storage provider and policy gate. Zero disables it.
	Timeout           time.Duration
	GuardSharedPaths  bool
	DefaultRepository string
	BufferSize        int
}

// Service is the permission-gated facade over asset records and their stored bytes.
type Service struct {
	databases records.Databases
	gate      policy.Gate
	storage   storage.Registry
	metrics   *metrics.Metrics
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(log *slog.Logger, databases records.Databases, gate policy.Gate, registry storage.Registry, m *metrics.Metrics, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	opts.DefaultRepository = strings.ToLower(strings.TrimSpace(opts.DefaultRepository))
	return &Service{
		databases: databases,
		gate:      gate,
		storage:   registry,
		metrics:   m,
		opts:      opts,
		logger:    log.With(slog.String("service", "asset")),
		now:       time.Now,
	}
}

// Resource returns the policy resource of asset id within the user's tenant.
func Resource(user identity.User, id string) string {
	return policy.BuildResource(user.TenantID, "/api/asset/"+id)
}

// Create inserts a record for a stored asset and grants the creator full access.
// Grant failures are logged and do not fail the call.
func (s *Service) Create(ctx context.Context, a Asset, user identity.User) (Asset, error) {
	store, err := s.tenantStore(ctx, user)
	if err != nil {
		return Asset{}, err
	}
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.DateCreated.IsZero() {
		a.DateCreated = a.CreatedAt
	}
	if a.CreatedBy == "" {
		a.CreatedBy = user.ID
	}
	if a.ThumbnailPath == "" {
		a.ThumbnailPath = NoThumbnail
	}
	if a.Repository == "" {
		a.Repository = s.opts.DefaultRepository
	}
	doc, err := toDocument(a)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	var created records.Document
	err = s.call(ctx, "create asset record", func(ctx context.Context) error {
		var err error
		created, err = store.Create(ctx, Collection, doc)
		return err
	})
	if err != nil {
		return Asset{}, err
	}
	out, err := fromDocument(created)
	if err != nil {
		return Asset{}, upstream("create asset record", err)
	}
	s.grantOwner(ctx, user, out.ID)
	return out, nil
}

func (s *Service) grantOwner(ctx context.Context, user identity.User, id string) {
	if s.gate == nil {
		return
	}
	var p policy.Policy
	err := s.call(ctx, "create policy", func(ctx context.Context) error {
		var err error
		p, err = s.gate.CreatePolicy(ctx, user.ID)
		return err
	})
	if err == nil {
		err = s.call(ctx, "grant policy", func(ctx context.Context) error {
			return s.gate.Grant(ctx, p, policy.CRUD, Resource(user, id), policy.EffectAllow)
		})
	}
	if err != nil {
		logger.Ctx(ctx, s.logger).Error("grant asset owner failed",
			slog.String("asset_id", id),
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}
}

// Retrieve returns the records matching q that the user may read, in store order.
// Tags are populated with _id and title unless opts overrides the selection.
func (s *Service) Retrieve(ctx context.Context, q records.Query, opts records.Options, user identity.User) ([]Asset, error) {
	store, err := s.tenantStore(ctx, user)
	if err != nil {
		return nil, err
	}
	opts = opts.WithPopulate(tagPopulate)
	docs, err := s.retrieve(ctx, store, q, opts)
	if err != nil {
		return nil, err
	}
	out := make([]Asset, 0, len(docs))
	for _, doc := range docs {
		id := doc.ID()
		ok, err := s.check(ctx, user, policy.ActionRead, id)
		if err != nil {
			logger.Ctx(ctx, s.logger).Warn("read check failed, dropping record", slog.String("asset_id", id), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		a, err := fromDocument(doc)
		if err != nil {
			logger.Ctx(ctx, s.logger).Warn("undecodable asset record", slog.String("asset_id", id), slog.Any("error", err))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Update applies delta to asset id after an update permission check.
func (s *Service) Update(ctx context.Context, id string, delta Delta, user identity.User) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: asset id is required", ErrMalformedInput)
	}
	if delta.Empty() {
		return fmt.Errorf("%w: nothing to update", ErrMalformedInput)
	}
	if err := s.require(ctx, user, policy.ActionUpdate, id); err != nil {
		return err
	}
	store, err := s.tenantStore(ctx, user)
	if err != nil {
		return err
	}
	if delta.UpdatedAt == nil {
		now := s.now().UTC()
		delta.UpdatedAt = &now
	}
	return s.call(ctx, "update asset record", func(ctx context.Context) error {
		return store.Update(ctx, Collection, records.ByID(id), delta.document())
	})
}

// Destroy deletes the record for id, then its stored bytes.
// The record deletion stands even when the physical delete fails.
func (s *Service) Destroy(ctx context.Context, id string, user identity.User) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: asset id is required", ErrMalformedInput)
	}
	if err := s.require(ctx, user, policy.ActionDelete, id); err != nil {
		return err
	}
	store, err := s.tenantStore(ctx, user)
	if err != nil {
		return err
	}
	docs, err := s.retrieve(ctx, store, records.ByID(id), records.Options{})
	if err != nil {
		return err
	}
	if len(docs) != 1 {
		return ErrNotFound
	}
	target, err := fromDocument(docs[0])
	if err != nil {
		return upstream("load asset record", err)
	}
	if err := s.call(ctx, "destroy asset record", func(ctx context.Context) error {
		return store.Destroy(ctx, Collection, records.ByID(id))
	}); err != nil {
		return err
	}

	provider, err := s.provider(target.Repository)
	if err != nil {
		logger.Ctx(ctx, s.logger).Error("asset record references unknown repository",
			slog.String("asset_id", id),
			slog.String("repository", target.Repository),
			slog.Any("error", err),
		)
		return upstream("resolve repository", err)
	}
	if s.pathShared(ctx, store, target.Path, id) {
		logger.Ctx(ctx, s.logger).Info("stored path still referenced, keeping bytes",
			slog.String("asset_id", id),
			slog.String("path", target.Path),
		)
		return nil
	}
	return s.call(ctx, "delete stored asset", func(ctx context.Context) error {
		if target.IsDirectory {
			return provider.RemoveDirectory(ctx, target.Path)
		}
		return provider.DeleteFile(ctx, target.Path)
	})
}

// pathShared reports whether a record other than exceptID still references storedPath.
// A lookup failure counts as shared so Destroy never removes bytes on uncertainty.
func (s *Service) pathShared(ctx context.Context, store records.Store, storedPath, exceptID string) bool {
	shared, err := s.referencedElsewhere(ctx, store, storedPath, exceptID)
	if err != nil {
		logger.Ctx(ctx, s.logger).Warn("shared path lookup failed", slog.String("path", storedPath), slog.Any("error", err))
		return true
	}
	return shared
}

// referencedElsewhere looks up records other than exceptID whose path is storedPath.
func (s *Service) referencedElsewhere(ctx context.Context, store records.Store, storedPath, exceptID string) (bool, error) {
	if !s.opts.GuardSharedPaths || storedPath == "" {
		return false, nil
	}
	docs, err := s.retrieve(ctx, store, records.Eq{Field: "path", Value: storedPath}, records.Options{})
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		if doc.ID() != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) retrieve(ctx context.Context, store records.Store, q records.Query, opts records.Options) ([]records.Document, error) {
	var docs []records.Document
	err := s.call(ctx, "retrieve asset records", func(ctx context.Context) error {
		var err error
		docs, err = store.Retrieve(ctx, Collection, q, opts)
		return err
	})
	if errors.Is(err, records.ErrInvalidQuery) {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return docs, err
}

func (s *Service) check(ctx context.Context, user identity.User, action policy.Action, id string) (bool, error) {
	if s.gate == nil {
		return false, fmt.Errorf("policy gate not configured")
	}
	var ok bool
	err := s.call(ctx, "check permission", func(ctx context.Context) error {
		var err error
		ok, err = s.gate.Check(ctx, user.ID, action, Resource(user, id))
		return err
	})
	if err == nil && !ok {
		s.metrics.Denied(string(action))
	}
	return ok, err
}

func (s *Service) require(ctx context.Context, user identity.User, action policy.Action, id string) error {
	ok, err := s.check(ctx, user, action, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s asset %s", ErrPermissionDenied, action, id)
	}
	return nil
}

func (s *Service) tenantStore(ctx context.Context, user identity.User) (records.Store, error) {
	if s.databases == nil {
		return nil, upstream("resolve tenant database", errNoDatabases)
	}
	var store records.Store
	err := s.call(ctx, "resolve tenant database", func(ctx context.Context) error {
		var err error
		store, err = s.databases.Tenant(ctx, user.TenantID)
		return err
	})
	return store, err
}

func (s *Service) provider(repository string) (storage.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(repository))
	if name == "" {
		name = s.opts.DefaultRepository
	}
	if s.storage == nil {
		return nil, storage.ErrRepositoryNotFound
	}
	return s.storage.Get(name)
}

// call runs fn under the configured per-operation deadline and classifies its error.
func (s *Service) call(ctx context.Context, op string, fn func(context.Context) error) error {
	var cancel context.CancelFunc
	if s.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	return upstream(op, fn(ctx))
}
