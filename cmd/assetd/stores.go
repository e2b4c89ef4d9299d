package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/asset"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/config"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/db"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
)

// recordStores is the tenant/master pair plus whatever must be released on shutdown.
type recordStores struct {
	Tenant  records.Store
	Master  records.Store
	closers []func() error
}

func (s *recordStores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func openRecordStores(ctx context.Context, log *slog.Logger, cfg config.Config) (*recordStores, error) {
	relations := asset.Relations()
	stores := &recordStores{}

	switch cfg.Records.Driver {
	case config.RecordsDriverMemory:
		log.Warn("records driver is memory; assets will not survive a restart")
		stores.Tenant = records.NewMemoryStore(relations)
		stores.Master = stores.Tenant

	case config.RecordsDriverSQLite:
		for _, p := range []string{cfg.Records.SQLitePath, cfg.Records.MasterSQLitePath} {
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		tenant, err := records.OpenSQLite(ctx, cfg.Records.SQLitePath, relations)
		if err != nil {
			return nil, fmt.Errorf("open tenant sqlite: %w", err)
		}
		stores.closers = append(stores.closers, tenant.Close)
		master, err := records.OpenSQLite(ctx, cfg.Records.MasterSQLitePath, relations)
		if err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("open master sqlite: %w", err)
		}
		stores.closers = append(stores.closers, master.Close)
		stores.Tenant, stores.Master = tenant, master

	case config.RecordsDriverPostgres:
		tenantPool, err := db.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		stores.closers = append(stores.closers, func() error { tenantPool.Close(); return nil })
		masterPool, err := db.Open(ctx, db.WithDatabase(cfg.Postgres, cfg.Tenancy.MasterDatabase))
		if err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("master db connect: %w", err)
		}
		stores.closers = append(stores.closers, func() error { masterPool.Close(); return nil })
		stores.Tenant = records.NewPostgresStore(tenantPool, relations)
		stores.Master = records.NewPostgresStore(masterPool, relations)

	default:
		return nil, fmt.Errorf("unknown records driver %q", cfg.Records.Driver)
	}

	log.Info("record stores ready", slog.String("driver", cfg.Records.Driver))
	return stores, nil
}
