package main

import (
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	dbembed "github.com/icf-orlp-cals-open/adapt-authoring/db"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/config"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/db"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/logger"
)

var migrateMasterOnly bool

var migrateCmd = &cobra.Command{
	Use:   "migrate up|down|version|force N|goto N|steps N",
	Short: "Apply record store migrations to the tenant and master databases",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateMasterOnly, "master-only", false, "only migrate the master database")
}

func runMigrate(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	if cfg.Records.Driver != config.RecordsDriverPostgres {
		return fmt.Errorf("migrate needs the postgres records driver, configured %q", cfg.Records.Driver)
	}

	migrations, err := fs.Sub(dbembed.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	targets := []config.PostgresConfig{db.WithDatabase(cfg.Postgres, cfg.Tenancy.MasterDatabase)}
	if !migrateMasterOnly {
		targets = append([]config.PostgresConfig{cfg.Postgres}, targets...)
	}
	for _, target := range targets {
		log := logger.L.With(slog.String("database", target.Database))
		if err := db.RunMigrate(log, target, migrations, args[0], args[1:]); err != nil {
			return fmt.Errorf("%s: %w", target.Database, err)
		}
	}
	return nil
}
