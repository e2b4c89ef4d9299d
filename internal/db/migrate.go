package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/config"
)

// MigrateCommand is a parsed `migrate` invocation.
type MigrateCommand struct {
	Name string
	// Version is the target of force and goto, or the step count of steps.
	Version int
}

// ParseMigrateCommand validates command and its arguments.
// Supported: "up", "down", "version", "force N", "goto N", "steps N".
func ParseMigrateCommand(command string, args []string) (MigrateCommand, error) {
	cmd := MigrateCommand{Name: command}
	switch command {
	case "up", "down", "version":
		return cmd, nil
	case "force", "goto", "steps":
	default:
		return cmd, fmt.Errorf("unknown migrate command: %s (use: up, down, version, force, goto, steps)", command)
	}
	if len(args) == 0 {
		return cmd, fmt.Errorf("%s requires a version number argument", command)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return cmd, fmt.Errorf("invalid version %q: %w", args[0], err)
	}
	if command == "goto" && n < 0 {
		return cmd, fmt.Errorf("goto version must not be negative")
	}
	cmd.Version = n
	return cmd, nil
}

// RunMigrate applies command against the database in cfg.
// migrationsFS holds the .sql files at its root.
func RunMigrate(logger *slog.Logger, cfg config.PostgresConfig, migrationsFS fs.FS, command string, args []string) error {
	cmd, err := ParseMigrateCommand(command, args)
	if err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	sourceDriver, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, DSN(cfg))
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	m.Log = &migrateLogger{logger: logger}

	switch cmd.Name {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "goto":
		err = m.Migrate(uint(cmd.Version))
	case "steps":
		err = m.Steps(cmd.Version)
	case "force":
		err = m.Force(cmd.Version)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", cmd.Name, err)
	}

	ver, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("no migrations applied", slog.String("command", cmd.Name))
	case err != nil:
		return fmt.Errorf("migrate version: %w", err)
	default:
		logger.Info("schema version", slog.String("command", cmd.Name), slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))
	}
	return nil
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}
