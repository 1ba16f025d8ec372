package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

const (
	// LatestMigrationVersion is the newest schema version this binary
	// knows. Databases ahead of it are refused.
	//
	// NOTE: This MUST be updated when a new migration is added.
	LatestMigrationVersion uint = 1
)

// MigrationTarget moves mig to the wanted version. currentDBVersion is the
// version before migrating and maxMigrationVersion the newest known one.
type MigrationTarget func(mig *migrate.Migrate,
	currentDBVersion int, maxMigrationVersion uint) error

var (
	// TargetLatest migrates to the newest version.
	TargetLatest = func(mig *migrate.Migrate, _ int, _ uint) error {
		return mig.Up()
	}

	// TargetVersion migrates up or down to version.
	TargetVersion = func(version uint) MigrationTarget {
		return func(mig *migrate.Migrate, _ int, _ uint) error {
			return mig.Migrate(version)
		}
	}
)

var (
	// ErrMigrationDowngrade is returned when the database was written by
	// a newer binary.
	ErrMigrationDowngrade = errors.New("database downgrade detected")
)

type migrateOptions struct {
	latestVersion uint
	backup        bool
}

func defaultMigrateOptions() *migrateOptions {
	return &migrateOptions{
		latestVersion: LatestMigrationVersion,
		backup:        true,
	}
}

// MigrateOpt modifies a migration run.
type MigrateOpt func(*migrateOptions)

// WithLatestVersion overrides LatestMigrationVersion.
func WithLatestVersion(version uint) MigrateOpt {
	return func(o *migrateOptions) {
		o.latestVersion = version
	}
}

// WithoutBackup skips the copy taken before upgrading an existing database.
func WithoutBackup() MigrateOpt {
	return func(o *migrateOptions) {
		o.backup = false
	}
}

// migrationLogger adapts slog to migrate.Logger.
type migrationLogger struct {
	log *slog.Logger
}

// Printf implements migrate.Logger.
func (m *migrationLogger) Printf(format string, v ...any) {
	format = strings.TrimRight(format, "\n")
	m.log.Info(fmt.Sprintf(format, v...))
}

// Verbose implements migrate.Logger.
func (m *migrationLogger) Verbose() bool {
	return false
}

// MigrateSqlite applies the embedded migrations to db. An existing database
// that is behind is copied next to dbPath first.
func MigrateSqlite(db *sql.DB, dbPath string, log *slog.Logger,
	target MigrationTarget, opts ...MigrateOpt) error {

	o := defaultMigrateOptions()
	for _, opt := range opts {
		opt(o)
	}

	driver, err := sqlite_migrate.WithInstance(db, &sqlite_migrate.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	version, _, err := driver.Version()
	if err != nil {
		return fmt.Errorf("read db version: %w", err)
	}

	needsUpgrade := version > 0 && uint(version) < o.latestVersion
	if o.backup && needsUpgrade {
		if err := backupSqliteDatabase(db, dbPath, log); err != nil {
			return fmt.Errorf("backup before migration: %w", err)
		}
	}

	return applyMigrations(
		sqlSchemas, driver, "migrations", "sqlite", target, o, log,
	)
}

// applyMigrations runs the migrations found under path in fsys.
func applyMigrations(fsys fs.FS, driver database.Driver, path, dbName string,
	targetVersion MigrationTarget, opts *migrateOptions,
	log *slog.Logger) error {

	source, err := httpfs.New(http.FS(fsys), path)
	if err != nil {
		return err
	}

	sqlMigrate, err := migrate.NewWithInstance(
		"migrations", source, dbName, driver,
	)
	if err != nil {
		return err
	}

	migrationVersion, dirty, err := sqlMigrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine current migration "+
			"version: %w", err)
	}

	// A dirty version means an earlier run failed halfway.
	if dirty {
		return fmt.Errorf("database is in a dirty state at version "+
			"%v, manual intervention required", migrationVersion)
	}

	if migrationVersion > opts.latestVersion {
		return fmt.Errorf("%w: db_version=%v, "+
			"latest_migration_version=%v", ErrMigrationDowngrade,
			migrationVersion, opts.latestVersion)
	}

	currentDBVersion, _, err := driver.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.InfoContext(
		context.Background(), "Attempting to apply migration(s)",
		"current_db_version", currentDBVersion,
		"latest_migration_version", opts.latestVersion,
	)

	sqlMigrate.Log = &migrationLogger{log}

	err = targetVersion(sqlMigrate, currentDBVersion, opts.latestVersion)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	currentDBVersion, _, err = driver.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.InfoContext(
		context.Background(), "Database version after migration",
		"current_db_version", currentDBVersion,
	)

	return nil
}

// backupSqliteDatabase writes a consistent copy of srcDB next to
// dbFullFilePath using VACUUM INTO.
func backupSqliteDatabase(srcDB *sql.DB, dbFullFilePath string,
	log *slog.Logger) error {

	if srcDB == nil {
		return fmt.Errorf("backup source database is nil")
	}

	backupFullFilePath := fmt.Sprintf(
		"%s.%d.backup", dbFullFilePath, time.Now().UnixNano(),
	)

	log.InfoContext(context.Background(), "Creating backup of database file",
		"source", dbFullFilePath,
		"backup", backupFullFilePath,
	)

	_, err := srcDB.Exec("VACUUM INTO ?;", backupFullFilePath)

	return err
}
