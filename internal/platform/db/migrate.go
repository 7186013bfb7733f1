package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// MigratePostgres applies every up migration found under dir in fsys.
// The pool itself is left open.
func MigratePostgres(pool *pgxpool.Pool, fsys fs.FS, dir string) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	driver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx migrate driver: %w", err)
	}
	return up(fsys, dir, "pgx5", driver)
}

// MigrateSQLite applies every up migration found under dir in fsys.
func MigrateSQLite(sqlDB *sql.DB, fsys fs.FS, dir string) error {
	driver, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create sqlite migrate driver: %w", err)
	}
	return up(fsys, dir, "sqlite", driver)
}

func up(fsys fs.FS, dir, dbName string, driver database.Driver) error {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("could not open migrations %q: %w", dir, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}
