/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type MigrationStatus struct {
	CurrentVersion uint `json:"current_version"`
	LatestVersion  uint `json:"latest_version"`
	Dirty          bool `json:"dirty"`
	Pending        bool `json:"pending"`
}

// MigrateURL rewrites a postgres:// DSN to the scheme the pgx/v5 driver registers.
func MigrateURL(dsn string) (string, error) {
	for _, p := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, p) {
			return "pgx5://" + strings.TrimPrefix(dsn, p), nil
		}
	}
	if strings.HasPrefix(dsn, "pgx5://") {
		return dsn, nil
	}
	return "", fmt.Errorf("migrations need a URL-style DSN, got %q", redactDSN(dsn))
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	url, err := MigrateURL(dsn)
	if err != nil {
		return nil, err
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", source, url)
}

// RunMigrations applies all pending migrations.
func RunMigrations(dsn string, log zerolog.Logger) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	v, dirty, _ := m.Version()
	log.Info().Uint("version", v).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

func GetMigrationStatus(dsn string) (*MigrationStatus, error) {
	m, err := newMigrator(dsn)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	var latest uint
	if first, err := source.First(); err == nil {
		latest = first
		for {
			next, err := source.Next(latest)
			if err != nil {
				break
			}
			latest = next
		}
	}
	return &MigrationStatus{CurrentVersion: version, LatestVersion: latest, Dirty: dirty, Pending: version < latest}, nil
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "password="); i >= 0 {
		end := strings.IndexByte(dsn[i:], ' ')
		if end < 0 {
			return dsn[:i] + "password=***"
		}
		return dsn[:i] + "password=***" + dsn[i+end:]
	}
	return dsn
}
