package database

import (
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/cockroachdb"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/kuutamolabs/kld/config"
)

// migrationDSN builds the cockroachdb:// URL golang-migrate's driver
// expects, reusing the same mutual-TLS trio the pgx pool connects with.
func migrationDSN(cfg config.DatabaseConfig) string {
	q := url.Values{}
	q.Set("sslmode", "verify-full")
	q.Set("sslrootcert", cfg.CACert)
	q.Set("sslcert", cfg.ClientCert)
	q.Set("sslkey", cfg.ClientKey)
	u := url.URL{
		Scheme:   "cockroachdb",
		User:     url.User(cfg.User),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations applies every pending schema migration against a
// cockroachdb:// DSN, grounded on LdkDatabase::new's "Running database
// migrations" step (the Rust side uses refinery; this port uses
// golang-migrate with the same embed-and-run shape against the same
// tables).
func RunMigrations(cfg config.DatabaseConfig) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, migrationDSN(cfg))
	if err != nil {
		return fmt.Errorf("opening migration runner: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
