package database

import (
	"context"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator applies the embedded schema migrations.
type Migrator struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

func NewMigrator(pool *pgxpool.Pool, log logrus.FieldLogger) *Migrator {
	return &Migrator{pool: pool, log: log.WithField("component", "migrate")}
}

func (m *Migrator) newInstance() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "load migrations")
	}

	sqlDB := stdlib.OpenDBFromPool(m.pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "migration driver")
	}

	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, errors.Wrap(err, "init migrate")
	}
	return mg, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	mg, err := m.newInstance()
	if err != nil {
		return err
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mg.GracefulStop <- true
		case <-done:
		}
	}()

	m.log.Info("[Migrate] Applying migrations")
	if err := mg.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "apply migrations")
	}

	version, dirty, _ := mg.Version()
	entry := m.log.WithField("version", version)
	if dirty {
		entry.Warn("[Migrate] Schema is dirty")
	} else {
		entry.Info("[Migrate] Schema up to date")
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down() error {
	mg, err := m.newInstance()
	if err != nil {
		return err
	}
	if err := mg.Steps(-1); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "roll back migration")
	}
	m.log.Info("[Migrate] Rolled back one migration")
	return nil
}
