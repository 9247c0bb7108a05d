package database

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/fetch"
	"github.com/trezcool/masomo-portal/storage/database/inmem"
	"github.com/trezcool/masomo-portal/storage/database/mongo"
	"github.com/trezcool/masomo-portal/storage/database/postgres"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

var (
	pingAttempts = 30
	pingStep     = 100 * time.Millisecond // mockable
)

// DocumentStore is a secondary store that can also be written to (seeding, mirroring).
type DocumentStore interface {
	fetch.SecondaryStore
	Put(ctx context.Context, collection string, docs ...fetch.Record) error
}

var (
	_ DocumentStore = (*inmemdb.DocumentStore)(nil)
	_ DocumentStore = (*pgstore.DocumentStore)(nil)
	_ DocumentStore = (*mongostore.DocumentStore)(nil)
)

// Open connects to the postgres database at `conf.Store.URL` and waits for it to be ready.
func Open(conf *core.Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", conf.Store.URL)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits `pingStep` longer between each attempt.
func ping(db *sql.DB) error {
	var err error
	for attempts := 1; attempts <= pingAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * pingStep)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

// Migrate brings the documents schema up to date.
func Migrate(db *sql.DB) error {
	return RunMigration("up", db)
}

// RunMigration runs a goose command (up, down, status, version, ...) against the embedded migrations.
func RunMigration(command string, db *sql.DB, args ...string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting migrations dialect")
	}
	if err := goose.Run(command, db, migrationsDir, args...); err != nil {
		return errors.Wrapf(err, "running migration %q", command)
	}
	return nil
}

// OpenStore opens the secondary store selected by `conf.Store.Driver`.
// The returned close func releases its connections.
func OpenStore(ctx context.Context, conf *core.Config) (DocumentStore, func() error, error) {
	switch conf.Store.Driver {
	case "postgres":
		db, err := Open(conf)
		if err != nil {
			return nil, nil, err
		}
		if err = Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pgstore.NewDocumentStore(db), db.Close, nil
	case "mongo":
		client, err := mongostore.Connect(ctx, conf.Store.URL)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() error { return client.Disconnect(context.Background()) }
		return mongostore.NewDocumentStore(client.Database(conf.Store.Database)), closeFn, nil
	case "memory", "":
		return inmemdb.NewDocumentStore(), func() error { return nil }, nil
	default:
		return nil, nil, errors.Errorf("unknown store driver %q", conf.Store.Driver)
	}
}
