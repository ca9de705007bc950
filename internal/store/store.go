package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/gommon/log"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

type Config interface {
	DatabaseURL() string
}

// Store is the relational backing store for conversations and messages. All
// writes go through Tx so a webhook event or a send lands atomically.
type Store struct {
	db     *sqlx.DB
	driver string
}

func New(config Config) (*Store, error) {
	return Open(config.DatabaseURL())
}

// Open connects to the database named by url and brings its schema up to date.
// postgres:// and postgresql:// URLs use lib/pq; sqlite:// URLs, file: DSNs and
// bare paths use SQLite.
func Open(url string) (*Store, error) {
	driver, dsn := driverFor(url)

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &Store{db: db, driver: driver}
	if driver == driverSQLite {
		if err := store.enableWAL(); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("store: opened %s database", driver)
	return store, nil
}

func driverFor(url string) (string, string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return driverPostgres, url
	case strings.HasPrefix(url, "file:"):
		return driverSQLite, url
	}
	path := strings.TrimPrefix(url, "sqlite://")
	if path == "" {
		path = "wainbox.db"
	}
	// _txlock=immediate takes the write lock at BEGIN.
	return driverSQLite, fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", filepath.ToSlash(path))
}

func (s *Store) enableWAL() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enabling WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") && !strings.EqualFold(journalMode, "memory") {
		return fmt.Errorf("enabling WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Tx runs fn inside one transaction, committing when fn returns nil.
func (s *Store) Tx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
