package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/surety/internal/ledger"
)

type Store struct {
	db     *sql.DB
	driver ledger.DBDriver
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, ledger.DBSQLite), nil
}

// New wraps an open database. SQLite is pinned to one connection so that
// transactions never interleave.
func New(db *sql.DB, driver ledger.DBDriver) *Store {
	if driver == ledger.DBSQLite {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Driver() ledger.DBDriver {
	return s.driver
}

// Migrate applies the embedded schema for the store's dialect.
func (s *Store) Migrate() error {
	return ledger.Migrate(s.db, s.driver)
}

func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := lockLedger(ctx, s.driver, tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lock ledger: %w", err)
	}
	wrapped := &Tx{ctx: ctx, tx: tx, driver: s.driver}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) View(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&Tx{ctx: ctx, tx: tx, driver: s.driver})
}
