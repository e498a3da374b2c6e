package pgstore

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/davidahmann/surety/internal/ledger"
	"github.com/davidahmann/surety/internal/ledger/sqlstore"
)

// OpenPostgres connects with lib/pq. Transactions serialize on a
// transaction-scoped advisory lock.
func OpenPostgres(dsn string) (*sqlstore.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *sqlstore.Store {
	return sqlstore.New(db, ledger.DBPostgres)
}
