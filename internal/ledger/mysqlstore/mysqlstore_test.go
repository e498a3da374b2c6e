package mysqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/davidahmann/surety/internal/ledger"
)

func TestConfigForcesParseTime(t *testing.T) {
	cfg, err := Config("surety:secret@tcp(127.0.0.1:3306)/surety")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !cfg.ParseTime || cfg.Loc != time.UTC {
		t.Fatalf("expected parseTime in UTC, got %+v", cfg)
	}
	if cfg.DBName != "surety" || cfg.Addr != "127.0.0.1:3306" {
		t.Fatalf("unexpected dsn fields: %+v", cfg)
	}

	if _, err := Config("not a dsn"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestWithTxLocksLedgerRow(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM ledger_lock WHERE id = 1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO settings\(setting_key, setting_value\) VALUES\(\?,\?\) ON DUPLICATE KEY UPDATE setting_value=VALUES\(setting_value\)`).
		WithArgs(ledger.SettingOperational, "true").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT IGNORE INTO oracle_responses`).
		WithArgs("0xf1:1", "0xo1", 20, "t0").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = s.WithTx(context.Background(), func(tx ledger.Tx) error {
		if err := tx.PutSetting(ledger.SettingOperational, "true"); err != nil {
			return err
		}
		return tx.PutOracleResponse(ledger.OracleResponseRecord{RequestID: "0xf1:1", Oracle: "0xo1", StatusCode: 20, RespondedAt: "t0"})
	})
	if err != nil {
		t.Fatalf("withtx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWithTxMissingLockRow(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM ledger_lock`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err = New(db).WithTx(context.Background(), func(tx ledger.Tx) error {
		return errors.New("should not run")
	})
	if err == nil || err.Error() == "should not run" {
		t.Fatalf("expected lock error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListOutboxDue(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"event_id", "kind", "payload_json", "status", "attempt_count", "next_attempt_at", "last_error", "sent_at", "created_at", "updated_at",
	}).AddRow(
		"evt-1", "oracle.request", `{"index":3}`, "pending", 0, "t0", nil, nil, "t0", "t0",
	)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM outbox\s+WHERE status = \? AND next_attempt_at <= \?`).
		WithArgs(ledger.OutboxPending, "t5", 10).
		WillReturnRows(rows)
	mock.ExpectRollback()

	err = New(db).View(context.Background(), func(tx ledger.Tx) error {
		due, err := tx.ListOutboxDue("t5", 10)
		if err != nil {
			return err
		}
		if len(due) != 1 || string(due[0].PayloadJSON) != `{"index":3}` || due[0].LastError != nil {
			t.Fatalf("unexpected due rows: %+v", due)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestOpenMySQLReturnsErrorForUnreachableHost(t *testing.T) {
	if _, err := OpenMySQL("u:p@tcp(127.0.0.1:1)/db?timeout=1s"); err == nil {
		t.Fatalf("expected error")
	}
}
