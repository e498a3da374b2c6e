package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/davidahmann/surety/internal/ledger"
)

// advisoryLockKey serializes ledger transactions on PostgreSQL.
const advisoryLockKey = 727301

// rebind rewrites ? placeholders to $n for PostgreSQL.
func rebind(driver ledger.DBDriver, query string) string {
	if driver != ledger.DBPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// upsertSQL builds an insert that updates the listed columns on key conflict,
// or ignores the conflict when update is empty.
func upsertSQL(driver ledger.DBDriver, table string, cols, keys, update []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	insert := fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)", table, strings.Join(cols, ", "), placeholders)

	if driver == ledger.DBMySQL {
		if len(update) == 0 {
			return strings.Replace(insert, "INSERT INTO", "INSERT IGNORE INTO", 1)
		}
		sets := make([]string, 0, len(update))
		for _, c := range update {
			sets = append(sets, fmt.Sprintf("%s=VALUES(%s)", c, c))
		}
		return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}

	if len(update) == 0 {
		return fmt.Sprintf("%s ON CONFLICT(%s) DO NOTHING", insert, strings.Join(keys, ", "))
	}
	sets := make([]string, 0, len(update))
	for _, c := range update {
		sets = append(sets, fmt.Sprintf("%s=excluded.%s", c, c))
	}
	return fmt.Sprintf("%s ON CONFLICT(%s) DO UPDATE SET %s", insert, strings.Join(keys, ", "), strings.Join(sets, ", "))
}

// lockLedger takes the transaction-scoped ledger lock. SQLite serializes through
// a single connection instead.
func lockLedger(ctx context.Context, driver ledger.DBDriver, tx *sql.Tx) error {
	switch driver {
	case ledger.DBPostgres:
		_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey)
		return err
	case ledger.DBMySQL:
		var id int
		return tx.QueryRowContext(ctx, "SELECT id FROM ledger_lock WHERE id = 1 FOR UPDATE").Scan(&id)
	default:
		return nil
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
