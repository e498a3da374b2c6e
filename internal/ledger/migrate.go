package ledger

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
	DBMySQL    DBDriver = "mysql"
)

// ParseDriver maps config spellings onto a DBDriver.
func ParseDriver(s string) (DBDriver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return DBSQLite, nil
	case "postgres", "postgresql", "pg":
		return DBPostgres, nil
	case "mysql", "mariadb":
		return DBMySQL, nil
	default:
		return "", fmt.Errorf("unsupported db driver: %s", s)
	}
}

// migrationDialect holds what differs per engine when recording schema versions.
type migrationDialect struct {
	dir    string
	table  string
	create string
	// record inserts a version and affects zero rows when it already exists.
	record string
	// appliedAt converts the apply time into the column's driver value.
	appliedAt func(time.Time) any
	// split runs each statement separately for drivers that reject multi-statement Exec.
	split bool
}

var migrationDialects = map[DBDriver]migrationDialect{
	DBSQLite: {
		dir:       "migrations/sqlite",
		table:     "schema_migrations",
		create:    "version TEXT PRIMARY KEY,\n  applied_at TEXT NOT NULL",
		record:    "INSERT INTO %s(version, applied_at) VALUES(?, ?) ON CONFLICT(version) DO NOTHING",
		appliedAt: func(t time.Time) any { return t.Format(time.RFC3339) },
	},
	DBPostgres: {
		dir:       "migrations/postgres",
		table:     "surety_schema_migrations",
		create:    "version TEXT PRIMARY KEY,\n  applied_at TIMESTAMPTZ NOT NULL",
		record:    "INSERT INTO %s(version, applied_at) VALUES($1, $2) ON CONFLICT(version) DO NOTHING",
		appliedAt: func(t time.Time) any { return t },
	},
	DBMySQL: {
		dir:       "migrations/mysql",
		table:     "surety_schema_migrations",
		create:    "version VARCHAR(191) PRIMARY KEY,\n  applied_at DATETIME NOT NULL",
		record:    "INSERT IGNORE INTO %s(version, applied_at) VALUES(?, ?)",
		appliedAt: func(t time.Time) any { return t },
		split:     true,
	},
}

func dialectFor(driver DBDriver) (migrationDialect, error) {
	d, ok := migrationDialects[driver]
	if !ok {
		return migrationDialect{}, fmt.Errorf("unsupported db driver: %s", driver)
	}
	return d, nil
}

// Migrate applies the embedded migrations for driver in file order. Each
// version is recorded in the same transaction as its statements, so a version
// row exists only for migrations that fully applied.
func Migrate(db *sql.DB, driver DBDriver) error {
	if db == nil {
		return fmt.Errorf("missing db")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", d.table, d.create)); err != nil {
		return fmt.Errorf("create %s: %w", d.table, err)
	}

	files, err := listMigrationFiles(d.dir)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, file := range files {
		if err := d.apply(db, file, now); err != nil {
			return err
		}
	}
	return nil
}

func (d migrationDialect) apply(db *sql.DB, file string, now time.Time) error {
	version := strings.TrimSuffix(path.Base(file), ".sql")
	contents, err := migrationsFS.ReadFile(file)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	res, err := tx.Exec(fmt.Sprintf(d.record, d.table), version, d.appliedAt(now))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		_ = tx.Rollback()
		return err
	}

	for _, stmt := range d.statements(string(contents)) {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
	}
	return tx.Commit()
}

func (d migrationDialect) statements(contents string) []string {
	if !d.split {
		return []string{contents}
	}
	var out []string
	for _, stmt := range strings.Split(contents, ";\n") {
		stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func listMigrationFiles(dir string) ([]string, error) {
	files, err := fs.Glob(migrationsFS, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migrations under %s", dir)
	}
	slices.Sort(files)
	return files, nil
}
