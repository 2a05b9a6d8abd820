package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// migrations[i] moves a database from version i to i+1. Fact tables are
// not listed here; ensureTable creates one per declared Table.
var migrations = []string{
	`CREATE TABLE fact_tables (
    name TEXT PRIMARY KEY,
    key_fields TEXT NOT NULL  -- comma separated, in key order
)`,
}

// SchemaVersion is the version a fully migrated database is at.
var SchemaVersion = len(migrations)

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// InitSchema checks the integrity of an existing database, applies pending
// migrations and makes sure every fact table exists with the declared key
// columns.
func InitSchema(ctx context.Context, db *sql.DB, tables []Table) error {
	version, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if version > 0 {
		if err := ValidateIntegrity(ctx, db); err != nil {
			return fmt.Errorf("database integrity check failed: %w", err)
		}
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", version, SchemaVersion)
	}
	for v := version; v < SchemaVersion; v++ {
		if err := applyMigration(ctx, db, v); err != nil {
			return fmt.Errorf("failed to migrate schema to version %d: %w", v+1, err)
		}
	}

	for _, t := range tables {
		if err := ensureTable(ctx, db, t); err != nil {
			return err
		}
	}
	return nil
}

// schemaVersion returns the highest applied migration, creating the
// version table on a fresh database.
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_version: %w", err)
	}
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// applyMigration runs migrations[from] and records version from+1 in one
// transaction.
func applyMigration(ctx context.Context, db *sql.DB, from int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migrations[from]); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, from+1); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// factTable is the SQL name of a fact table.
func factTable(name string) string { return "f_" + name }

// ensureTable creates the SQL table for t, or checks that an existing one
// was declared with the same key fields.
func ensureTable(ctx context.Context, db *sql.DB, t Table) error {
	if !identRe.MatchString(t.Name) {
		return fmt.Errorf("table name %q is not a valid identifier", t.Name)
	}
	for _, f := range t.KeyFields {
		if !identRe.MatchString(f) {
			return fmt.Errorf("table %s: key field %q is not a valid identifier", t.Name, f)
		}
	}
	fields := strings.Join(t.KeyFields, ",")

	var existing string
	err := db.QueryRowContext(ctx, `SELECT key_fields FROM fact_tables WHERE name = ?`, t.Name).Scan(&existing)
	switch {
	case err == nil:
		if existing != fields {
			return fmt.Errorf("table %s: stored key fields (%s) differ from declared (%s)", t.Name, existing, fields)
		}
		return nil
	case err != sql.ErrNoRows:
		return fmt.Errorf("failed to read table %s: %w", t.Name, err)
	}

	var cols, pk []string
	for _, f := range t.KeyFields {
		cols = append(cols, fmt.Sprintf("k_%s TEXT NOT NULL", f))
		pk = append(pk, "k_"+f)
	}
	pk = append(pk, "branch", "tick")
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    %s,
    branch INTEGER NOT NULL,
    tick INTEGER NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (%s)
)`, factTable(t.Name), strings.Join(cols, ",\n    "), strings.Join(pk, ", "))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fact_tables (name, key_fields) VALUES (?, ?)`, t.Name, fields); err != nil {
		return fmt.Errorf("failed to record table %s: %w", t.Name, err)
	}
	return tx.Commit()
}

// ValidateIntegrity runs PRAGMA integrity_check on the database.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("failed to scan integrity_check result: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity_check failed: %s", result)
		}
	}
	return rows.Err()
}
