package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// upSuffix marks an applicable migration file.
// Format: YYYYMMDD_HHMMSS_description.up.sql
const upSuffix = ".up.sql"

// Migration represents a single schema change.
type Migration struct {
	// Version is the YYYYMMDD_HHMMSS prefix of the filename.
	Version string
	Name    string
	SQL     string
}

// Migrate applies every migration in fsys that is not yet recorded in
// schema_migrations, oldest first, each in its own transaction. A failed
// migration is rolled back and later ones are not attempted; re-running
// Migrate continues from the failure.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - fsys: Filesystem holding *.up.sql files at its root
//
// Returns:
//   - int: Number of migrations applied
//   - error: If any migration fails
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`); err != nil {
		return 0, fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return 0, fmt.Errorf("loading migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting applied migrations: %w", err)
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return count, fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
		count++
	}

	return count, nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadMigrations reads and orders the *.up.sql files at the root of fsys.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, ok := parseMigrationFilename(e.Name())
		if !ok {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Clean(e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(data)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFilename splits "20260301_120000_devices.up.sql" into
// ("20260301_120000", "devices").
func parseMigrationFilename(filename string) (version, name string, ok bool) {
	if !strings.HasSuffix(filename, upSuffix) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimSuffix(filename, upSuffix), "_", 3)
	if len(parts) != 3 || len(parts[0]) != 8 || len(parts[1]) != 6 {
		return "", "", false
	}
	return parts[0] + "_" + parts[1], parts[2], true
}
