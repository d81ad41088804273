package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository persists the registry snapshot so a restarted bridge knows
// which devices it saw before.
type Repository interface {
	// List returns every persisted device ordered by id.
	List(ctx context.Context) ([]Device, error)

	// Save upserts the given devices. Devices not in the slice are left alone.
	Save(ctx context.Context, devices []Device) error
}

// SQLiteRepository implements Repository using the devices table.
// Endpoints are not persisted; they are rebuilt from the catalog.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `
		SELECT id, name, state, stale, first_seen, last_seen
		FROM devices
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Save upserts devices in a single transaction.
func (r *SQLiteRepository) Save(ctx context.Context, devices []Device) error {
	if len(devices) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO devices (id, name, state, stale, first_seen, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			stale = excluded.stale,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := r.now().UTC().Format(time.RFC3339)
	for _, d := range devices {
		stale := 0
		if d.Stale {
			stale = 1
		}
		_, err := stmt.ExecContext(ctx,
			d.ID,
			d.Name,
			string(d.State),
			stale,
			formatTime(d.FirstSeen),
			formatTime(d.LastSeen),
			now,
		)
		if err != nil {
			return fmt.Errorf("upserting device %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing devices: %w", err)
	}
	return nil
}

func scanDevice(rows *sql.Rows) (Device, error) {
	var (
		d                   Device
		state               string
		stale               int
		firstSeen, lastSeen string
	)
	if err := rows.Scan(&d.ID, &d.Name, &state, &stale, &firstSeen, &lastSeen); err != nil {
		return Device{}, fmt.Errorf("scanning device: %w", err)
	}
	d.State = ParseState(state)
	d.Stale = stale != 0

	var err error
	if d.FirstSeen, err = time.Parse(time.RFC3339, firstSeen); err != nil {
		return Device{}, fmt.Errorf("parsing first_seen for %s: %w", d.ID, err)
	}
	if d.LastSeen, err = time.Parse(time.RFC3339, lastSeen); err != nil {
		return Device{}, fmt.Errorf("parsing last_seen for %s: %w", d.ID, err)
	}
	return d, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Unix(0, 0)
	}
	return t.UTC().Format(time.RFC3339)
}
