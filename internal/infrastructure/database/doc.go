// Package database opens the bridge's SQLite file and applies schema
// migrations.
//
// The only durable state the bridge keeps is the device registry snapshot
// (see internal/device). Keeping it lets a restarted bridge report stale
// devices and last-seen times before the first device list fetch returns.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
