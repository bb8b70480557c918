// Package database provides SQLite connectivity for Pourwell Core.
//
// The dispenser keeps a small local history of every dispense and pour
// outcome. This package owns the connection (WAL mode, busy timeout,
// single writer) and applies the embedded schema migrations.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and are applied oldest first, each in its
// own transaction.
package database
