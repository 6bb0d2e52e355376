// Package database opens and migrates the gateway's SQLite store.
//
// The store is the peripheral catalogue: every BLE device the scanners
// have ever observed, with its naming, signal history, and recorded
// button events. It is bookkeeping, not hot state; the live discovery
// view lives in memory and on retained MQTT topics.
//
// Open applies the pragmas the catalogue needs (WAL so API reads do not
// block behind scan-driven upserts, busy timeout, foreign keys) and caps
// the pool at SQLite's single writer. Migrate applies embedded *.up.sql
// files in version order, one transaction each, recording progress in
// schema_migrations:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// DB embeds *sql.DB; the repository layer issues parameterised queries
// against it directly.
package database
