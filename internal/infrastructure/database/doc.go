// Package database provides SQLite connectivity for the silo watch backend.
//
// This package manages:
//   - The connection, with WAL mode and a busy timeout
//   - Embedded schema migrations (YYYYMMDD_HHMMSS_name.up.sql / .down.sql)
//   - Transactions through WithTx and the Querier interface
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or carry a default.
package database
