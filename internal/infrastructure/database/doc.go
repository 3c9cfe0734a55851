// Package database provides SQLite connectivity for stolenwatch.
//
// The database holds the alert audit trail only. The last-seen cache the
// poller works from is deliberately process-lifetime and is never written
// here.
//
// This package manages:
//   - Database connection with WAL mode
//   - Embedded, forward-only schema migrations
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
