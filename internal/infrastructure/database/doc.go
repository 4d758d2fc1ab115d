// Package database provides the SQLite store behind the set history.
//
// It opens the database with WAL journaling and a busy timeout, limits the
// pool to one connection and applies the embedded schema migrations.
// Database files are created with 0600 permissions.
//
// Usage:
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
package database
