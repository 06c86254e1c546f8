// Package sqlite stores default providers in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"

	"github.com/yourorg/chain-explorer/internal/store/sqlstore"
)

// New opens the database file at path. Writes go through a single
// connection, which SQLite needs to avoid SQLITE_BUSY between writers.
func New(ctx context.Context, path string) (*sqlstore.Store, error) {
	dsn := path
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := sqlstore.New(ctx, db, sqlstore.Question)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
