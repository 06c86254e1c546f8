// Package sqlstore implements the default provider store over database/sql.
// PostgreSQL and SQLite share the statements; only placeholders differ.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/chain-explorer/internal/store"
	"github.com/yourorg/chain-explorer/internal/types"
)

// Schema creates the default provider table. The primary key is what makes
// concurrent upserts collapse into one row.
const Schema = `CREATE TABLE IF NOT EXISTS default_providers (
	network   TEXT   NOT NULL,
	operation TEXT   NOT NULL,
	provider  TEXT   NOT NULL,
	set_at    BIGINT NOT NULL,
	PRIMARY KEY (network, operation)
)`

const (
	upsertSQL = `INSERT INTO default_providers (network, operation, provider, set_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (network, operation) DO UPDATE SET provider = excluded.provider, set_at = excluded.set_at`

	getSQL  = `SELECT provider, set_at FROM default_providers WHERE network = ? AND operation = ?`
	listSQL = `SELECT network, operation, provider, set_at FROM default_providers ORDER BY network, operation`
)

// Dialect selects the placeholder style
type Dialect int

// Supported dialects
const (
	Question Dialect = iota // ?, ?, ?
	Dollar                  // $1, $2, $3
)

// Store is a store.DefaultProviders over a SQL database
type Store struct {
	db     *sql.DB
	upsert string
	get    string
	list   string
}

var _ store.DefaultProviders = (*Store)(nil)

// New wraps an open database and creates the table when missing
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("create default_providers: %w", err)
	}
	return &Store{
		db:     db,
		upsert: rebind(d, upsertSQL),
		get:    rebind(d, getSQL),
		list:   rebind(d, listSQL),
	}, nil
}

func rebind(d Dialect, query string) string {
	if d != Dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get implements store.DefaultProviders
func (s *Store) Get(ctx context.Context, net types.Network, op types.Operation) (store.Record, error) {
	rec := store.Record{Network: net, Operation: op}
	var setAt int64
	err := s.db.QueryRowContext(ctx, s.get, string(net), op.String()).Scan(&rec.Provider, &setAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get default provider: %w", err)
	}
	rec.SetAt = time.UnixMilli(setAt).UTC()
	return rec, nil
}

// Upsert implements store.DefaultProviders
func (s *Store) Upsert(ctx context.Context, rec store.Record) error {
	_, err := s.db.ExecContext(ctx, s.upsert, string(rec.Network), rec.Operation.String(), rec.Provider, rec.SetAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert default provider: %w", err)
	}
	return nil
}

// List implements store.DefaultProviders
func (s *Store) List(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.list)
	if err != nil {
		return nil, fmt.Errorf("list default providers: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var net, op, provider string
		var setAt int64
		if err := rows.Scan(&net, &op, &provider, &setAt); err != nil {
			return nil, fmt.Errorf("scan default provider: %w", err)
		}
		operation, err := types.ParseOperation(op)
		if err != nil {
			return nil, err
		}
		out = append(out, store.Record{
			Network:   types.Network(net),
			Operation: operation,
			Provider:  provider,
			SetAt:     time.UnixMilli(setAt).UTC(),
		})
	}
	return out, rows.Err()
}

// Close implements store.DefaultProviders
func (s *Store) Close() error {
	return s.db.Close()
}
