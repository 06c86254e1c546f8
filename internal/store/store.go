// Package store defines the persistent record of default providers. The
// backends live in the sub packages; each performs Upsert as one atomic
// storage level operation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/chain-explorer/internal/types"
)

// ErrNotFound is returned when no record exists for a network and operation
var ErrNotFound = errors.New("record not found")

// Record names the provider that last succeeded for a network and operation
type Record struct {
	Network   types.Network   `json:"network"`
	Operation types.Operation `json:"operation"`
	Provider  string          `json:"provider"`
	SetAt     time.Time       `json:"set_at"`
}

// DefaultProviders persists one Record per network and operation
type DefaultProviders interface {
	Get(ctx context.Context, net types.Network, op types.Operation) (Record, error)

	// Upsert creates or replaces the record in a single atomic write.
	// Concurrent writers never fail because of each other; the last one wins.
	Upsert(ctx context.Context, rec Record) error

	List(ctx context.Context) ([]Record, error)
	Close() error
}
