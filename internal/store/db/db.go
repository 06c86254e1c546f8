// Package db implements the opening of the configured default provider store.
package db

import (
	"context"
	"fmt"

	"github.com/yourorg/chain-explorer/internal/store"
	"github.com/yourorg/chain-explorer/internal/store/memory"
	"github.com/yourorg/chain-explorer/internal/store/mongo"
	"github.com/yourorg/chain-explorer/internal/store/postgres"
	"github.com/yourorg/chain-explorer/internal/store/sqlite"
)

// Store types accepted by New
const (
	MEMORY   string = "memory"
	SQLITE   string = "sqlite"
	POSTGRES string = "postgresql"
	MONGODB  string = "mongodb"
)

// New returns a new store according to the options (store type).
func New(ctx context.Context, options, connection string) (store.DefaultProviders, error) {
	switch options {
	case MEMORY, "":
		return memory.New(), nil
	case SQLITE:
		if connection == "" {
			connection = "explorer.db"
		}
		s, err := sqlite.New(ctx, connection)
		if err != nil {
			return nil, err
		}
		return s, nil
	case POSTGRES:
		s, err := postgres.New(ctx, connection)
		if err != nil {
			return nil, err
		}
		return s, nil
	case MONGODB:
		s, err := mongo.New(ctx, connection)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store type %q", options)
}
