// Package defaults remembers which adapter last succeeded for each network
// and operation. Reads go through a short TTL cache; the store is
// authoritative and the cache may lag it by up to one TTL.
package defaults

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-explorer/internal/cache"
	"github.com/yourorg/chain-explorer/internal/store"
	"github.com/yourorg/chain-explorer/internal/types"
)

// DefaultTTL is used when New is given a non positive ttl
const DefaultTTL = 60 * time.Second

// Tracker is the default provider tracker
type Tracker struct {
	store store.DefaultProviders
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
	log   *logrus.Logger
}

// New creates a tracker. c may be nil, in which case every read hits the store.
func New(st store.DefaultProviders, c cache.Cache, ttl time.Duration, log *logrus.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{store: st, cache: c, ttl: ttl, now: time.Now, log: log}
}

// WithClock sets the time source used for SetAt
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func cacheKey(net types.Network, op types.Operation) string {
	return "default:" + string(net) + ":" + op.String()
}

// Get returns the current default adapter name. Lookup failures are logged
// and reported as "no default".
func (t *Tracker) Get(ctx context.Context, net types.Network, op types.Operation) (string, bool) {
	key := cacheKey(net, op)
	if t.cache != nil {
		v, err := t.cache.Get(ctx, key)
		switch {
		case err == nil:
			return v, v != ""
		case !errors.Is(err, cache.ErrMiss):
			t.log.WithFields(logrus.Fields{"network": net, "operation": op}).Warnf("Default provider cache read failed: %v", err)
		}
	}

	rec, err := t.store.Get(ctx, net, op)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// cached as empty so unknown pairs don't hit the store on every call
		t.remember(ctx, key, "")
		return "", false
	case err != nil:
		t.log.WithFields(logrus.Fields{"network": net, "operation": op}).Warnf("Default provider store read failed: %v", err)
		return "", false
	}
	t.remember(ctx, key, rec.Provider)
	return rec.Provider, rec.Provider != ""
}

// Set records provider as the default for (net, op) with one atomic upsert
// and refreshes the cache.
func (t *Tracker) Set(ctx context.Context, provider string, net types.Network, op types.Operation) error {
	rec := store.Record{Network: net, Operation: op, Provider: provider, SetAt: t.now().UTC()}
	if err := t.store.Upsert(ctx, rec); err != nil {
		return err
	}
	t.remember(ctx, cacheKey(net, op), provider)
	return nil
}

// List returns every stored record
func (t *Tracker) List(ctx context.Context) ([]store.Record, error) {
	return t.store.List(ctx)
}

func (t *Tracker) remember(ctx context.Context, key, provider string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Set(ctx, key, provider, t.ttl); err != nil {
		t.log.Warnf("Default provider cache write failed for %s: %v", key, err)
	}
}
