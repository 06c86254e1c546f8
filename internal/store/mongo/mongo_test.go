package mongo

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chain-explorer/internal/store"
	"github.com/yourorg/chain-explorer/internal/types"
)

// These tests need a running server, e.g. MONGO_URI=mongodb://localhost:27017
func newTestMongo(t *testing.T) *Mongo {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	m, err := New(context.Background(), uri)
	require.NoError(t, err)
	_, err = m.col.DeleteMany(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMongo_UpsertAndGet(t *testing.T) {
	m := newTestMongo(t)
	ctx := context.Background()

	_, err := m.Get(ctx, "BTC", types.OpBalance)
	assert.ErrorIs(t, err, store.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, m.Upsert(ctx, store.Record{Network: "BTC", Operation: types.OpBalance, Provider: "a", SetAt: now}))
	require.NoError(t, m.Upsert(ctx, store.Record{Network: "BTC", Operation: types.OpBalance, Provider: "b", SetAt: now}))

	rec, err := m.Get(ctx, "BTC", types.OpBalance)
	require.NoError(t, err)
	assert.Equal(t, "b", rec.Provider)

	all, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMongo_ConcurrentUpsert(t *testing.T) {
	m := newTestMongo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			provider := "a"
			if i%2 == 1 {
				provider = "b"
			}
			errs <- m.Upsert(ctx, store.Record{Network: "ETH", Operation: types.OpTxDetails, Provider: provider, SetAt: time.Now()})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Contains(t, []string{"a", "b"}, all[0].Provider)
}
