package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chain-explorer/internal/store"
	"github.com/yourorg/chain-explorer/internal/types"
)

func TestSQLite_UpsertGetList(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, filepath.Join(t.TempDir(), "explorer.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "BTC", types.OpBalance)
	assert.ErrorIs(t, err, store.ErrNotFound)

	at := time.UnixMilli(1700000000123).UTC()
	require.NoError(t, s.Upsert(ctx, store.Record{Network: "BTC", Operation: types.OpBalance, Provider: "blockbook", SetAt: at}))
	require.NoError(t, s.Upsert(ctx, store.Record{Network: "BTC", Operation: types.OpBalance, Provider: "cryptoid", SetAt: at.Add(time.Second)}))
	require.NoError(t, s.Upsert(ctx, store.Record{Network: "ETH", Operation: types.OpTokenTxs, Provider: "etherscan", SetAt: at}))

	rec, err := s.Get(ctx, "BTC", types.OpBalance)
	require.NoError(t, err)
	assert.Equal(t, "cryptoid", rec.Provider)
	assert.Equal(t, at.Add(time.Second), rec.SetAt)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, types.OpBalance, all[0].Operation)
	assert.Equal(t, types.OpTokenTxs, all[1].Operation)
}

func TestSQLite_ConcurrentUpsert(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, filepath.Join(t.TempDir(), "race.db"))
	require.NoError(t, err)
	defer s.Close()

	const writers = 32
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Upsert(ctx, store.Record{
				Network:   "LTC",
				Operation: types.OpAddressTxs,
				Provider:  fmt.Sprintf("provider-%d", i),
				SetAt:     time.Now(),
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Provider, "provider-")
}

func TestSQLite_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, store.Record{Network: "DOGE", Operation: types.OpBlockHead, Provider: "cryptoid", SetAt: time.Now()}))
	require.NoError(t, s.Close())

	s, err = New(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Get(ctx, "DOGE", types.OpBlockHead)
	require.NoError(t, err)
	assert.Equal(t, "cryptoid", rec.Provider)
}
