package defaults

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chain-explorer/internal/cache"
	"github.com/yourorg/chain-explorer/internal/store"
	"github.com/yourorg/chain-explorer/internal/store/memory"
	"github.com/yourorg/chain-explorer/internal/store/sqlite"
	"github.com/yourorg/chain-explorer/internal/types"
)

// countingStore counts Get calls and can be told to fail
type countingStore struct {
	store.DefaultProviders
	mu   sync.Mutex
	gets int
	err  error
}

func (s *countingStore) Get(ctx context.Context, net types.Network, op types.Operation) (store.Record, error) {
	s.mu.Lock()
	s.gets++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return store.Record{}, err
	}
	return s.DefaultProviders.Get(ctx, net, op)
}

func (s *countingStore) Upsert(ctx context.Context, rec store.Record) error {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.DefaultProviders.Upsert(ctx, rec)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestTracker_RepeatedWinRefreshesSetAt(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := New(memory.New(), cache.NewMemory(), time.Minute, quietLogger()).
		WithClock(func() time.Time { return now })

	require.NoError(t, tr.Set(ctx, "blockbook", "BTC", types.OpBalance))
	now = now.Add(time.Hour)
	require.NoError(t, tr.Set(ctx, "blockbook", "BTC", types.OpBalance))

	recs, err := tr.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "blockbook", recs[0].Provider)
	assert.True(t, recs[0].SetAt.Equal(now), "got %s", recs[0].SetAt)
}

func TestTracker_SetGet(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{DefaultProviders: memory.New()}
	tr := New(st, cache.NewMemory(), time.Minute, quietLogger())

	_, ok := tr.Get(ctx, "BTC", types.OpBalance)
	assert.False(t, ok)
	_, ok = tr.Get(ctx, "BTC", types.OpBalance)
	assert.False(t, ok)
	assert.Equal(t, 1, st.gets, "missing record is cached")

	require.NoError(t, tr.Set(ctx, "cryptoid", "BTC", types.OpBalance))
	name, ok := tr.Get(ctx, "BTC", types.OpBalance)
	assert.True(t, ok)
	assert.Equal(t, "cryptoid", name)
	assert.Equal(t, 1, st.gets, "set refreshes the cache")

	recs, err := tr.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "cryptoid", recs[0].Provider)
}

func TestTracker_CacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	mem := memory.New()
	st := &countingStore{DefaultProviders: mem}
	tr := New(st, cache.NewMemory().WithClock(clock), 30*time.Second, quietLogger()).WithClock(clock)

	require.NoError(t, tr.Set(ctx, "blockbook", "LTC", types.OpBlockHead))
	// another instance changes the record behind the cache
	require.NoError(t, mem.Upsert(ctx, store.Record{Network: "LTC", Operation: types.OpBlockHead, Provider: "cryptoid", SetAt: now}))

	name, _ := tr.Get(ctx, "LTC", types.OpBlockHead)
	assert.Equal(t, "blockbook", name)

	now = now.Add(31 * time.Second)
	name, _ = tr.Get(ctx, "LTC", types.OpBlockHead)
	assert.Equal(t, "cryptoid", name)
}

func TestTracker_NoCache(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{DefaultProviders: memory.New()}
	tr := New(st, nil, 0, quietLogger())

	require.NoError(t, tr.Set(ctx, "etherscan", "ETH", types.OpTokenTxs))
	name, ok := tr.Get(ctx, "ETH", types.OpTokenTxs)
	assert.True(t, ok)
	assert.Equal(t, "etherscan", name)
	assert.Equal(t, 1, st.gets)
}

func TestTracker_StoreFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{DefaultProviders: memory.New(), err: errors.New("connection refused")}
	tr := New(st, cache.NewMemory(), time.Minute, quietLogger())

	name, ok := tr.Get(ctx, "BTC", types.OpBalance)
	assert.False(t, ok)
	assert.Empty(t, name)

	err := tr.Set(ctx, "blockbook", "BTC", types.OpBalance)
	assert.Error(t, err)

	// failures are not cached
	st.err = nil
	_, _ = tr.Get(ctx, "BTC", types.OpBalance)
	assert.Equal(t, 2, st.gets)
}

func TestTracker_ConcurrentSet(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "defaults.db"))
	require.NoError(t, err)
	defer st.Close()
	tr := New(st, nil, time.Minute, quietLogger())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, name := range []string{"blockbook", "cryptoid"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			errs[i] = tr.Set(ctx, name, "BTC", types.OpBalance)
		}(i, name)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, fmt.Sprint("writer ", i))
	}

	recs, err := tr.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, []string{"blockbook", "cryptoid"}, recs[0].Provider)
}
