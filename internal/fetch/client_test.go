package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/types"
)

var (
	btcInfo = types.ChainInfo{Network: "BTC", Symbol: "BTC", Decimals: 8}
	ethInfo = types.ChainInfo{
		Network:  "ETH",
		Symbol:   "ETH",
		Decimals: 18,
		Tokens:   []types.TokenInfo{{Contract: "0xdac17f958d2ee523a2206206994597c13d831ec7", Symbol: "USDT", Decimals: 6}},
	}
)

func testOptions(name, url string) Options {
	return Options{
		Name:             name,
		Network:          "BTC",
		BaseURL:          url,
		Timeout:          2 * time.Second,
		RetryMax:         0,
		RateLimitBackoff: time.Minute,
	}
}

func TestBlockbook_FetchBalance(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("Api-Key")
		_, _ = w.Write([]byte(`{"address":"1A1z","balance":"50000000"}`))
	}))
	defer srv.Close()

	opts := testOptions("blockbook", srv.URL)
	opts.Keys = []string{"k1"}
	a, err := NewBlockbookAdapter(opts, btcInfo)
	require.NoError(t, err)

	raw, err := a.Fetch(context.Background(), types.OpBalance, model.Query{Address: "1A1z"})
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/address/1A1z", gotPath)
	assert.Equal(t, "details=basic", gotQuery)
	assert.Equal(t, "k1", gotKey)
	assert.True(t, a.Parser().Validate(types.OpBalance, raw))
}

func TestBlockbook_FetchBlockFollowsPages(t *testing.T) {
	pages := map[string]string{
		"":  `{"hash":"00aa","height":42,"time":1600000000,"page":1,"totalPages":3,"txCount":3,"txs":[{"txid":"t1","vin":[],"vout":[{"value":"1","n":0,"addresses":["m"]}]}]}`,
		"2": `{"hash":"00aa","height":42,"page":2,"totalPages":3,"txCount":3,"txs":[{"txid":"t2","vin":[{"addresses":["x"]}],"vout":[{"value":"2","n":0,"addresses":["y"]}]}]}`,
		"3": `{"hash":"00aa","height":42,"page":3,"totalPages":3,"txCount":3,"txs":[{"txid":"t3","vin":[{"addresses":["y"]}],"vout":[{"value":"3","n":0,"addresses":["z"]}]}]}`,
	}
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/api/v2/block/42", r.URL.Path)
		_, _ = w.Write([]byte(pages[r.URL.Query().Get("page")]))
	}))
	defer srv.Close()

	a, err := NewBlockbookAdapter(testOptions("blockbook", srv.URL), btcInfo)
	require.NoError(t, err)

	raw, err := a.Fetch(context.Background(), types.OpBlockTxs, model.Query{Height: 42})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.True(t, a.Parser().Validate(types.OpBlockTxs, raw))

	txs, err := a.Parser().ParseTransfers(types.OpBlockTxs, raw, model.Query{Height: 42})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i, hash := range []string{"t1", "t2", "t3"} {
		assert.Equal(t, hash, txs[i].Hash)
		assert.Equal(t, int64(42), txs[i].BlockHeight)
	}
}

func TestBlockbook_FetchBlockPageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"hash":"00aa","height":42,"page":1,"totalPages":2,"txCount":2,"txs":[{"txid":"t1"}]}`))
	}))
	defer srv.Close()

	a, err := NewBlockbookAdapter(testOptions("blockbook", srv.URL), btcInfo)
	require.NoError(t, err)

	_, err = a.Fetch(context.Background(), types.OpBlockTxs, model.Query{Height: 42})
	assert.True(t, errors.Is(err, ErrTransport), "got %v", err)
}

func TestHTTPAdapter_RateLimitSetsBackoff(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	opts := testOptions("blockbook", srv.URL)
	opts.RetryMax = 3
	a, err := NewBlockbookAdapter(opts, btcInfo)
	require.NoError(t, err)

	_, err = a.Fetch(context.Background(), types.OpBalance, model.Query{Address: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, 120*time.Second, pe.RetryAfter)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "429 must not be retried")

	inBackoff, until := a.InBackoff(time.Now())
	assert.True(t, inBackoff)
	assert.WithinDuration(t, time.Now().Add(120*time.Second), until, 5*time.Second)

	_, err = a.Fetch(context.Background(), types.OpBalance, model.Query{Address: "x"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "calls in backoff must not reach the network")
}

func TestHTTPAdapter_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuth},
		{"forbidden", http.StatusForbidden, ErrAuth},
		{"server error", http.StatusBadGateway, ErrTransport},
		{"not found", http.StatusNotFound, ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			a, err := NewBlockbookAdapter(testOptions("blockbook", srv.URL), btcInfo)
			require.NoError(t, err)

			_, err = a.Fetch(context.Background(), types.OpBlockHead, model.Query{})
			assert.ErrorIs(t, err, tt.want)
			inBackoff, _ := a.InBackoff(time.Now())
			assert.False(t, inBackoff)
		})
	}
}

func TestHTTPAdapter_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"blockbook":{"bestHeight":10}}`))
	}))
	defer srv.Close()

	opts := testOptions("blockbook", srv.URL)
	opts.RetryMax = 1
	a, err := NewBlockbookAdapter(opts, btcInfo)
	require.NoError(t, err)

	_, err = a.Fetch(context.Background(), types.OpBlockHead, model.Query{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestHTTPAdapter_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	a, err := NewBlockbookAdapter(testOptions("blockbook", url), btcInfo)
	require.NoError(t, err)

	_, err = a.Fetch(context.Background(), types.OpBlockHead, model.Query{})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestHTTPAdapter_LocalRateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	opts := testOptions("blockbook", srv.URL)
	opts.Rate = 0.01
	opts.Burst = 1
	a, err := NewBlockbookAdapter(opts, btcInfo)
	require.NoError(t, err)

	_, err = a.Fetch(context.Background(), types.OpBlockHead, model.Query{})
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), types.OpBlockHead, model.Query{})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

type denyLimiter struct{ key string }

func (d *denyLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	d.key = key
	return false, nil
}

func TestHTTPAdapter_SharedRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should have been blocked by the shared limiter")
	}))
	defer srv.Close()

	limiter := &denyLimiter{}
	opts := testOptions("blockbook", srv.URL)
	opts.Shared = limiter
	opts.SharedLimit = 5
	a, err := NewBlockbookAdapter(opts, btcInfo)
	require.NoError(t, err)

	_, err = a.Fetch(context.Background(), types.OpBlockHead, model.Query{})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, "ratelimit:BTC:blockbook", limiter.key)
}

func TestNewHTTPAdapter_Operations(t *testing.T) {
	opts := testOptions("blockbook", "http://localhost")
	opts.Operations = []types.Operation{types.OpBalance}
	a, err := NewBlockbookAdapter(opts, btcInfo)
	require.NoError(t, err)
	assert.True(t, a.Supports(types.OpBalance))
	assert.False(t, a.Supports(types.OpTxDetails))

	opts.Operations = []types.Operation{types.OpTokenTxs}
	_, err = NewBlockbookAdapter(opts, btcInfo)
	assert.Error(t, err, "blockbook cannot be configured for token transfers")

	_, err = NewAdapter("unknown", testOptions("x", "http://localhost"), btcInfo)
	assert.Error(t, err)
}

func TestCryptoid_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/btc/api.dws", r.URL.Path)
		assert.Equal(t, "getbalances", r.URL.Query().Get("q"))
		assert.Equal(t, "1A1z", r.URL.Query().Get("a"))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"1A1z":"0.5"}`))
	}))
	defer srv.Close()

	opts := testOptions("cryptoid", srv.URL+"/btc")
	opts.Keys = []string{"secret"}
	a, err := NewCryptoidAdapter(opts, btcInfo)
	require.NoError(t, err)

	raw, err := a.Fetch(context.Background(), types.OpBalance, model.Query{Address: "1A1z"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"1A1z":"0.5"}`, string(raw))

	_, err = a.Fetch(context.Background(), types.OpTxDetails, model.Query{})
	assert.Error(t, err)
}

func TestEVMRPC_TokenBalanceRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/key1", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req rpcRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "eth_call", req.Method)
		call := req.Params[0].(map[string]interface{})
		assert.Equal(t, "0x70a08231000000000000000000000000"+"1111111111111111111111111111111111111111", call["data"])
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x00000000000000000000000000000000000000000000000000000000000f4240"}`))
	}))
	defer srv.Close()

	opts := testOptions("infura", srv.URL)
	opts.Network = "ETH"
	opts.Keys = []string{"key1"}
	a, err := NewEVMRPCAdapter(opts, ethInfo)
	require.NoError(t, err)

	raw, err := a.Fetch(context.Background(), types.OpTokenBalance, model.Query{
		Address:  "0x1111111111111111111111111111111111111111",
		Contract: "0xdac17f958d2ee523a2206206994597c13d831ec7",
	})
	require.NoError(t, err)
	assert.True(t, a.Parser().Validate(types.OpTokenBalance, raw))

	token, ok := a.Token("usdt")
	require.True(t, ok)
	assert.Equal(t, int32(6), token.Decimals)
}

func TestEVMRPC_ThrottledInsideBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"limit exceeded"}}`))
	}))
	defer srv.Close()

	opts := testOptions("node", srv.URL)
	opts.Network = "ETH"
	a, err := NewEVMRPCAdapter(opts, ethInfo)
	require.NoError(t, err)

	_, err = a.Fetch(context.Background(), types.OpBalance, model.Query{Address: "0x1111111111111111111111111111111111111111"})
	assert.ErrorIs(t, err, ErrRateLimited)
	inBackoff, _ := a.InBackoff(time.Now())
	assert.True(t, inBackoff)
}

func TestEtherscan_EnvelopeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"rate limit", `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`, ErrRateLimited},
		{"bad key", `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`, ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api", r.URL.Path)
				assert.Equal(t, "balance", r.URL.Query().Get("action"))
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			opts := testOptions("etherscan", srv.URL)
			opts.Network = "ETH"
			a, err := NewEtherscanAdapter(opts, ethInfo)
			require.NoError(t, err)

			_, err = a.Fetch(context.Background(), types.OpBalance, model.Query{Address: "0x1"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEtherscan_EmptyListPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "txlist", r.URL.Query().Get("action"))
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer srv.Close()

	opts := testOptions("etherscan", srv.URL)
	opts.Network = "ETH"
	a, err := NewEtherscanAdapter(opts, ethInfo)
	require.NoError(t, err)

	raw, err := a.Fetch(context.Background(), types.OpAddressTxs, model.Query{Address: "0x1"})
	require.NoError(t, err)
	assert.True(t, a.Parser().Validate(types.OpAddressTxs, raw))
}

func TestKeyPool_Pick(t *testing.T) {
	assert.Equal(t, "", NewKeyPool(nil).Pick())
	assert.Equal(t, "", (*KeyPool)(nil).Pick())

	p := NewKeyPool([]string{"a", " ", "b", "c"})
	assert.Equal(t, 3, p.Len())

	seen := make(map[string]bool)
	for i := 0; i < 300; i++ {
		k := p.Pick()
		assert.Contains(t, []string{"a", "b", "c"}, k)
		seen[k] = true
	}
	assert.Len(t, seen, 3, "random selection should reach every key")
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage", now))
	assert.Equal(t, time.Minute, parseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
}
