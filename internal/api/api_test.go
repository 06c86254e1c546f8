package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chain-explorer/internal/aggregate"
	"github.com/yourorg/chain-explorer/internal/defaults"
	"github.com/yourorg/chain-explorer/internal/fetch"
	"github.com/yourorg/chain-explorer/internal/fetch/fetchtest"
	"github.com/yourorg/chain-explorer/internal/parse"
	"github.com/yourorg/chain-explorer/internal/registry"
	"github.com/yourorg/chain-explorer/internal/store/memory"
	"github.com/yourorg/chain-explorer/internal/telemetry"
	"github.com/yourorg/chain-explorer/internal/types"
)

const addr = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

var btc = types.ChainInfo{Network: "BTC", Symbol: "BTC", Decimals: 8}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fixture struct {
	srv     *httptest.Server
	good    *fetchtest.Adapter
	bad     *fetchtest.Adapter
	tracker *defaults.Tracker
	ex      *aggregate.Explorer
}

func newFixture(t *testing.T, good func(*fetchtest.Adapter)) *fixture {
	t.Helper()
	f := &fixture{
		bad: fetchtest.New("bad", btc, parse.NewBlockbook(btc), types.OpBalance).
			Fails(&fetch.ProviderError{Provider: "bad", Kind: fetch.ErrTransport, Err: errors.New("connection reset")}),
		good: fetchtest.New("good", btc, parse.NewBlockbook(btc), types.OpBalance, types.OpBlockHead),
	}
	good(f.good)

	reg := registry.New()
	reg.AddNetwork(btc)
	require.NoError(t, reg.Register(f.bad))
	require.NoError(t, reg.Register(f.good))

	m := telemetry.NewMetrics(nil)
	f.tracker = defaults.New(memory.New(), nil, 0, quietLogger())
	f.ex = aggregate.New(reg, f.tracker, aggregate.WithLogger(quietLogger()), aggregate.WithMetrics(m))

	s := New(f.ex, f.tracker, WithLogger(quietLogger()), WithMetricsHandler(m.Handler()))
	f.srv = httptest.NewServer(s.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func get(t *testing.T, url string) (int, Response) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json;charset=utf8", resp.Header.Get("Content-Type"))
	var res Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp.StatusCode, res
}

func TestBalance(t *testing.T) {
	f := newFixture(t, func(a *fetchtest.Adapter) {
		a.Returns(fmt.Sprintf(`{"address":%q,"balance":"50000000"}`, addr))
	})

	status, res := get(t, f.srv.URL+"/v1/btc/balance/"+addr)
	require.Equal(t, http.StatusOK, status, res.Error)
	body, ok := res.Body.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "0.5", body["amount"])
	assert.Equal(t, "good", body["provider"])
	assert.Equal(t, 1, f.bad.Calls())

	f.ex.Flush()
	status, res = get(t, f.srv.URL+"/v1/defaults")
	require.Equal(t, http.StatusOK, status)
	recs, ok := res.Body.([]interface{})
	require.True(t, ok)
	require.Len(t, recs, 1)
	assert.Equal(t, "good", recs[0].(map[string]interface{})["provider"])
}

func TestErrorStatus(t *testing.T) {
	f := newFixture(t, func(a *fetchtest.Adapter) {
		a.Fails(&fetch.ProviderError{Provider: "good", Kind: fetch.ErrRateLimited, Err: errors.New("429")})
	})

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"exhausted", "/v1/BTC/balance/" + addr, http.StatusBadGateway},
		{"unsupported operation", "/v1/BTC/tx/abc", http.StatusNotFound},
		{"unknown network", "/v1/DOGE/head", http.StatusNotFound},
		{"bad direction", "/v1/BTC/address/" + addr + "/txs?direction=sideways", http.StatusBadRequest},
		{"bad range", "/v1/BTC/blocks?from=a&to=2", http.StatusBadRequest},
		{"reversed range", "/v1/BTC/blocks?from=5&to=2", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := get(t, f.srv.URL+tt.path)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, res.Error)
			assert.Nil(t, res.Body)
		})
	}

	_, res := get(t, f.srv.URL+"/v1/BTC/balance/"+addr)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, FailureView{Provider: "bad", Kind: "transport", Error: res.Failures[0].Error}, res.Failures[0])
	assert.Equal(t, "rate_limit", res.Failures[1].Kind)
}

func TestNetworksAndHealth(t *testing.T) {
	f := newFixture(t, func(*fetchtest.Adapter) {})

	status, res := get(t, f.srv.URL+"/v1/networks")
	require.Equal(t, http.StatusOK, status)
	nets, ok := res.Body.([]interface{})
	require.True(t, ok)
	assert.Len(t, nets, 1)

	status, res = get(t, f.srv.URL+"/health")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", res.Body.(map[string]interface{})["status"])

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTimeoutMapsToGatewayTimeout(t *testing.T) {
	rec := httptest.NewRecorder()
	s := New(nil, nil, WithLogger(quietLogger()))
	req := httptest.NewRequest(http.MethodGet, "/v1/BTC/head", nil)
	s.fail(rec, req, fmt.Errorf("head: %w", context.DeadlineExceeded))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}
