// Package fetch provides the provider adapters that talk to blockchain explorer APIs.
// Adapters return raw payloads; turning them into records is left to package parse.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/chain-explorer/internal/circuitbreaker"
	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/parse"
	"github.com/yourorg/chain-explorer/internal/types"
)

// maxBodySize caps how much of a provider response is read into memory
const maxBodySize = 32 << 20

// Adapter defines the interface that all provider adapters must implement
type Adapter interface {
	// Name is the provider name, unique within a network
	Name() string

	// Network the adapter serves
	Network() types.Network

	// Supports reports whether the adapter can serve op
	Supports(op types.Operation) bool

	// Fetch performs the provider call for op and returns the raw body
	Fetch(ctx context.Context, op types.Operation, q model.Query) (model.RawPayload, error)

	// Parser returns the parser matching this provider's payloads
	Parser() parse.Parser

	// InBackoff reports whether the adapter is backing off at now and until when
	InBackoff(now time.Time) (bool, time.Time)
}

// TokenCapable is implemented by adapters serving networks with token
// contracts. Only they may claim the token operations.
type TokenCapable interface {
	Adapter
	Token(contractOrSymbol string) (types.TokenInfo, bool)
}

// Kind names a provider family in configuration
type Kind string

// Provider families
const (
	KindBlockbook Kind = "blockbook"
	KindCryptoid  Kind = "cryptoid"
	KindEVMRPC    Kind = "evm_rpc"
	KindEtherscan Kind = "etherscan"
)

// Factory builds an adapter of one family
type Factory func(opts Options, info types.ChainInfo) (Adapter, error)

var factories = map[Kind]Factory{
	KindBlockbook: func(opts Options, info types.ChainInfo) (Adapter, error) {
		a, err := NewBlockbookAdapter(opts, info)
		if err != nil {
			return nil, err
		}
		return a, nil
	},
	KindCryptoid: func(opts Options, info types.ChainInfo) (Adapter, error) {
		a, err := NewCryptoidAdapter(opts, info)
		if err != nil {
			return nil, err
		}
		return a, nil
	},
	KindEVMRPC: func(opts Options, info types.ChainInfo) (Adapter, error) {
		a, err := NewEVMRPCAdapter(opts, info)
		if err != nil {
			return nil, err
		}
		return a, nil
	},
	KindEtherscan: func(opts Options, info types.ChainInfo) (Adapter, error) {
		a, err := NewEtherscanAdapter(opts, info)
		if err != nil {
			return nil, err
		}
		return a, nil
	},
}

// NewAdapter creates a provider adapter of the given family
func NewAdapter(kind Kind, opts Options, info types.ChainInfo) (Adapter, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
	return factory(opts, info)
}

// SharedLimiter is a rate counter shared between explorer instances
type SharedLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Options configures an HTTP based adapter
type Options struct {
	Name    string
	Network types.Network
	BaseURL string

	// Operations restricts the adapter to a subset of what its family supports
	Operations []types.Operation

	// Keys is the API key pool, one key is picked per call
	Keys []string

	// Proxy is an optional HTTP proxy URL
	Proxy string

	// Rate is the local request budget per second, 0 disables local limiting
	Rate  float64
	Burst int

	// SharedLimit is the per second budget enforced through Shared across instances
	SharedLimit int
	Shared      SharedLimiter

	Timeout  time.Duration
	RetryMax int

	// RateLimitBackoff is how long the adapter is skipped after a throttling
	// response that carries no Retry-After
	RateLimitBackoff time.Duration

	// FailureThreshold trips the adapter after that many consecutive transport failures
	FailureThreshold int

	// OnTrip is called when the adapter enters backoff
	OnTrip func(name, reason string, until time.Time)

	Logger *logrus.Logger
}

// HTTPAdapter holds the transport shared by all provider families: retrying
// HTTP client, key pool, local rate limiter and backoff state.
type HTTPAdapter struct {
	opts    Options
	client  *retryablehttp.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	keys    *KeyPool
	ops     map[types.Operation]bool
	log     *logrus.Logger
}

// NewHTTPAdapter creates the transport for a provider. supported lists the
// operations of the provider family; Options.Operations may narrow it.
func NewHTTPAdapter(opts Options, supported []types.Operation) (*HTTPAdapter, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("adapter name is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil || opts.BaseURL == "" {
		return nil, fmt.Errorf("adapter %s: invalid base url %q", opts.Name, opts.BaseURL)
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RateLimitBackoff <= 0 {
		opts.RateLimitBackoff = 30 * time.Second
	}

	client := newRetryClient(opts.RetryMax, opts.Timeout)
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: invalid proxy %q: %w", opts.Name, opts.Proxy, err)
		}
		if t, ok := client.HTTPClient.Transport.(*http.Transport); ok {
			t.Proxy = http.ProxyURL(proxyURL)
		}
	}

	a := &HTTPAdapter{
		opts:   opts,
		client: client,
		keys:   NewKeyPool(opts.Keys),
		ops:    make(map[types.Operation]bool),
		log:    log,
		breaker: circuitbreaker.New(opts.Name).
			WithResetDelay(opts.RateLimitBackoff).
			WithFailureThreshold(opts.FailureThreshold).
			WithTripCallback(opts.OnTrip).
			WithLogger(log),
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}

	allowed := make(map[types.Operation]bool)
	for _, op := range opts.Operations {
		allowed[op] = true
	}
	for _, op := range supported {
		if len(allowed) == 0 || allowed[op] {
			a.ops[op] = true
		}
	}
	for op := range allowed {
		if !a.ops[op] {
			return nil, fmt.Errorf("adapter %s does not support %s", opts.Name, op)
		}
	}
	return a, nil
}

// newRetryClient creates a new HTTP client with retry capabilities. Throttling
// responses are never retried here: the explorer fails over instead.
func newRetryClient(retryMax int, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = nil
	c.HTTPClient.Timeout = timeout
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// Name implements Adapter
func (a *HTTPAdapter) Name() string { return a.opts.Name }

// Network implements Adapter
func (a *HTTPAdapter) Network() types.Network { return a.opts.Network }

// Supports implements Adapter
func (a *HTTPAdapter) Supports(op types.Operation) bool { return a.ops[op] }

// InBackoff implements Adapter
func (a *HTTPAdapter) InBackoff(now time.Time) (bool, time.Time) {
	until, open := a.breaker.Until(now)
	return open, until
}

// Breaker exposes the backoff state, mainly for tests and status reporting
func (a *HTTPAdapter) Breaker() *circuitbreaker.CircuitBreaker { return a.breaker }

// Key picks an API key from the pool
func (a *HTTPAdapter) Key() string { return a.keys.Pick() }

// Throttled puts the adapter into backoff and returns the matching error
func (a *HTTPAdapter) Throttled(status int, retryAfter time.Duration, cause error) error {
	a.breaker.Trip(fmt.Sprintf("throttled: %v", cause), retryAfter)
	e := newProviderError(a.opts.Name, ErrRateLimited, status, cause)
	e.RetryAfter = retryAfter
	return e
}

// Unauthorized returns an authentication error for the adapter
func (a *HTTPAdapter) Unauthorized(status int, cause error) error {
	a.breaker.Failure("authentication rejected")
	return newProviderError(a.opts.Name, ErrAuth, status, cause)
}

// allow applies the backoff state and both rate limiters before a call
func (a *HTTPAdapter) allow(ctx context.Context) error {
	if !a.breaker.Allow() {
		return newProviderError(a.opts.Name, ErrRateLimited, 0, fmt.Errorf("in backoff"))
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return newProviderError(a.opts.Name, ErrRateLimited, 0, fmt.Errorf("local request budget exhausted"))
	}
	if a.opts.Shared != nil && a.opts.SharedLimit > 0 {
		ok, err := a.opts.Shared.Allow(ctx, "ratelimit:"+string(a.opts.Network)+":"+a.opts.Name, a.opts.SharedLimit, time.Second)
		if err != nil {
			a.log.Warnf("Shared rate limiter unavailable for %s: %v", a.opts.Name, err)
			return nil
		}
		if !ok {
			return newProviderError(a.opts.Name, ErrRateLimited, 0, fmt.Errorf("shared request budget exhausted"))
		}
	}
	return nil
}

// Get performs a GET against path relative to the base URL
func (a *HTTPAdapter) Get(ctx context.Context, path string, params url.Values, header http.Header) (model.RawPayload, error) {
	u := strings.TrimRight(a.opts.BaseURL, "/") + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return a.do(ctx, req)
}

// PostJSON posts body encoded as JSON to path relative to the base URL
func (a *HTTPAdapter) PostJSON(ctx context.Context, path string, body interface{}) (model.RawPayload, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error encoding request: %w", err)
	}
	u := strings.TrimRight(a.opts.BaseURL, "/") + path
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(ctx, req)
}

func (a *HTTPAdapter) do(ctx context.Context, req *retryablehttp.Request) (model.RawPayload, error) {
	if err := a.allow(ctx); err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	a.log.Debugf("Fetching %s %s from %s", req.Method, req.URL.Path, a.opts.Name)
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			a.breaker.Failure(err.Error())
		}
		return nil, newProviderError(a.opts.Name, ErrTransport, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		a.breaker.Failure(err.Error())
		return nil, newProviderError(a.opts.Name, ErrTransport, resp.StatusCode, fmt.Errorf("error reading body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cause := fmt.Errorf("body: %s", truncate(body, 256))
		switch kind := classifyStatus(resp.StatusCode); kind {
		case ErrRateLimited:
			return nil, a.Throttled(resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), cause)
		case ErrAuth:
			return nil, a.Unauthorized(resp.StatusCode, cause)
		default:
			a.breaker.Failure(fmt.Sprintf("status %d", resp.StatusCode))
			return nil, newProviderError(a.opts.Name, kind, resp.StatusCode, cause)
		}
	}

	a.breaker.Success()
	return model.RawPayload(body), nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func unsupportedOp(name string, op types.Operation) error {
	return fmt.Errorf("adapter %s cannot serve %s", name, op)
}
