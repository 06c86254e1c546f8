// Package fetchtest provides a scripted adapter for tests of code built on
// package fetch.
package fetchtest

import (
	"context"
	"sync"
	"time"

	"github.com/yourorg/chain-explorer/internal/fetch"
	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/parse"
	"github.com/yourorg/chain-explorer/internal/types"
)

// Handler answers one Fetch call
type Handler func(ctx context.Context, op types.Operation, q model.Query) (model.RawPayload, error)

// Adapter is a fetch.Adapter whose answers are scripted by the test
type Adapter struct {
	name   string
	net    types.Network
	ops    map[types.Operation]bool
	parser parse.Parser
	chain  types.ChainInfo

	mu           sync.Mutex
	handler      Handler
	delay        time.Duration
	backoffUntil time.Time
	calls        int
	queries      []model.Query
}

var _ fetch.TokenCapable = (*Adapter)(nil)

// New creates a fake adapter for net using p to parse its payloads
func New(name string, chain types.ChainInfo, p parse.Parser, ops ...types.Operation) *Adapter {
	a := &Adapter{
		name:   name,
		net:    chain.Network,
		chain:  chain,
		parser: p,
		ops:    make(map[types.Operation]bool),
	}
	for _, op := range ops {
		a.ops[op] = true
	}
	return a
}

// Returns makes every call answer raw
func (a *Adapter) Returns(raw string) *Adapter {
	return a.Handle(func(context.Context, types.Operation, model.Query) (model.RawPayload, error) {
		return model.RawPayload(raw), nil
	})
}

// Fails makes every call fail with err
func (a *Adapter) Fails(err error) *Adapter {
	return a.Handle(func(context.Context, types.Operation, model.Query) (model.RawPayload, error) {
		return nil, err
	})
}

// Handle sets a custom handler
func (a *Adapter) Handle(h Handler) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
	return a
}

// Delay holds every call for d or until the context ends
func (a *Adapter) Delay(d time.Duration) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
	return a
}

// BackoffUntil puts the adapter in backoff until t
func (a *Adapter) BackoffUntil(t time.Time) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backoffUntil = t
	return a
}

// Calls returns how many times Fetch was called
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Queries returns the queries Fetch received
func (a *Adapter) Queries() []model.Query {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Query(nil), a.queries...)
}

// Name implements fetch.Adapter
func (a *Adapter) Name() string { return a.name }

// Network implements fetch.Adapter
func (a *Adapter) Network() types.Network { return a.net }

// Supports implements fetch.Adapter
func (a *Adapter) Supports(op types.Operation) bool { return a.ops[op] }

// Parser implements fetch.Adapter
func (a *Adapter) Parser() parse.Parser { return a.parser }

// Token implements fetch.TokenCapable
func (a *Adapter) Token(contractOrSymbol string) (types.TokenInfo, bool) {
	return a.chain.Token(contractOrSymbol)
}

// InBackoff implements fetch.Adapter
func (a *Adapter) InBackoff(now time.Time) (bool, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return now.Before(a.backoffUntil), a.backoffUntil
}

// Fetch implements fetch.Adapter
func (a *Adapter) Fetch(ctx context.Context, op types.Operation, q model.Query) (model.RawPayload, error) {
	a.mu.Lock()
	a.calls++
	a.queries = append(a.queries, q)
	h, delay := a.handler, a.delay
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &fetch.ProviderError{Provider: a.name, Kind: fetch.ErrTransport, Err: ctx.Err()}
		}
	}
	if h == nil {
		return nil, &fetch.ProviderError{Provider: a.name, Kind: fetch.ErrTransport}
	}
	return h(ctx, op, q)
}
