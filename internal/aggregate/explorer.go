// Package aggregate implements the explorer: one normalized answer per call,
// assembled from whichever configured provider answers first with a valid
// payload.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/chain-explorer/internal/fetch"
	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/registry"
	"github.com/yourorg/chain-explorer/internal/telemetry"
	"github.com/yourorg/chain-explorer/internal/types"
	"github.com/yourorg/chain-explorer/internal/validation"
)

const (
	// MaxBlockRange bounds the number of blocks in one GetBlocksTxs call
	MaxBlockRange = 1000

	trackerTimeout = 5 * time.Second
)

// Tracker remembers the adapter that last succeeded per network and operation
type Tracker interface {
	Get(ctx context.Context, net types.Network, op types.Operation) (string, bool)
	Set(ctx context.Context, provider string, net types.Network, op types.Operation) error
}

// Reporter receives exhaustion events
type Reporter interface {
	Add(ev telemetry.ExhaustionEvent)
}

// Explorer answers queries by failing over between the adapters the registry
// lists for each network and operation.
type Explorer struct {
	registry *registry.Registry
	tracker  Tracker
	metrics  *telemetry.Metrics
	reporter Reporter
	log      *logrus.Logger

	workers        int
	hedge          int
	maxBackoffWait time.Duration
	now            func() time.Time

	pending sync.WaitGroup
}

// Option configures an Explorer
type Option func(*Explorer)

// WithMetrics records Prometheus metrics
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Explorer) { e.metrics = m }
}

// WithReporter forwards exhaustion events to r
func WithReporter(r Reporter) Option {
	return func(e *Explorer) { e.reporter = r }
}

// WithLogger sets the logger
func WithLogger(l *logrus.Logger) Option {
	return func(e *Explorer) {
		if l != nil {
			e.log = l
		}
	}
}

// WithWorkers bounds the concurrent blocks of a range query
func WithWorkers(n int) Option {
	return func(e *Explorer) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithHedge races up to n candidates per block of a range query
func WithHedge(n int) Option {
	return func(e *Explorer) {
		if n > 0 {
			e.hedge = n
		}
	}
}

// WithMaxBackoffWait sets how long a call may wait when every candidate is in backoff
func WithMaxBackoffWait(d time.Duration) Option {
	return func(e *Explorer) { e.maxBackoffWait = d }
}

// WithClock sets the time source used for backoff checks
func WithClock(now func() time.Time) Option {
	return func(e *Explorer) { e.now = now }
}

// New creates an explorer. tracker may be nil.
func New(reg *registry.Registry, tracker Tracker, opts ...Option) *Explorer {
	e := &Explorer{
		registry: reg,
		tracker:  tracker,
		log:      logrus.StandardLogger(),
		workers:  4,
		hedge:    1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Flush waits for pending default provider writes
func (e *Explorer) Flush() {
	e.pending.Wait()
}

// NetworkInfo describes a configured network
type NetworkInfo struct {
	Network    types.Network     `json:"network"`
	Symbol     string            `json:"symbol"`
	Operations []string          `json:"operations"`
	Tokens     []types.TokenInfo `json:"tokens,omitempty"`
}

// Networks lists the configured networks and their supported operations
func (e *Explorer) Networks() []NetworkInfo {
	nets := e.registry.Networks()
	out := make([]NetworkInfo, 0, len(nets))
	for _, net := range nets {
		chain, _ := e.registry.Chain(net)
		info := NetworkInfo{Network: net, Symbol: chain.Symbol, Tokens: chain.Tokens}
		for _, op := range e.registry.Operations(net) {
			info.Operations = append(info.Operations, op.String())
		}
		out = append(out, info)
	}
	return out
}

// GetBalance returns the balance of address. currency selects a configured
// token by symbol or contract; empty or the native symbol means the native
// currency.
func (e *Explorer) GetBalance(ctx context.Context, net types.Network, address, currency string) (model.Balance, error) {
	if address == "" {
		return model.Balance{}, invalid("address is required")
	}
	chain, ok := e.registry.Chain(net)
	if !ok {
		return model.Balance{}, fmt.Errorf("%w: unknown network %s", registry.ErrUnsupportedOperation, net)
	}
	if currency == "" || strings.EqualFold(currency, chain.Symbol) {
		q := model.Query{Address: address}
		b, _, err := resolve(ctx, e, net, types.OpBalance, q, 1, balanceDecoder(net, types.OpBalance, q))
		return b, err
	}
	tok, ok := chain.Token(currency)
	if !ok {
		return model.Balance{}, fmt.Errorf("%w: unknown currency %s on %s", registry.ErrUnsupportedOperation, currency, net)
	}
	return e.GetTokenBalance(ctx, net, address, tok.Contract)
}

// GetTokenBalance returns the token balance of address. contract may also be
// the symbol of a configured token.
func (e *Explorer) GetTokenBalance(ctx context.Context, net types.Network, address, contract string) (model.Balance, error) {
	if address == "" || contract == "" {
		return model.Balance{}, invalid("address and contract are required")
	}
	q := model.Query{Address: address, Contract: e.contract(net, contract)}
	b, _, err := resolve(ctx, e, net, types.OpTokenBalance, q, 1, balanceDecoder(net, types.OpTokenBalance, q))
	return b, err
}

// GetTxDetails returns the transfers of one transaction
func (e *Explorer) GetTxDetails(ctx context.Context, net types.Network, hash string) ([]model.TransferTx, error) {
	if hash == "" {
		return nil, invalid("transaction hash is required")
	}
	txs, _, err := e.transfers(ctx, net, types.OpTxDetails, model.Query{TxHash: hash})
	return txs, err
}

// GetAddressTxs returns the recent transfers of address, filtered by direction
func (e *Explorer) GetAddressTxs(ctx context.Context, net types.Network, address, direction string) ([]model.TransferTx, error) {
	if address == "" {
		return nil, invalid("address is required")
	}
	if err := checkDirection(direction); err != nil {
		return nil, err
	}
	txs, _, err := e.transfers(ctx, net, types.OpAddressTxs, model.Query{Address: address, Direction: direction})
	if err != nil {
		return nil, err
	}
	return filterDirection(txs, address, direction), nil
}

// GetTokenTxs returns the recent token transfers of address
func (e *Explorer) GetTokenTxs(ctx context.Context, net types.Network, address, contract, direction string) ([]model.TransferTx, error) {
	if address == "" || contract == "" {
		return nil, invalid("address and contract are required")
	}
	if err := checkDirection(direction); err != nil {
		return nil, err
	}
	q := model.Query{Address: address, Contract: e.contract(net, contract), Direction: direction}
	txs, _, err := e.transfers(ctx, net, types.OpTokenTxs, q)
	if err != nil {
		return nil, err
	}
	return filterDirection(txs, address, direction), nil
}

// GetBlockTxs returns the transfers of the block at height
func (e *Explorer) GetBlockTxs(ctx context.Context, net types.Network, height int64) ([]model.TransferTx, error) {
	b, err := e.blockTxs(ctx, net, height, 1)
	if err != nil {
		return nil, err
	}
	return b.Txs, nil
}

// GetBlockHead returns the chain tip
func (e *Explorer) GetBlockHead(ctx context.Context, net types.Network) (model.BlockHead, error) {
	var decode decodeFunc[model.BlockHead] = func(a fetch.Adapter, raw model.RawPayload) (model.BlockHead, error) {
		h, err := a.Parser().ParseBlockHead(raw)
		if err != nil {
			return h, err
		}
		if h.Network == "" {
			h.Network = string(net)
		}
		if err := validation.BlockHead(h); err != nil {
			return h, err
		}
		h.Provider = a.Name()
		return h, nil
	}
	h, provider, err := resolve(ctx, e, net, types.OpBlockHead, model.Query{}, 1, decode)
	if err != nil {
		return h, err
	}
	e.metrics.LatestBlock(net, provider, h.Height)
	return h, nil
}

// GetBlocksTxs returns the transfers of every block in [from, to], sorted by
// height. Blocks are fetched concurrently, each with its own fail-over; the
// first block that cannot be fetched fails the whole range.
func (e *Explorer) GetBlocksTxs(ctx context.Context, net types.Network, from, to int64) ([]model.BlockTxs, error) {
	if from < 0 || to < from {
		return nil, invalid("bad block range %d-%d", from, to)
	}
	if to-from+1 > MaxBlockRange {
		return nil, invalid("block range exceeds %d blocks", MaxBlockRange)
	}
	if _, err := e.registry.OrderedAdapters(net, types.OpBlockTxs); err != nil {
		return nil, err
	}

	results := make([]model.BlockTxs, to-from+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for h := from; h <= to; h++ {
		height := h
		g.Go(func() error {
			b, err := e.blockTxs(gctx, net, height, e.hedge)
			if err != nil {
				return err
			}
			results[height-from] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Height < results[j].Height })
	return results, nil
}

func (e *Explorer) blockTxs(ctx context.Context, net types.Network, height int64, hedge int) (model.BlockTxs, error) {
	if height < 0 {
		return model.BlockTxs{}, invalid("negative block height %d", height)
	}
	q := model.Query{Height: height}
	txs, provider, err := resolve(ctx, e, net, types.OpBlockTxs, q, hedge, e.transfersDecoder(net, types.OpBlockTxs, q))
	if err != nil {
		return model.BlockTxs{}, err
	}
	e.metrics.MinAvailableBlock(net, provider, height)
	return model.BlockTxs{Height: height, Txs: txs, Provider: provider}, nil
}

func (e *Explorer) transfers(ctx context.Context, net types.Network, op types.Operation, q model.Query) ([]model.TransferTx, string, error) {
	return resolve(ctx, e, net, op, q, 1, e.transfersDecoder(net, op, q))
}

func balanceDecoder(net types.Network, op types.Operation, q model.Query) decodeFunc[model.Balance] {
	return func(a fetch.Adapter, raw model.RawPayload) (model.Balance, error) {
		b, err := a.Parser().ParseBalance(op, raw, q)
		if err != nil {
			return b, err
		}
		if b.Network == "" {
			b.Network = string(net)
		}
		if err := validation.Balance(b); err != nil {
			return b, err
		}
		b.Provider = a.Name()
		return b, nil
	}
}

// transfersDecoder also counts empty answers, which are successes
func (e *Explorer) transfersDecoder(net types.Network, op types.Operation, q model.Query) decodeFunc[[]model.TransferTx] {
	return func(a fetch.Adapter, raw model.RawPayload) ([]model.TransferTx, error) {
		txs, err := a.Parser().ParseTransfers(op, raw, q)
		if err != nil {
			return nil, err
		}
		if err := validation.Transfers(txs); err != nil {
			return nil, err
		}
		if len(txs) == 0 {
			e.metrics.EmptyResponse(net, op, a.Name())
			return []model.TransferTx{}, nil
		}
		for i := range txs {
			txs[i].Provider = a.Name()
		}
		return txs, nil
	}
}

// contract resolves a configured token symbol to its contract
func (e *Explorer) contract(net types.Network, contractOrSymbol string) string {
	chain, ok := e.registry.Chain(net)
	if !ok {
		return contractOrSymbol
	}
	if tok, ok := chain.Token(contractOrSymbol); ok {
		return tok.Contract
	}
	return contractOrSymbol
}

// remember records winner as the default after every success, so set_at is
// the time of its last win. The write runs in the background and its failure
// is only logged.
func (e *Explorer) remember(net types.Network, op types.Operation, winner string) {
	if e.tracker == nil {
		return
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), trackerTimeout)
		defer cancel()
		if err := e.tracker.Set(ctx, winner, net, op); err != nil {
			e.log.WithFields(logrus.Fields{
				"network":   net,
				"operation": op,
				"provider":  winner,
			}).Warnf("Failed to record default provider: %v", err)
		}
	}()
}

func (e *Explorer) exhausted(err *ExhaustedError) {
	e.metrics.Exhausted(err.Network, err.Operation)
	e.log.WithFields(logrus.Fields{
		"network":   err.Network,
		"operation": err.Operation,
		"providers": len(err.Failures),
	}).Error(err.Error())

	if e.reporter == nil {
		return
	}
	ev := telemetry.ExhaustionEvent{
		Network:   string(err.Network),
		Operation: err.Operation.String(),
		At:        e.now().UTC(),
	}
	for _, f := range err.Failures {
		rec := telemetry.FailureRecord{Provider: f.Provider, Kind: string(f.Kind)}
		if f.Err != nil {
			rec.Error = f.Err.Error()
		}
		ev.Failures = append(ev.Failures, rec)
	}
	e.reporter.Add(ev)
}

func checkDirection(direction string) error {
	switch direction {
	case model.DirectionAny, model.DirectionIncoming, model.DirectionOutgoing:
		return nil
	}
	return invalid("unknown direction %q", direction)
}

func filterDirection(txs []model.TransferTx, address, direction string) []model.TransferTx {
	if direction == model.DirectionAny {
		return txs
	}
	out := make([]model.TransferTx, 0, len(txs))
	for _, tx := range txs {
		if tx.MatchesDirection(address, direction) {
			out = append(out, tx)
		}
	}
	return out
}
