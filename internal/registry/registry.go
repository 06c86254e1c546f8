// Package registry answers which adapters to try, and in what order, for a
// network and operation.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/yourorg/chain-explorer/internal/fetch"
	"github.com/yourorg/chain-explorer/internal/types"
)

// ErrUnsupportedOperation is returned for unknown networks and for operations
// no adapter of the network serves
var ErrUnsupportedOperation = errors.New("unsupported operation")

type network struct {
	chain    types.ChainInfo
	adapters []fetch.Adapter
	byName   map[string]fetch.Adapter
	order    map[types.Operation][]string
	excluded map[string]bool
}

// Registry holds the adapters of every network. It is filled at startup and
// read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	networks map[types.Network]*network
}

// New creates an empty registry
func New() *Registry {
	return &Registry{networks: make(map[types.Network]*network)}
}

func (r *Registry) network(net types.Network) *network {
	n, ok := r.networks[net]
	if !ok {
		n = &network{
			chain:    types.ChainInfo{Network: net},
			byName:   make(map[string]fetch.Adapter),
			order:    make(map[types.Operation][]string),
			excluded: make(map[string]bool),
		}
		r.networks[net] = n
	}
	return n
}

// AddNetwork records the chain constants of a network
func (r *Registry) AddNetwork(chain types.ChainInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.network(chain.Network).chain = chain
}

// Register adds an adapter after the adapters already registered for its network
func (r *Registry) Register(a fetch.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.network(a.Network())
	if _, dup := n.byName[a.Name()]; dup {
		return fmt.Errorf("adapter %s already registered for %s", a.Name(), a.Network())
	}
	if _, ok := a.(fetch.TokenCapable); !ok {
		for _, op := range []types.Operation{types.OpTokenBalance, types.OpTokenTxs} {
			if a.Supports(op) {
				return fmt.Errorf("adapter %s claims %s without token support", a.Name(), op)
			}
		}
	}
	n.adapters = append(n.adapters, a)
	n.byName[a.Name()] = a
	return nil
}

// SetOrder sets the preferred adapters for an operation. Adapters not listed
// keep their registration order after the listed ones.
func (r *Registry) SetOrder(net types.Network, op types.Operation, names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.networks[net]
	if !ok {
		return fmt.Errorf("%w: unknown network %s", ErrUnsupportedOperation, net)
	}
	for _, name := range names {
		a, ok := n.byName[name]
		if !ok {
			return fmt.Errorf("unknown adapter %s for %s", name, net)
		}
		if !a.Supports(op) {
			return fmt.Errorf("adapter %s does not support %s", name, op)
		}
	}
	n.order[op] = append([]string(nil), names...)
	return nil
}

// Exclude takes an adapter out of every candidate list of its network
func (r *Registry) Exclude(net types.Network, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.networks[net]; ok {
		n.excluded[name] = true
	}
}

// OrderedAdapters returns the candidates for op on net, primary first. Every
// returned adapter supports op.
func (r *Registry) OrderedAdapters(net types.Network, op types.Operation) ([]fetch.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.networks[net]
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %s", ErrUnsupportedOperation, net)
	}

	seen := make(map[string]bool)
	var out []fetch.Adapter
	add := func(a fetch.Adapter) {
		if seen[a.Name()] || n.excluded[a.Name()] || !a.Supports(op) {
			return
		}
		seen[a.Name()] = true
		out = append(out, a)
	}
	for _, name := range n.order[op] {
		add(n.byName[name])
	}
	for _, a := range n.adapters {
		add(a)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedOperation, op, net)
	}
	return out, nil
}

// Chain returns the chain constants of a network
func (r *Registry) Chain(net types.Network) (types.ChainInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.networks[net]
	if !ok {
		return types.ChainInfo{}, false
	}
	return n.chain, true
}

// Networks returns the registered networks in sorted order
func (r *Registry) Networks() []types.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Network, 0, len(r.networks))
	for net := range r.networks {
		out = append(out, net)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Operations returns the operations at least one active adapter of net serves
func (r *Registry) Operations(net types.Network) []types.Operation {
	var out []types.Operation
	for _, op := range types.AllOperations() {
		if _, err := r.OrderedAdapters(net, op); err == nil {
			out = append(out, op)
		}
	}
	return out
}

// Adapters returns every adapter of a network in registration order, excluded ones included
func (r *Registry) Adapters(net types.Network) []fetch.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.networks[net]
	if !ok {
		return nil
	}
	return append([]fetch.Adapter(nil), n.adapters...)
}
