package registry

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-explorer/internal/config"
	"github.com/yourorg/chain-explorer/internal/fetch"
	"github.com/yourorg/chain-explorer/internal/types"
)

// BuildOptions carries the process wide adapter settings
type BuildOptions struct {
	Timeout          time.Duration
	RetryMax         int
	RateLimitBackoff time.Duration
	Shared           fetch.SharedLimiter

	// OnTrip is told when an adapter of a network enters backoff
	OnTrip func(net types.Network, name, reason string, until time.Time)
	Logger *logrus.Logger
}

// Build constructs every configured adapter and the registry over them
func Build(p *config.Providers, opts BuildOptions) (*Registry, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := New()
	for _, name := range p.NetworkNames() {
		nc := p.Networks[name]
		chain := nc.Chain(name)
		r.AddNetwork(chain)

		for _, pc := range nc.Providers {
			ops := make([]types.Operation, 0, len(pc.Operations))
			for _, s := range pc.Operations {
				op, err := types.ParseOperation(s)
				if err != nil {
					return nil, err
				}
				ops = append(ops, op)
			}
			var onTrip func(name, reason string, until time.Time)
			if opts.OnTrip != nil {
				net := chain.Network
				onTrip = func(name, reason string, until time.Time) {
					opts.OnTrip(net, name, reason, until)
				}
			}
			timeout := pc.Timeout
			if timeout <= 0 {
				timeout = opts.Timeout
			}

			a, err := fetch.NewAdapter(fetch.Kind(pc.Kind), fetch.Options{
				Name:             pc.Name,
				Network:          chain.Network,
				BaseURL:          pc.URL,
				Operations:       ops,
				Keys:             pc.APIKeys,
				Proxy:            pc.Proxy,
				Rate:             pc.Rate,
				Burst:            pc.Burst,
				SharedLimit:      pc.SharedLimit,
				Shared:           opts.Shared,
				Timeout:          timeout,
				RetryMax:         opts.RetryMax,
				RateLimitBackoff: opts.RateLimitBackoff,
				OnTrip:           onTrip,
				Logger:           log,
			}, chain)
			if err != nil {
				return nil, fmt.Errorf("network %s: %w", name, err)
			}
			if err := r.Register(a); err != nil {
				return nil, err
			}
		}

		for opName, order := range nc.Order {
			op, err := types.ParseOperation(opName)
			if err != nil {
				return nil, err
			}
			if err := r.SetOrder(chain.Network, op, order); err != nil {
				return nil, fmt.Errorf("network %s: %w", name, err)
			}
		}
		for _, excluded := range nc.Exclude {
			r.Exclude(chain.Network, excluded)
		}

		log.WithFields(logrus.Fields{
			"network":   chain.Network,
			"providers": len(nc.Providers),
		}).Info("Registered network")
	}
	return r, nil
}
