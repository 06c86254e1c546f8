package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/chain-explorer/internal/fetch"
	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/otel"
	"github.com/yourorg/chain-explorer/internal/parse"
	"github.com/yourorg/chain-explorer/internal/types"
)

// decodeFunc validates and normalizes a payload fetched from a
type decodeFunc[T any] func(a fetch.Adapter, raw model.RawPayload) (T, error)

type outcome[T any] struct {
	adapter fetch.Adapter
	idx     int
	val     T
	took    time.Duration
	err     error
}

// resolve runs the fail-over loop for one call and returns the first
// validated result with the name of the adapter that produced it. Candidates
// are tried hedge at a time; with hedge 1 the loop is strictly sequential.
func resolve[T any](ctx context.Context, e *Explorer, net types.Network, op types.Operation, q model.Query, hedge int, decode decodeFunc[T]) (T, string, error) {
	var zero T
	ctx, span := otel.Start(ctx, "explorer."+op.String(), string(net), op.String())
	defer span.End()

	cands, err := e.candidates(ctx, net, op)
	if err != nil {
		otel.RecordError(ctx, err)
		return zero, "", err
	}

	ready, failures, err := e.ready(ctx, cands)
	if err != nil {
		otel.RecordError(ctx, err)
		return zero, "", err
	}
	for _, f := range failures {
		e.metrics.Failure(net, op, f.Provider, string(f.Kind))
	}

	if hedge < 1 {
		hedge = 1
	}
	for start := 0; start < len(ready); start += hedge {
		end := start + hedge
		if end > len(ready) {
			end = len(ready)
		}

		won, failed, ok := race(ctx, e, ready[start:end], op, q, decode)
		if !ok && ctx.Err() != nil {
			// attempts cut short by the caller are not provider failures
			otel.RecordError(ctx, ctx.Err())
			return zero, "", ctx.Err()
		}
		for _, o := range failed {
			name := o.adapter.Name()
			kind := kindOf(o.err)
			failures = append(failures, Failure{Provider: name, Kind: kind, Err: o.err})
			e.metrics.Failure(net, op, name, string(kind))
			e.metrics.ObserveRequest(net, op, name, o.took)
			e.log.WithFields(logrus.Fields{
				"network":   net,
				"operation": op,
				"provider":  name,
				"kind":      kind,
			}).Debugf("Provider attempt failed: %v", o.err)
		}
		if ok {
			name := won.adapter.Name()
			e.metrics.ObserveRequest(net, op, name, won.took)
			e.remember(net, op, name)
			if len(failures) > 0 {
				e.log.WithFields(logrus.Fields{
					"network":   net,
					"operation": op,
					"provider":  name,
					"failed":    len(failures),
				}).Info("Failed over to provider")
			}
			return won.val, name, nil
		}
	}

	exhausted := &ExhaustedError{Network: net, Operation: op, Failures: failures}
	e.exhausted(exhausted)
	otel.RecordError(ctx, exhausted)
	return zero, "", exhausted
}

// race runs every adapter of window concurrently and returns the first
// validated outcome. Losers are cancelled and their outcomes discarded.
// When nothing validates, failed holds every outcome in window order.
func race[T any](ctx context.Context, e *Explorer, window []fetch.Adapter, op types.Operation, q model.Query, decode decodeFunc[T]) (outcome[T], []outcome[T], bool) {
	var none outcome[T]
	if len(window) == 1 {
		o := attempt(ctx, e, window[0], op, q, decode)
		if o.err != nil {
			return none, []outcome[T]{o}, false
		}
		return o, nil, true
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan outcome[T], len(window))
	for i, a := range window {
		go func(i int, a fetch.Adapter) {
			o := attempt(rctx, e, a, op, q, decode)
			o.idx = i
			results <- o
		}(i, a)
	}

	failed := make([]outcome[T], 0, len(window))
	for range window {
		o := <-results
		if o.err == nil {
			return o, nil, true
		}
		failed = append(failed, o)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].idx < failed[j].idx })
	return none, failed, false
}

// attempt performs fetch, validate and parse against one adapter
func attempt[T any](ctx context.Context, e *Explorer, a fetch.Adapter, op types.Operation, q model.Query, decode decodeFunc[T]) outcome[T] {
	ctx, span := otel.Start(ctx, "explorer.attempt", string(a.Network()), op.String(),
		attribute.String("explorer.provider", a.Name()))
	defer span.End()

	o := outcome[T]{adapter: a}
	start := time.Now()
	raw, err := a.Fetch(ctx, op, q)
	o.took = time.Since(start)

	if err == nil && !a.Parser().Validate(op, raw) {
		err = fmt.Errorf("%w: %s returned a malformed %s payload", parse.ErrValidation, a.Name(), op)
	}
	if err == nil {
		o.val, err = decode(a, raw)
	}
	if err != nil {
		otel.RecordError(ctx, err)
	}
	o.err = err
	return o
}

// candidates returns the registry order with the current default moved to
// the front. A default that is not a candidate is ignored.
func (e *Explorer) candidates(ctx context.Context, net types.Network, op types.Operation) ([]fetch.Adapter, error) {
	cands, err := e.registry.OrderedAdapters(net, op)
	if err != nil {
		return nil, err
	}
	if e.tracker == nil {
		return cands, nil
	}
	def, ok := e.tracker.Get(ctx, net, op)
	if !ok {
		return cands, nil
	}
	for i, a := range cands {
		if a.Name() != def {
			continue
		}
		if i > 0 {
			ordered := make([]fetch.Adapter, 0, len(cands))
			ordered = append(ordered, a)
			ordered = append(ordered, cands[:i]...)
			ordered = append(ordered, cands[i+1:]...)
			cands = ordered
		}
		return cands, nil
	}
	return cands, nil
}

// ready drops the candidates in backoff and reports them as failures. When
// every candidate is in backoff and the soonest one clears within
// maxBackoffWait, it waits for it once.
func (e *Explorer) ready(ctx context.Context, cands []fetch.Adapter) ([]fetch.Adapter, []Failure, error) {
	for pass := 0; ; pass++ {
		now := e.now()
		var (
			ready   []fetch.Adapter
			skipped []Failure
			soonest time.Time
		)
		for _, a := range cands {
			in, until := a.InBackoff(now)
			if !in {
				ready = append(ready, a)
				continue
			}
			skipped = append(skipped, Failure{
				Provider: a.Name(),
				Kind:     KindBackoff,
				Err:      fmt.Errorf("in backoff until %s", until.UTC().Format(time.RFC3339)),
			})
			if soonest.IsZero() || until.Before(soonest) {
				soonest = until
			}
		}
		if len(ready) > 0 || pass > 0 || e.maxBackoffWait <= 0 {
			return ready, skipped, nil
		}

		wait := soonest.Sub(now)
		if wait > e.maxBackoffWait {
			return ready, skipped, nil
		}
		e.log.Debugf("All %d candidates in backoff, waiting %s", len(cands), wait)
		if err := sleep(ctx, wait); err != nil {
			return nil, nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
