package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"ridedispatch/internal/modules/matching"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/observability"
)

// Multi fans each call out to every registered channel in parallel. Failures
// are counted per channel and returned joined; no channel blocks another.
type Multi struct {
	orders     map[string]order.Notifier
	candidates map[string]matching.CandidateNotifier
}

func NewMulti() *Multi {
	return &Multi{
		orders:     make(map[string]order.Notifier),
		candidates: make(map[string]matching.CandidateNotifier),
	}
}

func (m *Multi) AddOrders(channel string, n order.Notifier) *Multi {
	m.orders[channel] = n
	return m
}

func (m *Multi) AddCandidates(channel string, n matching.CandidateNotifier) *Multi {
	m.candidates[channel] = n
	return m
}

func (m *Multi) OrderChanged(ctx context.Context, ev order.Event) error {
	calls := make(map[string]func(context.Context) error, len(m.orders))
	for name, n := range m.orders {
		n := n
		calls[name] = func(ctx context.Context) error { return n.OrderChanged(ctx, ev) }
	}
	return m.fanOut(ctx, calls)
}

func (m *Multi) CandidatesRanked(ctx context.Context, o *order.Order, candidates []order.Candidate) error {
	calls := make(map[string]func(context.Context) error, len(m.candidates))
	for name, n := range m.candidates {
		n := n
		calls[name] = func(ctx context.Context) error { return n.CandidatesRanked(ctx, o, candidates) }
	}
	return m.fanOut(ctx, calls)
}

func (m *Multi) fanOut(ctx context.Context, calls map[string]func(context.Context) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for name, call := range calls {
		name, call := name, call
		g.Go(func() error {
			if err := call(ctx); err != nil {
				observability.NotifyFailuresTotal.WithLabelValues(name).Inc()
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
