package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

type StoreMetrics struct {
	Reads    int64 `json:"reads"`
	Writes   int64 `json:"writes"`
	Deletes  int64 `json:"deletes"`
	Errors   int64 `json:"errors"`
	Rejected int64 `json:"rejected"`

	StartTime int64 `json:"start_time"`
}

func NewStoreMetrics() *StoreMetrics {
	return &StoreMetrics{StartTime: time.Now().Unix()}
}

func (m *StoreMetrics) Snapshot() StoreMetrics {
	return StoreMetrics{
		Reads:     atomic.LoadInt64(&m.Reads),
		Writes:    atomic.LoadInt64(&m.Writes),
		Deletes:   atomic.LoadInt64(&m.Deletes),
		Errors:    atomic.LoadInt64(&m.Errors),
		Rejected:  atomic.LoadInt64(&m.Rejected),
		StartTime: m.StartTime,
	}
}

// GuardedStore wraps a Client with a circuit breaker and operation counters.
// ErrNotFound is an answer from a healthy store and does not trip the breaker.
type GuardedStore struct {
	next    Client
	breaker *Breaker
	metrics *StoreMetrics
}

func NewGuardedStore(next Client, config *BreakerConfig) *GuardedStore {
	return &GuardedStore{
		next:    next,
		breaker: NewBreaker(config),
		metrics: NewStoreMetrics(),
	}
}

func (g *GuardedStore) run(counter *int64, fn func() error) error {
	var answered error
	err := g.breaker.Execute(func() error {
		err := fn()
		if errors.Is(err, ErrNotFound) {
			answered = err
			return nil
		}
		return err
	})

	atomic.AddInt64(counter, 1)
	switch {
	case errors.Is(err, ErrBreakerOpen):
		atomic.AddInt64(&g.metrics.Rejected, 1)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case err != nil:
		atomic.AddInt64(&g.metrics.Errors, 1)
		return err
	}
	return answered
}

func (g *GuardedStore) Get(ctx context.Context, collection Path, id string) (*Document, error) {
	var doc *Document
	err := g.run(&g.metrics.Reads, func() error {
		var err error
		doc, err = g.next.Get(ctx, collection, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (g *GuardedStore) Set(ctx context.Context, collection Path, id string, data json.RawMessage) error {
	return g.run(&g.metrics.Writes, func() error {
		return g.next.Set(ctx, collection, id, data)
	})
}

func (g *GuardedStore) Update(ctx context.Context, collection Path, id string, data json.RawMessage) error {
	return g.run(&g.metrics.Writes, func() error {
		return g.next.Update(ctx, collection, id, data)
	})
}

func (g *GuardedStore) Delete(ctx context.Context, collection Path, id string) error {
	return g.run(&g.metrics.Deletes, func() error {
		return g.next.Delete(ctx, collection, id)
	})
}

func (g *GuardedStore) Query(ctx context.Context, collection Path, filters ...Filter) ([]Document, error) {
	var docs []Document
	err := g.run(&g.metrics.Reads, func() error {
		var err error
		docs, err = g.next.Query(ctx, collection, filters...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (g *GuardedStore) Health(ctx context.Context) error {
	if hc, ok := g.next.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

func (g *GuardedStore) Breaker() *Breaker {
	return g.breaker
}

func (g *GuardedStore) Stats() map[string]interface{} {
	return map[string]interface{}{
		"operations": g.metrics.Snapshot(),
		"breaker":    g.breaker.Stats(),
	}
}
