// Package livequery keeps the result of a store query in memory and reloads
// it whenever the store reports a change to one of the tables it reads.
package livequery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kittclouds/kidtrack/internal/store"
)

// Loader runs the query.
type Loader[T any] func(ctx context.Context) (T, error)

// Tracker is the subscription side of store.Tracker.
type Tracker interface {
	Subscribe(observer store.Observer, tables ...string) (store.Subscription, error)
	Unsubscribe(sub store.Subscription) bool
}

// Query holds the latest result of a Loader.
// Thread-safe; readers never wait for a reload in progress.
type Query[T any] struct {
	load    Loader[T]
	tracker Tracker
	sub     store.Subscription
	logger  *slog.Logger

	reload sync.Mutex // serializes loads

	mu      sync.RWMutex
	value   T
	err     error
	version int64
	changed chan struct{}
}

// New runs load once, then subscribes to tables. The initial load error is
// returned and nothing is subscribed.
func New[T any](ctx context.Context, tracker Tracker, load Loader[T], tables ...string) (*Query[T], error) {
	q := &Query[T]{
		load:    load,
		tracker: tracker,
		logger:  slog.Default(),
		changed: make(chan struct{}),
	}
	if err := q.Refresh(ctx); err != nil {
		return nil, err
	}
	sub, err := tracker.Subscribe(q, tables...)
	if err != nil {
		return nil, err
	}
	q.sub = sub
	return q, nil
}

// Get returns the cached result and its version. The version grows by one
// on every successful load.
func (q *Query[T]) Get() (T, int64) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.value, q.version
}

// Err returns the error of the last failed reload, nil after a success.
func (q *Query[T]) Err() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.err
}

// Changed returns a channel closed at the next successful load.
func (q *Query[T]) Changed() <-chan struct{} {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.changed
}

// Refresh reloads now. On failure the previous value is kept.
func (q *Query[T]) Refresh(ctx context.Context) error {
	q.reload.Lock()
	defer q.reload.Unlock()

	value, err := q.load(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
	if err != nil {
		return err
	}
	q.value = value
	q.version++
	close(q.changed)
	q.changed = make(chan struct{})
	return nil
}

// OnTablesChanged implements store.Observer.
func (q *Query[T]) OnTablesChanged(tables []string) {
	if err := q.Refresh(context.Background()); err != nil {
		q.logger.Warn("live query reload failed", slog.Any("tables", tables), slog.Any("error", err))
	}
}

// Close stops reloading. The last value stays readable.
func (q *Query[T]) Close() {
	q.tracker.Unsubscribe(q.sub)
}
