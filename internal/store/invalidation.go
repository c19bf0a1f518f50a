package store

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Observer is told which of its tables changed after each committed write.
// Calls for one observer are sequential and in commit order.
type Observer interface {
	OnTablesChanged(tables []string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(tables []string)

func (f ObserverFunc) OnTablesChanged(tables []string) { f(tables) }

// Subscription identifies a registered observer.
type Subscription struct {
	ID     uuid.UUID
	Tables []string
}

// Tracker fans committed table changes out to observers. Delivery happens on
// a goroutine per observer, so a slow observer never blocks a writer.
type Tracker struct {
	logger *slog.Logger
	known  map[string]struct{}

	mu     sync.Mutex
	subs   map[uuid.UUID]*subscriber
	closed bool
	wg     sync.WaitGroup
}

// NewTracker creates a tracker that accepts subscriptions to the given tables.
func NewTracker(logger *slog.Logger, tables ...string) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	known := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		known[strings.ToLower(t)] = struct{}{}
	}
	return &Tracker{
		logger: logger,
		known:  known,
		subs:   make(map[uuid.UUID]*subscriber),
	}
}

// Subscribe registers observer for changes to tables. Table names are
// matched case-insensitively; an unknown name is an error.
func (t *Tracker) Subscribe(observer Observer, tables ...string) (Subscription, error) {
	if observer == nil {
		return Subscription{}, fmt.Errorf("subscribe: nil observer")
	}
	if len(tables) == 0 {
		return Subscription{}, fmt.Errorf("subscribe: no tables given")
	}
	interest := make(map[string]struct{}, len(tables))
	for _, name := range tables {
		name = strings.ToLower(name)
		if _, ok := t.known[name]; !ok {
			return Subscription{}, fmt.Errorf("subscribe: unknown table %q", name)
		}
		interest[name] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Subscription{}, ErrClosed
	}
	s := newSubscriber(observer, interest)
	t.subs[s.id] = s
	t.wg.Add(1)
	go t.deliverLoop(s)
	return Subscription{ID: s.id, Tables: s.tableList()}, nil
}

// Unsubscribe stops delivery to the observer. Queued notifications are
// dropped; a delivery already in progress is not waited for. It reports
// whether the subscription was active.
func (t *Tracker) Unsubscribe(sub Subscription) bool {
	t.mu.Lock()
	s, ok := t.subs[sub.ID]
	delete(t.subs, sub.ID)
	t.mu.Unlock()
	if !ok {
		return false
	}
	s.stop(false)
	return true
}

// notify queues the intersection of changed with each observer's interest.
func (t *Tracker) notify(changed []string) {
	if len(changed) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, s := range t.subs {
		var hit []string
		for _, name := range changed {
			if _, ok := s.tables[name]; ok {
				hit = append(hit, name)
			}
		}
		if len(hit) > 0 {
			s.enqueue(hit)
			notificationsTotal.Inc()
		}
	}
}

// Close delivers everything already queued, then stops all observers.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	subs := make([]*subscriber, 0, len(t.subs))
	for id, s := range t.subs {
		subs = append(subs, s)
		delete(t.subs, id)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.stop(true)
	}
	t.wg.Wait()
}

func (t *Tracker) deliverLoop(s *subscriber) {
	defer t.wg.Done()
	for {
		tables, ok := s.next()
		if !ok {
			return
		}
		t.deliver(s, tables)
	}
}

func (t *Tracker) deliver(s *subscriber, tables []string) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("observer panicked",
				slog.String("subscription", s.id.String()),
				slog.Any("tables", tables),
				slog.Any("panic", r))
		}
	}()
	s.observer.OnTablesChanged(tables)
}

// =============================================================================
// Subscriber queue
// =============================================================================

type subscriber struct {
	id       uuid.UUID
	observer Observer
	tables   map[string]struct{}

	mu    sync.Mutex
	cond  *sync.Cond
	queue [][]string
	// stopped drops the queue; draining finishes it first.
	stopped  bool
	draining bool
}

func newSubscriber(observer Observer, tables map[string]struct{}) *subscriber {
	s := &subscriber{id: uuid.New(), observer: observer, tables: tables}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) tableList() []string {
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *subscriber) enqueue(tables []string) {
	s.mu.Lock()
	s.queue = append(s.queue, tables)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) next() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.stopped && !s.draining {
		s.cond.Wait()
	}
	if s.stopped || len(s.queue) == 0 {
		return nil, false
	}
	tables := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return tables, true
}

func (s *subscriber) stop(drain bool) {
	s.mu.Lock()
	if drain {
		s.draining = true
	} else {
		s.stopped = true
		s.queue = nil
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}
