// Package store keeps the working set of orders visible to a client session.
package store

import (
	"iter"
	"sort"
	"sync"

	"github.com/xtrntr/blockmarket/internal/models"
)

// Store is an in-memory set of orders keyed by id. Subscribers are notified
// synchronously after every mutation, once the store lock has been released.
type Store struct {
	mu      sync.RWMutex
	orders  map[string]models.Order
	version uint64

	subMu  sync.Mutex
	subs   map[int]func()
	nextID int
}

// New creates a store holding the given orders
func New(orders ...models.Order) *Store {
	s := &Store{
		orders: make(map[string]models.Order, len(orders)),
		subs:   make(map[int]func()),
	}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

// Upsert inserts or replaces an order by id
func (s *Store) Upsert(o models.Order) {
	s.mu.Lock()
	s.orders[o.ID] = o
	s.version++
	s.mu.Unlock()
	s.notify()
}

// Remove evicts an order. It reports whether the order was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	_, ok := s.orders[id]
	if ok {
		delete(s.orders, id)
		s.version++
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// Get returns the order with the given id
func (s *Store) Get(id string) (models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// Len returns the number of orders held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Version increases with every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Query yields the orders matching pred. Each iteration walks a fresh snapshot
// taken when it starts, ordered by order time then id.
func (s *Store) Query(pred func(models.Order) bool) iter.Seq[models.Order] {
	return func(yield func(models.Order) bool) {
		for _, o := range s.snapshot(pred) {
			if !yield(o) {
				return
			}
		}
	}
}

func (s *Store) snapshot(pred func(models.Order) bool) []models.Order {
	s.mu.RLock()
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if pred == nil || pred(o) {
			out = append(out, o)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderTime.Equal(out[j].OrderTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].OrderTime.Before(out[j].OrderTime)
	})
	return out
}

// Update atomically replaces the order with the result of fn applied to its
// current value. When fn fails the store is left untouched.
func (s *Store) Update(id string, fn func(models.Order) (models.Order, error)) (models.Order, error) {
	s.mu.Lock()
	cur, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return models.Order{}, models.ErrOrderNotFound
	}
	next, err := fn(cur)
	if err != nil {
		s.mu.Unlock()
		return cur, err
	}
	next.ID = id
	s.orders[id] = next
	s.version++
	s.mu.Unlock()

	s.notify()
	return next, nil
}

// Replace swaps the whole working set.
func (s *Store) Replace(orders []models.Order) {
	s.mu.Lock()
	s.replaceLocked(orders)
	s.mu.Unlock()
	s.notify()
}

// ReplaceIf swaps the working set only if no mutation happened since version
// was read. It reports whether the swap was applied.
func (s *Store) ReplaceIf(version uint64, orders []models.Order) bool {
	s.mu.Lock()
	if s.version != version {
		s.mu.Unlock()
		return false
	}
	s.replaceLocked(orders)
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Store) replaceLocked(orders []models.Order) {
	s.orders = make(map[string]models.Order, len(orders))
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	s.version++
}

// Subscribe registers fn to run after each mutation. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
