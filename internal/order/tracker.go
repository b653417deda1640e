package order

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
)

// Tracker allocates order ids and remembers which orders are live per symbol.
//
// Ids are scoped to the tracker: a counter starting at a caller-supplied base,
// so independently run strategies sharing one matching service do not collide.
// Reads take a lock so reporting can observe the tracker while the owning runner
// mutates it.
type Tracker struct {
	mu     sync.RWMutex
	next   uint64
	active map[string][]uint64
	orders map[uint64]ManagedOrder
}

// NewTracker creates a tracker for a fixed symbol set whose first id is base.
func NewTracker(base uint64, symbols []string) (*Tracker, error) {
	if len(symbols) == 0 {
		return nil, exception.ErrEmptySymbolSet
	}
	t := &Tracker{
		next:   base,
		active: make(map[string][]uint64, len(symbols)),
		orders: make(map[uint64]ManagedOrder),
	}
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, errors.Wrap(exception.ErrInvalidConfig, "tracker: blank symbol")
		}
		t.active[s] = nil
	}
	return t, nil
}

// NextID returns a fresh id. Ids are never reused, even when the order is rejected.
func (t *Tracker) NextID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	return id
}

// LastID returns the most recently allocated id, or base-1 before any allocation.
func (t *Tracker) LastID() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.next - 1
}

// Resume moves the next id past last, e.g. a watermark journaled by a previous run.
// It never moves the counter backwards.
func (t *Tracker) Resume(last uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last+1 > t.next {
		t.next = last + 1
	}
}

// Register records an accepted order as active for its symbol.
func (t *Tracker) Register(symbol string, o ManagedOrder) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids, ok := t.active[symbol]
	if !ok {
		return errors.Wrapf(exception.ErrUnknownSymbol, "tracker: %s", symbol)
	}
	if _, exists := t.orders[o.ID]; exists {
		return nil
	}
	o.Symbol = symbol
	t.active[symbol] = append(ids, o.ID)
	t.orders[o.ID] = o
	return nil
}

// Retire drops an order from the active set. Unknown symbols or ids are a no-op;
// the return value reports whether anything was removed.
func (t *Tracker) Retire(symbol string, id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.active[symbol]
	for i, cur := range ids {
		if cur != id {
			continue
		}
		t.active[symbol] = append(ids[:i:i], ids[i+1:]...)
		delete(t.orders, id)
		return true
	}
	return false
}

// ActiveIDs returns the live ids for symbol in insertion order.
func (t *Tracker) ActiveIDs(symbol string) []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.active[symbol]
	if len(ids) == 0 {
		return nil
	}
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// Active returns the live orders for symbol in insertion order.
func (t *Tracker) Active(symbol string) []ManagedOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.active[symbol]
	out := make([]ManagedOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.orders[id])
	}
	return out
}

// Get returns a live order by id.
func (t *Tracker) Get(id uint64) (ManagedOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.orders[id]
	return o, ok
}

// RecordFill adds filled quantity to a live order and returns its updated state.
func (t *Tracker) RecordFill(id uint64, qty int64) (ManagedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[id]
	if !ok {
		return ManagedOrder{}, false
	}
	o.FilledQty += qty
	t.orders[id] = o
	return o, true
}

// Count returns the number of live orders across all symbols.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}
