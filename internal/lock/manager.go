// Package lock issues per-key mutual exclusion so that operations touching
// unrelated currencies never block each other.
//
// Lock hierarchy: every lock a logical operation needs is taken in one
// Acquire call before any database transaction is opened. Acquire orders the
// keys by (kind, id) ascending, so two operations over the same currencies in
// opposite roles always contend in the same order.
//
// Locks are not reentrant. A goroutine that calls Acquire for a key it
// already holds deadlocks, so an operation must name all of its keys in its
// single Acquire call and never call Acquire again before releasing. Nested
// helpers run under their caller's locks and take none of their own.
package lock

import (
	"fmt"
	"sort"
	"sync"
)

// Kind namespaces lock keys so that ids of different entities never collide.
type Kind uint8

const (
	KindCurrency Kind = iota + 1
	KindFee
	KindWallet
	KindPair
)

func (k Kind) String() string {
	switch k {
	case KindCurrency:
		return "currency"
	case KindFee:
		return "fee"
	case KindWallet:
		return "wallet"
	case KindPair:
		return "pair"
	default:
		return "unknown"
	}
}

// Key identifies one lock.
type Key struct {
	Kind Kind
	ID   uint
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

func (k Key) less(o Key) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	return k.ID < o.ID
}

// Currency returns the key guarding balances held in a currency.
func Currency(id uint) Key { return Key{Kind: KindCurrency, ID: id} }

// Fee returns the key guarding a currency's fee accumulator.
func Fee(currencyID uint) Key { return Key{Kind: KindFee, ID: currencyID} }

// Wallet returns the key guarding wallet-level side effects such as
// deposit address issuance.
func Wallet(id uint) Key { return Key{Kind: KindWallet, ID: id} }

// Pair returns the key guarding a trading pair's market statistics.
func Pair(id uint) Key { return Key{Kind: KindPair, ID: id} }

// Manager hands out one mutex per key. The zero value is ready to use.
type Manager struct {
	locks sync.Map // Key -> *sync.Mutex
}

// NewManager creates a lock manager.
func NewManager() *Manager {
	return &Manager{}
}

// Obtain returns the mutex for key. Concurrent callers asking for equal keys
// always receive the same mutex.
func (m *Manager) Obtain(key Key) *sync.Mutex {
	if mu, ok := m.locks.Load(key); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Acquire locks every distinct key in ascending order and returns a function
// that releases them in reverse order. Repeating a key is safe: it is locked
// once. The returned release function may be called more than once; only the
// first call unlocks. Acquiring a key the caller already holds blocks forever.
func (m *Manager) Acquire(keys ...Key) (release func()) {
	ordered := normalize(keys)
	held := make([]*sync.Mutex, 0, len(ordered))
	for _, k := range ordered {
		mu := m.Obtain(k)
		mu.Lock()
		held = append(held, mu)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].Unlock()
			}
		})
	}
}

// Order returns the keys in the order Acquire would lock them.
func Order(keys ...Key) []Key {
	return normalize(keys)
}

func normalize(keys []Key) []Key {
	ordered := make([]Key, len(keys))
	copy(ordered, keys)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].less(ordered[j]) })

	out := ordered[:0]
	for _, k := range ordered {
		if len(out) > 0 && out[len(out)-1] == k {
			continue
		}
		out = append(out, k)
	}
	return out
}
