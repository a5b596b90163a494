// Package mvcc layers snapshot-isolation transactions over an ordered byte
// key-value store. Everything the engine needs — the transaction counter,
// active markers, snapshots, rollback markers and versioned records — lives
// as encoded keys in the store's single flat key space (see pkg/keys), so a
// crash loses nothing but in-flight transactions, which the rollback log
// can undo.
package mvcc

import (
	"math"
	"sync"

	"github.com/mnohosten/versa-db/pkg/keys"
	"github.com/mnohosten/versa-db/pkg/store"
)

// Status describes the engine's transaction counters.
type Status struct {
	// Txns is the number of transaction IDs handed out so far.
	Txns uint64 `json:"txns"`
	// TxnsActive is the number of transactions currently in flight.
	TxnsActive uint64 `json:"txns_active"`
}

// Engine is an MVCC-based transactional key-value store. The underlying
// store is shared between all transactions under a reader/writer lock:
// reads take a shared lease, while begin, writes, commit and rollback take
// an exclusive one for the duration of a single logical step. The lock is
// never held across calls, so scans and concurrent writers interleave.
type Engine struct {
	mu    sync.RWMutex
	store store.Store
}

// New creates an MVCC engine on top of the given store.
func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// Begin starts a new read-write transaction.
func (e *Engine) Begin() (*Transaction, error) {
	return beginTxn(e, ReadWrite())
}

// BeginWithMode starts a new transaction in the given mode.
func (e *Engine) BeginWithMode(mode Mode) (*Transaction, error) {
	return beginTxn(e, mode)
}

// Resume returns a handle to an active transaction. It fails when no
// transaction with the given ID is in flight.
func (e *Engine) Resume(id uint64) (*Transaction, error) {
	return resumeTxn(e, id)
}

// GetMetadata fetches an unversioned metadata value, outside MVCC rules.
func (e *Engine) GetMetadata(key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.store.Get(keys.Metadata(key))
}

// SetMetadata sets an unversioned metadata value, outside MVCC rules.
func (e *Engine) SetMetadata(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.Set(keys.Metadata(key), value)
}

// Status returns the engine's transaction counters.
func (e *Engine) Status() (Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	next := uint64(1)
	if v, ok, err := e.store.Get(keys.TxnNext()); err != nil {
		return Status{}, err
	} else if ok {
		if next, err = decodeUint64(v); err != nil {
			return Status{}, err
		}
	}

	var active uint64
	it := e.store.Scan(store.Range{
		Start: store.Include(keys.TxnActive(0)),
		End:   store.Exclude(keys.TxnActive(math.MaxUint64)),
	})
	for {
		if _, _, ok := it.Next(); !ok {
			break
		}
		active++
	}
	if err := it.Err(); err != nil {
		return Status{}, err
	}

	return Status{Txns: next - 1, TxnsActive: active}, nil
}
