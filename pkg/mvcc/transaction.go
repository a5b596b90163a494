package mvcc

import (
	"math"

	"github.com/mnohosten/versa-db/pkg/keys"
	"github.com/mnohosten/versa-db/pkg/store"
)

// Transaction is a single MVCC transaction. It reads through the snapshot
// taken at begin and writes new versions at its own ID. Transactions are
// not safe for concurrent use by multiple goroutines; concurrency comes
// from running many transactions, not from sharing one.
type Transaction struct {
	eng      *Engine
	id       uint64
	mode     Mode
	snapshot snapshot
}

// beginTxn allocates a transaction ID, marks the transaction active and
// takes its snapshot. The snapshot is taken for every mode, including
// historical ones: each begin consumes an ID and leaves an active marker,
// and later snapshot takers must see this transaction in their invisible
// sets.
func beginTxn(e *Engine, mode Mode) (*Transaction, error) {
	e.mu.Lock()

	id := uint64(1)
	if v, ok, err := e.store.Get(keys.TxnNext()); err != nil {
		e.mu.Unlock()
		return nil, err
	} else if ok {
		if id, err = decodeUint64(v); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}
	if err := e.store.Set(keys.TxnNext(), encodeUint64(id+1)); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if err := e.store.Set(keys.TxnActive(id), encodeMode(mode)); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	snap, err := takeSnapshot(e.store, id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	if mode.Kind == ModeSnapshot {
		e.mu.RLock()
		snap, err = restoreSnapshot(e.store, mode.Version)
		e.mu.RUnlock()
		if err != nil {
			return nil, err
		}
	}

	return &Transaction{eng: e, id: id, mode: mode, snapshot: snap}, nil
}

// resumeTxn rebuilds a handle to an active transaction from its persisted
// state: the mode from the active marker and the snapshot persisted at
// begin (or at the historical version, for snapshot transactions).
func resumeTxn(e *Engine, id uint64) (*Transaction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, ok, err := e.store.Get(keys.TxnActive(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, valueErrorf("no active transaction %d", id)
	}
	mode, err := decodeMode(v)
	if err != nil {
		return nil, err
	}

	version := id
	if mode.Kind == ModeSnapshot {
		version = mode.Version
	}
	snap, err := restoreSnapshot(e.store, version)
	if err != nil {
		return nil, err
	}

	return &Transaction{eng: e, id: id, mode: mode, snapshot: snap}, nil
}

// ID returns the transaction ID.
func (t *Transaction) ID() uint64 {
	return t.id
}

// Mode returns the transaction mode.
func (t *Transaction) Mode() Mode {
	return t.mode
}

// Get fetches the latest visible value for a key. A key whose latest
// visible version is a tombstone is absent.
func (t *Transaction) Get(key []byte) ([]byte, bool, error) {
	t.eng.mu.RLock()
	defer t.eng.mu.RUnlock()

	// Walk versions newest-first from our own ID down; the first visible
	// one wins.
	it := t.eng.store.Scan(store.Range{
		Start: store.Include(keys.Record(key, 0)),
		End:   store.Include(keys.Record(key, t.id)),
	})
	for {
		k, v, ok := it.NextBack()
		if !ok {
			break
		}
		dec, err := keys.Decode(k)
		if err != nil {
			return nil, false, err
		}
		if dec.Kind != keys.KindRecord {
			return nil, false, internalErrorf("expected Record key, got %s", dec.Kind)
		}
		if !t.snapshot.isVisible(dec.Version) {
			continue
		}
		value, present, err := decodeValue(v)
		if err != nil {
			return nil, false, err
		}
		return value, present, nil
	}
	return nil, false, it.Err()
}

// Set writes a value for a key.
func (t *Transaction) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return t.write(key, value)
}

// Delete removes a key by writing a tombstone version. Deleting an absent
// key is legal and idempotent.
func (t *Transaction) Delete(key []byte) error {
	return t.write(key, nil)
}

// write records a new version for a key, where a nil value is a tombstone.
// It fails with ErrSerialization when any version invisible to this
// transaction already exists for the key: the first writer wins, and
// everyone else learns immediately rather than waiting.
func (t *Transaction) write(key, value []byte) error {
	if !t.mode.Mutable() {
		return ErrReadOnly
	}

	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()

	// The conflict window starts at the oldest concurrent transaction:
	// everything below it is visible to us and cannot conflict. It runs to
	// the top of the version space to catch writers that started after us
	// but already wrote.
	min, ok := t.snapshot.minInvisible()
	if !ok {
		min = t.id + 1
	}
	it := t.eng.store.Scan(store.Range{
		Start: store.Include(keys.Record(key, min)),
		End:   store.Include(keys.Record(key, math.MaxUint64)),
	})
	for {
		k, _, ok := it.NextBack()
		if !ok {
			break
		}
		dec, err := keys.Decode(k)
		if err != nil {
			return err
		}
		if dec.Kind != keys.KindRecord {
			return internalErrorf("expected Record key, got %s", dec.Kind)
		}
		if !t.snapshot.isVisible(dec.Version) {
			return ErrSerialization
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	// Write the rollback marker before the record itself, so every record
	// is reachable from a marker until commit.
	recordKey := keys.Record(key, t.id)
	if err := t.eng.store.Set(keys.TxnUpdate(t.id, recordKey), nil); err != nil {
		return err
	}
	return t.eng.store.Set(recordKey, encodeValue(value))
}

// Commit makes the transaction's writes permanent by removing its active
// marker, then flushes the store. Rollback markers are left behind as
// harmless orphans; nothing follows them once the active marker is gone.
func (t *Transaction) Commit() error {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()

	if err := t.eng.store.Delete(keys.TxnActive(t.id)); err != nil {
		return err
	}
	return t.eng.store.Flush()
}

// Rollback undoes the transaction: every record it wrote is removed by
// walking its rollback markers, then the active marker is cleared.
func (t *Transaction) Rollback() error {
	t.eng.mu.Lock()
	defer t.eng.mu.Unlock()

	if t.mode.Mutable() {
		var remove [][]byte
		it := t.eng.store.Scan(store.Range{
			Start: store.Include(keys.TxnUpdate(t.id, nil)),
			End:   store.Exclude(keys.TxnUpdate(t.id+1, nil)),
		})
		for {
			k, _, ok := it.Next()
			if !ok {
				break
			}
			dec, err := keys.Decode(k)
			if err != nil {
				return err
			}
			if dec.Kind != keys.KindTxnUpdate {
				return internalErrorf("expected TxnUpdate key, got %s", dec.Kind)
			}
			remove = append(remove, dec.Target, k)
		}
		if err := it.Err(); err != nil {
			return err
		}
		for _, k := range remove {
			if err := t.eng.store.Delete(k); err != nil {
				return err
			}
		}
	}

	return t.eng.store.Delete(keys.TxnActive(t.id))
}

// Scan returns a double-ended iterator over the latest visible versions of
// the user keys in the given range. The bounds are user keys, not encoded
// record keys.
func (t *Transaction) Scan(r store.Range) *Scan {
	return newScan(t.eng, t.snapshot, r)
}

// ScanPrefix returns a scan over all user keys with the given prefix.
func (t *Transaction) ScanPrefix(prefix []byte) (*Scan, error) {
	if len(prefix) == 0 {
		return nil, valueErrorf("scan prefix cannot be empty")
	}

	// The end of the range is the prefix's lexicographic successor:
	// increment the last non-0xff byte and zero the tail, carrying like
	// addition. An all-0xff prefix has no successor, so the range would be
	// ambiguous.
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			break
		}
		if i == 0 {
			return nil, valueErrorf("invalid prefix scan range")
		}
		end[i] = 0x00
	}

	return newScan(t.eng, t.snapshot, store.Range{
		Start: store.Include(prefix),
		End:   store.Exclude(end),
	}), nil
}
