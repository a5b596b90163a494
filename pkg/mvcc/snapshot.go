package mvcc

import (
	"github.com/mnohosten/versa-db/pkg/keys"
	"github.com/mnohosten/versa-db/pkg/store"
)

// snapshot is the visibility predicate a transaction reads through: a
// point-in-time version plus the set of transactions that were in flight
// when it was taken. Those transactions' writes are masked out even though
// their IDs are at or below the version. Snapshots are value-typed and
// never mutated after construction.
type snapshot struct {
	version   uint64
	invisible map[uint64]struct{}
}

// takeSnapshot records the currently active transactions below version and
// persists the set under TxnSnapshot(version) so later transactions can
// read as of this point in time. The caller holds the engine's write lock.
// The version's own ID is not recorded: a transaction sees its own writes.
func takeSnapshot(s store.Store, version uint64) (snapshot, error) {
	snap := snapshot{version: version, invisible: make(map[uint64]struct{})}

	it := s.Scan(store.Range{
		Start: store.Include(keys.TxnActive(0)),
		End:   store.Exclude(keys.TxnActive(version)),
	})
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		dec, err := keys.Decode(k)
		if err != nil {
			return snapshot{}, err
		}
		if dec.Kind != keys.KindTxnActive {
			return snapshot{}, internalErrorf("expected TxnActive key, got %s", dec.Kind)
		}
		snap.invisible[dec.ID] = struct{}{}
	}
	if err := it.Err(); err != nil {
		return snapshot{}, err
	}

	if err := s.Set(keys.TxnSnapshot(version), encodeTxnSet(snap.invisible)); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

// restoreSnapshot loads the snapshot persisted at version, failing when the
// version never existed.
func restoreSnapshot(s store.Store, version uint64) (snapshot, error) {
	v, ok, err := s.Get(keys.TxnSnapshot(version))
	if err != nil {
		return snapshot{}, err
	}
	if !ok {
		return snapshot{}, valueErrorf("snapshot not found for version %d", version)
	}
	invisible, err := decodeTxnSet(v)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{version: version, invisible: invisible}, nil
}

// isVisible reports whether a record version is visible through this
// snapshot: at or below the snapshot version, and not written by a
// transaction that was in flight when the snapshot was taken.
func (s snapshot) isVisible(version uint64) bool {
	if version > s.version {
		return false
	}
	_, concurrent := s.invisible[version]
	return !concurrent
}

// minInvisible returns the smallest invisible transaction ID and whether
// the set is non-empty.
func (s snapshot) minInvisible() (uint64, bool) {
	var min uint64
	found := false
	for id := range s.invisible {
		if !found || id < min {
			min = id
			found = true
		}
	}
	return min, found
}
