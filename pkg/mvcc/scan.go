package mvcc

import (
	"bytes"
	"math"

	"github.com/mnohosten/versa-db/pkg/keys"
	"github.com/mnohosten/versa-db/pkg/store"
)

// Scan is a double-ended iterator over the latest visible version of each
// user key in a range. Tombstoned keys are suppressed. Next yields keys in
// ascending order, NextBack in descending order; the two ends may be
// interleaved and terminate when they meet.
//
// Each step re-acquires the engine's read lease, opens a short-lived raw
// scan from the remaining encoded bounds and releases everything before
// returning, so no lock is ever held between calls. The cursor state is
// just the bounds plus a forward read-ahead candidate and the last key the
// reverse side returned.
type Scan struct {
	eng      *Engine
	snapshot snapshot
	bounds   store.Range

	// nextCandidate is the forward side's read-ahead: the latest visible
	// version of a key cannot be known until a record for a different key
	// (or the end of the range) is seen. A nil value marks a tombstone.
	nextCandidate *scanPair
	// nextBackReturned is the user key the reverse side last yielded;
	// older versions of it are skipped. The reverse side needs no
	// read-ahead, since the first visible record it meets for a key is the
	// latest.
	nextBackReturned []byte

	err error
}

type scanPair struct {
	key   []byte
	value []byte
}

// newScan converts user-key bounds into encoded record bounds. An included
// start covers all versions from 0; an included end runs through the top
// of the version space; an excluded end stops before version 0 of the end
// key.
func newScan(eng *Engine, snap snapshot, r store.Range) *Scan {
	var start store.Bound
	switch r.Start.Kind {
	case store.BoundIncluded:
		start = store.Include(keys.Record(r.Start.Key, 0))
	case store.BoundExcluded:
		start = store.Exclude(keys.Record(r.Start.Key, math.MaxUint64))
	default:
		start = store.Include(keys.Record(nil, 0))
	}

	var end store.Bound
	switch r.End.Kind {
	case store.BoundIncluded:
		end = store.Include(keys.Record(r.End.Key, math.MaxUint64))
	case store.BoundExcluded:
		end = store.Exclude(keys.Record(r.End.Key, 0))
	default:
		end = store.Unbound()
	}

	return &Scan{
		eng:      eng,
		snapshot: snap,
		bounds:   store.Range{Start: start, End: end},
	}
}

// Next yields the next pair in ascending key order.
func (s *Scan) Next() ([]byte, []byte, bool) {
	if s.err != nil {
		return nil, nil, false
	}

	s.eng.mu.RLock()
	defer s.eng.mu.RUnlock()

	it := s.eng.store.Scan(s.bounds)
	for {
		k, v, ok := it.Next()
		if !ok {
			break
		}
		// Raw progress is tracked by key, not by pair count, so the scan
		// resumes correctly even if the store changes between steps.
		s.bounds.Start = store.Exclude(k)

		dec, err := keys.Decode(k)
		if err != nil {
			s.err = err
			return nil, nil, false
		}
		if dec.Kind != keys.KindRecord {
			s.err = internalErrorf("expected Record key, got %s", dec.Kind)
			return nil, nil, false
		}
		if !s.snapshot.isVisible(dec.Version) {
			continue
		}

		value, _, err := decodeValue(v)
		if err != nil {
			s.err = err
			return nil, nil, false
		}

		// A record for a new user key seals the previous candidate: no
		// later version of it can appear. Emit it unless it ended on a
		// tombstone.
		var ret *scanPair
		if s.nextCandidate != nil && !bytes.Equal(s.nextCandidate.key, dec.UserKey) && s.nextCandidate.value != nil {
			ret = s.nextCandidate
		}
		s.nextCandidate = &scanPair{key: dec.UserKey, value: value}
		if ret != nil {
			return ret.key, ret.value, true
		}
	}
	if err := it.Err(); err != nil {
		s.err = err
		return nil, nil, false
	}

	// Range exhausted: flush the final candidate, unless it is a tombstone.
	if s.nextCandidate != nil && s.nextCandidate.value != nil {
		ret := s.nextCandidate
		s.nextCandidate = nil
		return ret.key, ret.value, true
	}
	return nil, nil, false
}

// NextBack yields the next pair in descending key order.
func (s *Scan) NextBack() ([]byte, []byte, bool) {
	if s.err != nil {
		return nil, nil, false
	}

	s.eng.mu.RLock()
	defer s.eng.mu.RUnlock()

	it := s.eng.store.Scan(s.bounds)
	for {
		k, v, ok := it.NextBack()
		if !ok {
			break
		}
		s.bounds.End = store.Exclude(k)

		dec, err := keys.Decode(k)
		if err != nil {
			s.err = err
			return nil, nil, false
		}
		if dec.Kind != keys.KindRecord {
			s.err = internalErrorf("expected Record key, got %s", dec.Kind)
			return nil, nil, false
		}
		if !s.snapshot.isVisible(dec.Version) {
			continue
		}

		// Walking backwards, the first visible record for a key is its
		// latest version; everything after is older and skipped.
		if s.nextBackReturned != nil && bytes.Equal(s.nextBackReturned, dec.UserKey) {
			continue
		}
		s.nextBackReturned = dec.UserKey

		value, present, err := decodeValue(v)
		if err != nil {
			s.err = err
			return nil, nil, false
		}
		if present {
			return dec.UserKey, value, true
		}
		// Tombstone: the key is absent at this snapshot.
	}
	if err := it.Err(); err != nil {
		s.err = err
	}
	return nil, nil, false
}

// Err reports the first error the scan encountered.
func (s *Scan) Err() error {
	return s.err
}

// Collect drains the scan forward into a slice of pairs. It is a
// convenience for tests and small result sets.
func (s *Scan) Collect() ([][2][]byte, error) {
	var out [][2][]byte
	for {
		k, v, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, [2][]byte{k, v})
	}
	return out, s.Err()
}
