package mvcc

import (
	"encoding/binary"
	"sort"
)

// Canonical binary encodings for the payloads the engine persists: the
// transaction counter, transaction modes, invisible sets and optional
// record values. The formats are fixed; changing them breaks existing
// stores.

const (
	valueTombstone = 0x00
	valuePresent   = 0x01
)

func encodeUint64(n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return buf[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, internalErrorf("expected 8-byte integer payload, got %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// encodeMode serializes a mode as a kind byte, followed by the version for
// snapshot modes.
func encodeMode(m Mode) []byte {
	if m.Kind == ModeSnapshot {
		b := make([]byte, 9)
		b[0] = byte(ModeSnapshot)
		binary.BigEndian.PutUint64(b[1:], m.Version)
		return b
	}
	return []byte{byte(m.Kind)}
}

func decodeMode(b []byte) (Mode, error) {
	if len(b) == 0 {
		return Mode{}, internalErrorf("empty mode payload")
	}
	switch ModeKind(b[0]) {
	case ModeReadWrite, ModeReadOnly:
		if len(b) != 1 {
			return Mode{}, internalErrorf("trailing bytes in mode payload")
		}
		return Mode{Kind: ModeKind(b[0])}, nil
	case ModeSnapshot:
		if len(b) != 9 {
			return Mode{}, internalErrorf("expected 9-byte snapshot mode payload, got %d bytes", len(b))
		}
		return Mode{Kind: ModeSnapshot, Version: binary.BigEndian.Uint64(b[1:])}, nil
	default:
		return Mode{}, internalErrorf("unknown mode kind 0x%02x", b[0])
	}
}

// encodeValue serializes an optional record value. A nil value is a
// tombstone; any non-nil value, including empty, is present.
func encodeValue(value []byte) []byte {
	if value == nil {
		return []byte{valueTombstone}
	}
	b := make([]byte, 0, 1+len(value))
	b = append(b, valuePresent)
	return append(b, value...)
}

// decodeValue is the inverse of encodeValue. For present values the
// returned slice is non-nil.
func decodeValue(b []byte) ([]byte, bool, error) {
	if len(b) == 0 {
		return nil, false, internalErrorf("empty record value payload")
	}
	switch b[0] {
	case valueTombstone:
		if len(b) != 1 {
			return nil, false, internalErrorf("trailing bytes in tombstone payload")
		}
		return nil, false, nil
	case valuePresent:
		out := make([]byte, len(b)-1)
		copy(out, b[1:])
		return out, true, nil
	default:
		return nil, false, internalErrorf("unknown record value marker 0x%02x", b[0])
	}
}

// encodeTxnSet serializes a set of transaction IDs as sorted big-endian
// 64-bit integers, making the encoding canonical.
func encodeTxnSet(set map[uint64]struct{}) []byte {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	b := make([]byte, 0, 8*len(ids))
	for _, id := range ids {
		b = binary.BigEndian.AppendUint64(b, id)
	}
	return b
}

func decodeTxnSet(b []byte) (map[uint64]struct{}, error) {
	if len(b)%8 != 0 {
		return nil, internalErrorf("transaction set payload length %d is not a multiple of 8", len(b))
	}
	set := make(map[uint64]struct{}, len(b)/8)
	for i := 0; i < len(b); i += 8 {
		set[binary.BigEndian.Uint64(b[i:i+8])] = struct{}{}
	}
	return set, nil
}
