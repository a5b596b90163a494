// Package keys implements the order-preserving encoding for the flat MVCC
// key space. Every key carries a one-byte type tag chosen so that all
// transaction bookkeeping sorts before user records, and records sort by
// user key first, then version.
package keys

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind identifies the type of an encoded key. The tag values double as the
// first byte of the encoding and therefore define sort order between kinds.
type Kind byte

const (
	// KindTxnNext holds the next unused transaction ID.
	KindTxnNext Kind = 0x01
	// KindTxnActive marks a transaction as in flight and stores its mode.
	KindTxnActive Kind = 0x02
	// KindTxnSnapshot stores the invisible set taken at a version.
	KindTxnSnapshot Kind = 0x03
	// KindTxnUpdate is a rollback marker for a record written by a transaction.
	KindTxnUpdate Kind = 0x04
	// KindMetadata is arbitrary unversioned metadata.
	KindMetadata Kind = 0x05
	// KindRecord is a versioned record for a user key.
	KindRecord Kind = 0xff
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTxnNext:
		return "TxnNext"
	case KindTxnActive:
		return "TxnActive"
	case KindTxnSnapshot:
		return "TxnSnapshot"
	case KindTxnUpdate:
		return "TxnUpdate"
	case KindMetadata:
		return "Metadata"
	case KindRecord:
		return "Record"
	default:
		return fmt.Sprintf("Kind(0x%02x)", byte(k))
	}
}

// ErrInvalidKey is returned when a key cannot be decoded.
var ErrInvalidKey = errors.New("invalid key encoding")

// Key is a decoded MVCC key. Which fields are meaningful depends on Kind:
// ID for TxnActive, TxnSnapshot and TxnUpdate; UserKey for Metadata and
// Record; Target for TxnUpdate (the raw encoded record key it points at);
// Version for Record.
type Key struct {
	Kind    Kind
	ID      uint64
	Version uint64
	UserKey []byte
	Target  []byte
}

// TxnNext encodes the transaction counter key.
func TxnNext() []byte {
	return []byte{byte(KindTxnNext)}
}

// TxnActive encodes the active marker key for a transaction ID.
func TxnActive(id uint64) []byte {
	b := make([]byte, 0, 9)
	b = append(b, byte(KindTxnActive))
	return appendUint64(b, id)
}

// TxnSnapshot encodes the snapshot key for a version.
func TxnSnapshot(version uint64) []byte {
	b := make([]byte, 0, 9)
	b = append(b, byte(KindTxnSnapshot))
	return appendUint64(b, version)
}

// TxnUpdate encodes a rollback marker for a transaction ID and the raw
// encoded key of the record it covers. The target is appended verbatim,
// which keeps markers for one transaction in record order.
func TxnUpdate(id uint64, target []byte) []byte {
	b := make([]byte, 0, 9+len(target))
	b = append(b, byte(KindTxnUpdate))
	b = appendUint64(b, id)
	return append(b, target...)
}

// Metadata encodes an unversioned metadata key.
func Metadata(key []byte) []byte {
	b := make([]byte, 0, 3+len(key))
	b = append(b, byte(KindMetadata))
	return appendBytes(b, key)
}

// Record encodes a versioned record key. The user key is escape-encoded so
// that no embedded version bytes can collide with a neighboring key during
// scans, then the version follows in big-endian order.
func Record(key []byte, version uint64) []byte {
	b := make([]byte, 0, 11+len(key))
	b = append(b, byte(KindRecord))
	b = appendBytes(b, key)
	return appendUint64(b, version)
}

// Decode parses an encoded key back into its variant.
func Decode(enc []byte) (Key, error) {
	if len(enc) == 0 {
		return Key{}, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	rest := enc[1:]
	switch Kind(enc[0]) {
	case KindTxnNext:
		if len(rest) != 0 {
			return Key{}, fmt.Errorf("%w: trailing bytes after TxnNext", ErrInvalidKey)
		}
		return Key{Kind: KindTxnNext}, nil

	case KindTxnActive:
		id, rest, err := takeUint64(rest)
		if err != nil || len(rest) != 0 {
			return Key{}, fmt.Errorf("%w: malformed TxnActive", ErrInvalidKey)
		}
		return Key{Kind: KindTxnActive, ID: id}, nil

	case KindTxnSnapshot:
		version, rest, err := takeUint64(rest)
		if err != nil || len(rest) != 0 {
			return Key{}, fmt.Errorf("%w: malformed TxnSnapshot", ErrInvalidKey)
		}
		return Key{Kind: KindTxnSnapshot, ID: version}, nil

	case KindTxnUpdate:
		id, rest, err := takeUint64(rest)
		if err != nil {
			return Key{}, fmt.Errorf("%w: malformed TxnUpdate", ErrInvalidKey)
		}
		target := make([]byte, len(rest))
		copy(target, rest)
		return Key{Kind: KindTxnUpdate, ID: id, Target: target}, nil

	case KindMetadata:
		key, rest, err := takeBytes(rest)
		if err != nil {
			return Key{}, err
		}
		if len(rest) != 0 {
			return Key{}, fmt.Errorf("%w: trailing bytes after Metadata", ErrInvalidKey)
		}
		return Key{Kind: KindMetadata, UserKey: key}, nil

	case KindRecord:
		key, rest, err := takeBytes(rest)
		if err != nil {
			return Key{}, err
		}
		version, rest, err := takeUint64(rest)
		if err != nil || len(rest) != 0 {
			return Key{}, fmt.Errorf("%w: malformed Record version", ErrInvalidKey)
		}
		return Key{Kind: KindRecord, UserKey: key, Version: version}, nil

	default:
		return Key{}, fmt.Errorf("%w: unknown tag 0x%02x", ErrInvalidKey, enc[0])
	}
}

// appendUint64 appends n in big-endian order, preserving numeric sort order.
func appendUint64(b []byte, n uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return append(b, buf[:]...)
}

func takeUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("%w: need 8 bytes for uint64, have %d", ErrInvalidKey, len(b))
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], nil
}

// appendBytes escape-encodes a byte string so it can be embedded ahead of
// further fields without breaking lexicographic order: 0x00 becomes
// 0x00 0xff, and 0x00 0x00 terminates the string. No encoded value is a
// prefix of another, so a short key followed by a version can never collide
// with a longer key.
func appendBytes(b, s []byte) []byte {
	for _, c := range s {
		b = append(b, c)
		if c == 0x00 {
			b = append(b, 0xff)
		}
	}
	return append(b, 0x00, 0x00)
}

func takeBytes(b []byte) ([]byte, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, nil, fmt.Errorf("%w: unterminated byte string", ErrInvalidKey)
		}
		switch b[i+1] {
		case 0x00:
			return out, b[i+2:], nil
		case 0xff:
			out = append(out, 0x00)
			i++
		default:
			return nil, nil, fmt.Errorf("%w: unexpected 0x00 0x%02x sequence", ErrInvalidKey, b[i+1])
		}
	}
	return nil, nil, fmt.Errorf("%w: unterminated byte string", ErrInvalidKey)
}
