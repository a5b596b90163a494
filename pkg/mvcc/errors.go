package mvcc

import (
	"errors"
	"fmt"
)

var (
	// ErrSerialization is returned when a write loses a first-writer-wins
	// conflict. The caller is expected to abort and retry the transaction.
	ErrSerialization = errors.New("serialization failure, retry transaction")

	// ErrReadOnly is returned when a mutation is attempted under a
	// non-mutable transaction mode.
	ErrReadOnly = errors.New("transaction is read-only")
)

// ValueError reports an invalid request, such as an unknown snapshot
// version, a resume of an inactive transaction, or a bad scan prefix.
type ValueError struct {
	Message string
}

func (e *ValueError) Error() string {
	return e.Message
}

func valueErrorf(format string, args ...interface{}) error {
	return &ValueError{Message: fmt.Sprintf(format, args...)}
}

// InternalError reports corruption or a bug: a decoded key or payload did
// not have the form the key space guarantees. It is fatal to the
// transaction.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return e.Message
}

func internalErrorf(format string, args ...interface{}) error {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}
