package store

import (
	"fmt"

	"github.com/mnohosten/versa-db/pkg/compression"
)

// Compressed wraps a Store and transparently compresses values. Keys pass
// through untouched, so ordering and scan bounds are unaffected. Values are
// self-describing (see compression package), so a store written with one
// algorithm can be reopened with another.
type Compressed struct {
	inner      Store
	compressor *compression.Compressor
}

// NewCompressed wraps inner with value compression. A nil config selects
// the default algorithm.
func NewCompressed(inner Store, config *compression.Config) (*Compressed, error) {
	compressor, err := compression.NewCompressor(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	return &Compressed{inner: inner, compressor: compressor}, nil
}

// Get fetches and decompresses a value.
func (c *Compressed) Get(key []byte) ([]byte, bool, error) {
	value, ok, err := c.inner.Get(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	out, err := c.compressor.Decompress(value)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decompress value: %w", err)
	}
	return out, true, nil
}

// Set compresses and stores a value.
func (c *Compressed) Set(key, value []byte) error {
	compressed, err := c.compressor.Compress(value)
	if err != nil {
		return fmt.Errorf("failed to compress value: %w", err)
	}
	return c.inner.Set(key, compressed)
}

// Delete removes a key.
func (c *Compressed) Delete(key []byte) error {
	return c.inner.Delete(key)
}

// Scan returns an iterator that decompresses values as they stream.
func (c *Compressed) Scan(r Range) Iterator {
	return &compressedIterator{inner: c.inner.Scan(r), compressor: c.compressor}
}

// Flush flushes the underlying store.
func (c *Compressed) Flush() error {
	return c.inner.Flush()
}

// Close releases compressor resources. The underlying store is not closed.
func (c *Compressed) Close() error {
	return c.compressor.Close()
}

type compressedIterator struct {
	inner      Iterator
	compressor *compression.Compressor
	err        error
}

func (it *compressedIterator) Next() ([]byte, []byte, bool) {
	if it.err != nil {
		return nil, nil, false
	}
	key, value, ok := it.inner.Next()
	if !ok {
		return nil, nil, false
	}
	out, err := it.compressor.Decompress(value)
	if err != nil {
		it.err = fmt.Errorf("failed to decompress value: %w", err)
		return nil, nil, false
	}
	return key, out, true
}

func (it *compressedIterator) NextBack() ([]byte, []byte, bool) {
	if it.err != nil {
		return nil, nil, false
	}
	key, value, ok := it.inner.NextBack()
	if !ok {
		return nil, nil, false
	}
	out, err := it.compressor.Decompress(value)
	if err != nil {
		it.err = fmt.Errorf("failed to decompress value: %w", err)
		return nil, nil, false
	}
	return key, out, true
}

func (it *compressedIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Err()
}
