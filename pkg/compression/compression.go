// Package compression provides self-describing value compression for the
// store layer. Compressed values carry a one-byte algorithm header, so any
// Compressor can decompress values written with a different configuration.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Algorithm represents a compression algorithm.
type Algorithm byte

const (
	// AlgorithmNone indicates no compression
	AlgorithmNone Algorithm = iota
	// AlgorithmSnappy is fast compression with moderate ratio
	AlgorithmSnappy
	// AlgorithmZstd is balanced compression with good speed and ratio (recommended)
	AlgorithmZstd
	// AlgorithmGzip is standard compression with good ratio
	AlgorithmGzip
)

// String returns the string representation of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmGzip:
		return "gzip"
	default:
		return "unknown"
	}
}

// ParseAlgorithm resolves an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "none":
		return AlgorithmNone, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd":
		return AlgorithmZstd, nil
	case "gzip":
		return AlgorithmGzip, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm: %q", name)
	}
}

// Config holds compression configuration.
type Config struct {
	Algorithm Algorithm
	Level     int // Compression level (meaning varies by algorithm)
}

// DefaultConfig returns the default compression configuration (Zstd with a
// balanced level).
func DefaultConfig() *Config {
	return &Config{
		Algorithm: AlgorithmZstd,
		Level:     3,
	}
}

// SnappyConfig returns configuration for Snappy (fast compression).
func SnappyConfig() *Config {
	return &Config{
		Algorithm: AlgorithmSnappy,
	}
}

// GzipConfig returns configuration for Gzip.
func GzipConfig(level int) *Config {
	if level < gzip.NoCompression || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Config{
		Algorithm: AlgorithmGzip,
		Level:     level,
	}
}

// ZstdConfig returns configuration for Zstd.
func ZstdConfig(level int) *Config {
	// Zstd levels typically range from 1 (fastest) to 19 (best compression)
	if level < 1 || level > 19 {
		level = 3
	}
	return &Config{
		Algorithm: AlgorithmZstd,
		Level:     level,
	}
}

// Compressor compresses and decompresses values. It is safe for concurrent
// use: the zstd encoder and decoder operate statelessly via EncodeAll and
// DecodeAll, and the remaining algorithms allocate per call.
type Compressor struct {
	config  *Config
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
}

// NewCompressor creates a new compressor with the given configuration.
func NewCompressor(config *Config) (*Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Compressor{config: config}

	// The zstd decoder is always created: values written with zstd must be
	// readable regardless of the configured write algorithm.
	var err error
	c.zstdDec, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	if config.Algorithm == AlgorithmZstd {
		encLevel := zstd.EncoderLevelFromZstd(config.Level)
		c.zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
		if err != nil {
			c.zstdDec.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	return c, nil
}

// Compress compresses data, prefixing it with the algorithm header. Empty
// input is returned as-is.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	switch c.config.Algorithm {
	case AlgorithmNone:
		out := make([]byte, 0, 1+len(data))
		out = append(out, byte(AlgorithmNone))
		return append(out, data...), nil

	case AlgorithmSnappy:
		out := snappy.Encode(nil, data)
		return append([]byte{byte(AlgorithmSnappy)}, out...), nil

	case AlgorithmZstd:
		return c.zstdEnc.EncodeAll(data, []byte{byte(AlgorithmZstd)}), nil

	case AlgorithmGzip:
		var buf bytes.Buffer
		buf.WriteByte(byte(AlgorithmGzip))
		writer, err := gzip.NewWriterLevel(&buf, c.config.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write gzip data: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %v", c.config.Algorithm)
	}
}

// Decompress decompresses data written by Compress, dispatching on the
// algorithm header. Empty input is returned as-is.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	algo, payload := Algorithm(data[0]), data[1:]
	switch algo {
	case AlgorithmNone:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil

	case AlgorithmSnappy:
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snappy: %w", err)
		}
		return decoded, nil

	case AlgorithmZstd:
		decoded, err := c.zstdDec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode zstd: %w", err)
		}
		return decoded, nil

	case AlgorithmGzip:
		reader, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer reader.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, reader); err != nil {
			return nil, fmt.Errorf("failed to read gzip data: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %v", algo)
	}
}

// Close closes the compressor and releases resources.
func (c *Compressor) Close() error {
	if c.zstdEnc != nil {
		c.zstdEnc.Close()
	}
	if c.zstdDec != nil {
		c.zstdDec.Close()
	}
	return nil
}

// CompressionRatio calculates the compression ratio.
func CompressionRatio(originalSize, compressedSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	return float64(compressedSize) / float64(originalSize)
}
