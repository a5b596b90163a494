package server

import "time"

// Config holds server configuration settings
type Config struct {
	Host           string        // Server host address
	Port           int           // Server port
	ReadTimeout    time.Duration // HTTP read timeout
	WriteTimeout   time.Duration // HTTP write timeout
	IdleTimeout    time.Duration // HTTP idle timeout
	MaxRequestSize int64         // Maximum request body size in bytes
	EnableLogging  bool          // Enable request logging

	// Compression selects value compression for the backing store:
	// "none", "snappy", "zstd" or "gzip".
	Compression string

	// ScanLimitMax caps the number of pairs a single scan request returns.
	ScanLimitMax int
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           7654,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 10 * 1024 * 1024, // 10MB
		EnableLogging:  true,
		Compression:    "none",
		ScanLimitMax:   10000,
	}
}
