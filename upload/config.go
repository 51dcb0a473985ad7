package upload

import (
	"fmt"
	"time"

	"github.com/kalturaops/kaltura-uploader/chunker"
)

// Config is the upload engine's tunable surface. Chunk sizes are expressed
// in kilobytes throughout, matching the service's conventions.
type Config struct {
	// ChunkSizeKB is the initial (or, when Adaptive is false, the fixed)
	// chunk size.
	ChunkSizeKB int64
	// Adaptive resizes chunks toward TargetChunkTime based on observed
	// throughput.
	Adaptive bool
	// TargetChunkTime is the duration each chunk transfer should take in
	// adaptive mode.
	TargetChunkTime time.Duration
	// MinChunkSizeKB and MaxChunkSizeKB bound adaptive resizing.
	MinChunkSizeKB int64
	MaxChunkSizeKB int64
	// MaxRetries is the number of additional attempts after a failed chunk
	// transfer.
	MaxRetries int
	// BaseRetryDelay is the first backoff delay; it doubles per retry.
	BaseRetryDelay time.Duration
}

// DefaultConfig returns the engine defaults: 2 MB chunks, adaptive bounds of
// 1 MB to 100 MB around a 5 s target, and 4 retries starting at 1 s.
func DefaultConfig() Config {
	return Config{
		ChunkSizeKB:     2048,
		Adaptive:        false,
		TargetChunkTime: 5 * time.Second,
		MinChunkSizeKB:  1024,
		MaxChunkSizeKB:  102400,
		MaxRetries:      4,
		BaseRetryDelay:  time.Second,
	}
}

// Validate checks the configuration at session construction time.
func (c Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return &Error{Kind: KindConfiguration, Err: fmt.Errorf(format, args...)}
	}

	if c.ChunkSizeKB <= 0 {
		return fail("chunk size must be positive, got %d KB", c.ChunkSizeKB)
	}
	if c.MaxRetries < 0 {
		return fail("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.BaseRetryDelay <= 0 {
		return fail("base retry delay must be positive, got %v", c.BaseRetryDelay)
	}
	if c.Adaptive {
		if c.MinChunkSizeKB <= 0 {
			return fail("min chunk size must be positive, got %d KB", c.MinChunkSizeKB)
		}
		if c.MaxChunkSizeKB < c.MinChunkSizeKB {
			return fail("max chunk size %d KB is below min chunk size %d KB", c.MaxChunkSizeKB, c.MinChunkSizeKB)
		}
		if c.TargetChunkTime <= 0 {
			return fail("target chunk time must be positive, got %v", c.TargetChunkTime)
		}
	}
	return nil
}

func (c Config) sizePolicy() chunker.SizePolicy {
	return chunker.SizePolicy{
		Current:        c.ChunkSizeKB * 1024,
		Min:            c.MinChunkSizeKB * 1024,
		Max:            c.MaxChunkSizeKB * 1024,
		Adaptive:       c.Adaptive,
		TargetDuration: c.TargetChunkTime,
	}
}
