package chunker

import (
	"fmt"
	"time"
)

// SizePolicy bounds the chunk size used by one transfer.
// Current always stays within [Min, Max]; out-of-range proposals are
// clamped, never applied.
type SizePolicy struct {
	// Current is the chunk size used for the next request, in bytes.
	Current int64
	// Min and Max bound Current in adaptive mode, in bytes.
	Min int64
	Max int64
	// Adaptive enables throughput-based resizing. When false, Current never
	// changes.
	Adaptive bool
	// TargetDuration is the per-chunk transfer time the controller aims for.
	TargetDuration time.Duration
}

// Validate checks the policy invariants at construction time.
func (p SizePolicy) Validate() error {
	if p.Current <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidChunkSize, p.Current)
	}
	if !p.Adaptive {
		return nil
	}
	if p.Min <= 0 {
		return fmt.Errorf("min chunk size must be positive, got %d", p.Min)
	}
	if p.Max < p.Min {
		return fmt.Errorf("max chunk size %d is below min chunk size %d", p.Max, p.Min)
	}
	if p.TargetDuration <= 0 {
		return fmt.Errorf("target chunk duration must be positive, got %v", p.TargetDuration)
	}
	return nil
}

func (p SizePolicy) clamp(size int64) int64 {
	if size < p.Min {
		return p.Min
	}
	if size > p.Max {
		return p.Max
	}
	return size
}
