package chunker

import "time"

// minElapsed floors observed chunk durations before throughput math.
// A zero or near-zero duration means "very fast", not "divide by zero".
const minElapsed = time.Millisecond

// SizeController proposes the size of the next chunk from the previous
// chunk's observed throughput. A non-adaptive controller is a stateless
// passthrough of the configured size.
type SizeController struct {
	policy SizePolicy
}

// NewSizeController validates the policy and clamps its starting size into
// the configured bounds.
func NewSizeController(policy SizePolicy) (*SizeController, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy.Adaptive {
		policy.Current = policy.clamp(policy.Current)
	}
	return &SizeController{policy: policy}, nil
}

// NextSize returns the chunk size to use for the upcoming request, in bytes.
func (c *SizeController) NextSize() int64 {
	return c.policy.Current
}

// Observe records one completed chunk transfer. In adaptive mode the next
// size moves halfway toward observedRate*TargetDuration, so a single outlier
// measurement cannot make the size oscillate, and the result is clamped to
// the policy bounds.
func (c *SizeController) Observe(bytesSent int64, elapsed time.Duration) {
	if !c.policy.Adaptive || bytesSent <= 0 {
		return
	}
	if elapsed < minElapsed {
		elapsed = minElapsed
	}

	rate := float64(bytesSent) / elapsed.Seconds()
	ideal := rate * c.policy.TargetDuration.Seconds()
	smoothed := (float64(c.policy.Current) + ideal) / 2

	c.policy.Current = c.policy.clamp(int64(smoothed))
}
