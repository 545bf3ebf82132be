package controller

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig bounds reconnection.
type BackoffConfig struct {
	BaseDelay  time.Duration `json:"base_delay" yaml:"base_delay"`
	Multiplier float64       `json:"multiplier" yaml:"multiplier"`
	MaxDelay   time.Duration `json:"max_delay" yaml:"max_delay"`
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter      float64 `json:"jitter" yaml:"jitter"`
	MaxAttempts int     `json:"max_attempts" yaml:"max_attempts"`
}

// DefaultBackoff returns 1s, 2s, 4s, 8s, 16s with 20% jitter, five attempts.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

func (b *BackoffConfig) defaults() {
	d := DefaultBackoff()
	if b.BaseDelay <= 0 {
		b.BaseDelay = d.BaseDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		b.Jitter = d.Jitter
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
}

// Delay returns the wait before the given attempt (1-based): base times
// multiplier^(attempt-1), capped at MaxDelay, then jittered.
func (b BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if b.Jitter > 0 {
		d *= 1 + b.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}
