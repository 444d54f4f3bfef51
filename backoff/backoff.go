// Package backoff computes archival retry delays.
//
// Delays grow exponentially and are perturbed by bounded jitter. The base
// delay is derived from the chunk retention window so that every retry up
// to MaxAttempts, each with maximal jitter, completes before the live
// chunks expire.
package backoff

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Defaults match the redis chunk retention of seven days.
const (
	DefaultMaxAttempts = 5
	DefaultRetention   = 7 * 24 * time.Hour
	DefaultFactor      = 2
)

// retentionShare is the fraction of the retention window the retry budget
// may use, leaving headroom for queue latency.
const retentionShare = 0.5

// Policy is an exponential backoff bounded by a retention window.
type Policy struct {
	// Base is the delay before the first retry, before jitter.
	Base time.Duration
	// Factor multiplies the delay on every attempt.
	Factor float64
	// MaxJitter bounds the random delay added to every value.
	MaxJitter time.Duration
	// MaxAttempts is the number of archival attempts before giving up.
	MaxAttempts int

	rand func() float64
}

// New derives a policy from the retention window and attempt budget.
// Half of the window is split between the exponential delays and one
// tenth of the base delay of jitter per attempt.
func New(retention time.Duration, maxAttempts int) (*Policy, error) {
	if retention <= 0 {
		return nil, errors.New("backoff: retention must be positive")
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("backoff: max attempts must be >= 1, got %d", maxAttempts)
	}

	// sum(base * factor^(k-1), k=1..n) = base * (factor^n - 1) / (factor - 1)
	growth := 0.0
	step := 1.0
	for range maxAttempts {
		growth += step
		step *= DefaultFactor
	}
	// Each attempt may add up to base/10 of jitter.
	budget := float64(retention) * retentionShare
	base := time.Duration(budget / (growth + 0.1*float64(maxAttempts)))

	return &Policy{
		Base:        base,
		Factor:      DefaultFactor,
		MaxJitter:   base / 10,
		MaxAttempts: maxAttempts,
		rand:        rand.Float64,
	}, nil
}

// WithRand returns a copy of p drawing jitter from fn, which must return
// values in [0, 1].
func (p Policy) WithRand(fn func() float64) *Policy {
	p.rand = fn
	return &p
}

// Value returns the delay before retrying after the given failed attempt,
// without jitter. Attempts are 1-based.
func (p *Policy) Value(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base)
	for range attempt - 1 {
		d *= p.Factor
	}
	return time.Duration(d)
}

// ValueWithJitter is Value plus a random delay in [0, MaxJitter].
func (p *Policy) ValueWithJitter(attempt int) time.Duration {
	r := 0.0
	if p.rand != nil {
		r = min(max(p.rand(), 0), 1)
	}
	return p.Value(attempt) + time.Duration(r*float64(p.MaxJitter))
}

// Exhausted reports whether attempts has reached the budget.
func (p *Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Budget returns the worst-case total delay over all attempts.
func (p *Policy) Budget() time.Duration {
	pinned := p.WithRand(func() float64 { return 1 })
	var total time.Duration
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		total += pinned.ValueWithJitter(attempt)
	}
	return total
}
