package retry

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 60 * time.Second

	// jitter is the relative spread applied to exponential delays (±10%).
	jitter = 0.1
)

// Policy decides whether a failed attempt is retried and how long to wait.
// attempt is 1-indexed: the first retry is attempt 1.
type Policy interface {
	ShouldRetry(attempt, maxRetries int, err error) bool
	NextDelay(attempt int) time.Duration
}

func shouldRetry(attempt, maxRetries int, err error) bool {
	if IsPermanent(err) {
		return false
	}
	return attempt < maxRetries
}

// ImmediatePolicy retries with no delay.
type ImmediatePolicy struct{}

func NewImmediatePolicy() *ImmediatePolicy {
	return &ImmediatePolicy{}
}

func (p *ImmediatePolicy) ShouldRetry(attempt, maxRetries int, err error) bool {
	return shouldRetry(attempt, maxRetries, err)
}

func (p *ImmediatePolicy) NextDelay(int) time.Duration {
	return 0
}

// LinearBackoffPolicy waits base*attempt.
type LinearBackoffPolicy struct {
	base time.Duration
}

func NewLinearBackoffPolicy(base time.Duration) *LinearBackoffPolicy {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return &LinearBackoffPolicy{base: base}
}

func (p *LinearBackoffPolicy) ShouldRetry(attempt, maxRetries int, err error) bool {
	return shouldRetry(attempt, maxRetries, err)
}

func (p *LinearBackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return p.base * time.Duration(attempt)
}

// ExponentialBackoffPolicy waits min(max, base*2^attempt) scaled by a jitter factor in [0.9, 1.1).
type ExponentialBackoffPolicy struct {
	base     time.Duration
	maxDelay time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewExponentialBackoffPolicy(base, maxDelay time.Duration) *ExponentialBackoffPolicy {
	return NewExponentialBackoffPolicyWithRand(base, maxDelay, rand.New(rand.NewSource(time.Now().UnixNano()))) //nolint:gosec
}

// NewExponentialBackoffPolicyWithRand uses r as the jitter source.
func NewExponentialBackoffPolicyWithRand(base, maxDelay time.Duration, r *rand.Rand) *ExponentialBackoffPolicy {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &ExponentialBackoffPolicy{
		base:     base,
		maxDelay: maxDelay,
		rnd:      r,
	}
}

func (p *ExponentialBackoffPolicy) ShouldRetry(attempt, maxRetries int, err error) bool {
	return shouldRetry(attempt, maxRetries, err)
}

func (p *ExponentialBackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := math.Min(
		float64(p.maxDelay),
		float64(p.base)*math.Pow(2, float64(attempt)),
	)
	return time.Duration(backoff * p.jitterFactor())
}

func (p *ExponentialBackoffPolicy) jitterFactor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 1 - jitter + p.rnd.Float64()*jitter*2
}

// Policy names accepted by NewPolicy.
const (
	PolicyImmediate   = "immediate"
	PolicyLinear      = "linear"
	PolicyExponential = "exponential"
)

// Options configures the delays used by NewPolicyWithOptions.
type Options struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewPolicy selects a policy by name with default delays.
// Unknown names fall back to exponential backoff.
func NewPolicy(name string) Policy {
	return NewPolicyWithOptions(name, Options{})
}

func NewPolicyWithOptions(name string, opts Options) Policy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PolicyImmediate:
		return NewImmediatePolicy()
	case PolicyLinear:
		return NewLinearBackoffPolicy(opts.BaseDelay)
	default:
		return NewExponentialBackoffPolicy(opts.BaseDelay, opts.MaxDelay)
	}
}
