package retry

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRetry_AllPolicies(t *testing.T) {
	policies := map[string]Policy{
		"immediate":   NewImmediatePolicy(),
		"linear":      NewLinearBackoffPolicy(time.Second),
		"exponential": NewExponentialBackoffPolicy(time.Second, time.Minute),
	}
	failure := errors.New("processing failed")

	for name, p := range policies {
		t.Run(name, func(t *testing.T) {
			const maxRetries = 3
			for attempt := 1; attempt < maxRetries; attempt++ {
				assert.True(t, p.ShouldRetry(attempt, maxRetries, failure), "attempt %d", attempt)
			}
			for attempt := maxRetries; attempt <= maxRetries+2; attempt++ {
				assert.False(t, p.ShouldRetry(attempt, maxRetries, failure), "attempt %d", attempt)
			}
		})
	}
}

type decodeError struct {
	permanent bool
}

func (e decodeError) Error() string   { return "bad json" }
func (e decodeError) Permanent() bool { return e.permanent }

func TestShouldRetry_PermanentErrorIsNeverRetried(t *testing.T) {
	err := fmt.Errorf("decode: %w", decodeError{permanent: true})

	assert.False(t, NewImmediatePolicy().ShouldRetry(1, 3, err))
	assert.False(t, NewLinearBackoffPolicy(time.Second).ShouldRetry(1, 3, err))
	assert.False(t, NewExponentialBackoffPolicy(time.Second, time.Minute).ShouldRetry(1, 3, err))
}

func TestImmediatePolicy_NextDelay(t *testing.T) {
	p := NewImmediatePolicy()
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, time.Duration(0), p.NextDelay(attempt))
	}
}

func TestLinearBackoffPolicy_NextDelay(t *testing.T) {
	p := NewLinearBackoffPolicy(1000 * time.Millisecond)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 1, expected: 1000 * time.Millisecond},
		{attempt: 2, expected: 2000 * time.Millisecond},
		{attempt: 3, expected: 3000 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, p.NextDelay(tt.attempt))
	}
}

func TestExponentialBackoffPolicy_NextDelayRanges(t *testing.T) {
	p := NewExponentialBackoffPolicy(1000*time.Millisecond, 60000*time.Millisecond)

	for i := 0; i < 200; i++ {
		d1 := p.NextDelay(1)
		assert.Greater(t, d1, 1500*time.Millisecond)
		assert.Less(t, d1, 2500*time.Millisecond)

		d2 := p.NextDelay(2)
		assert.Greater(t, d2, 3000*time.Millisecond)
		assert.Less(t, d2, 5000*time.Millisecond)

		d10 := p.NextDelay(10)
		assert.LessOrEqual(t, d10, 66000*time.Millisecond)
		assert.GreaterOrEqual(t, d10, 54000*time.Millisecond)
	}
}

func TestExponentialBackoffPolicy_DeterministicJitter(t *testing.T) {
	a := NewExponentialBackoffPolicyWithRand(time.Second, time.Minute, rand.New(rand.NewSource(7)))
	b := NewExponentialBackoffPolicyWithRand(time.Second, time.Minute, rand.New(rand.NewSource(7)))

	for attempt := 1; attempt <= 4; attempt++ {
		assert.Equal(t, a.NextDelay(attempt), b.NextDelay(attempt))
	}
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name     string
		expected Policy
	}{
		{name: "immediate", expected: &ImmediatePolicy{}},
		{name: "LINEAR", expected: &LinearBackoffPolicy{}},
		{name: "exponential", expected: &ExponentialBackoffPolicy{}},
		{name: "fibonacci", expected: &ExponentialBackoffPolicy{}},
		{name: "", expected: &ExponentialBackoffPolicy{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.IsType(t, tt.expected, NewPolicy(tt.name))
		})
	}
}

func TestNewPolicyWithOptions_UsesConfiguredBase(t *testing.T) {
	p := NewPolicyWithOptions("linear", Options{BaseDelay: 250 * time.Millisecond})
	require.IsType(t, &LinearBackoffPolicy{}, p)
	assert.Equal(t, 750*time.Millisecond, p.NextDelay(3))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(decodeError{permanent: true}))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", decodeError{permanent: true})))
	assert.False(t, IsPermanent(decodeError{permanent: false}))
	assert.False(t, IsPermanent(errors.New("boom")))
	assert.False(t, IsPermanent(nil))
}
