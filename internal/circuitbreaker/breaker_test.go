package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := New("blockbook")
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit breaker should start closed")
	assert.True(t, cb.Allow())

	_, open := cb.Until(time.Now())
	assert.False(t, open)
}

func TestCircuitBreaker_TripAndRecover(t *testing.T) {
	clock := newClock()
	cb := New("blockbook").WithClock(clock.Now)

	cb.Trip("rate limited", 10*time.Second)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.Allow(), "Open breaker should reject calls")

	until, open := cb.Until(clock.Now())
	require.True(t, open)
	assert.Equal(t, clock.Now().Add(10*time.Second), until)

	clock.Advance(11 * time.Second)
	_, open = cb.Until(clock.Now())
	assert.False(t, open, "Backoff should be over")
	assert.Equal(t, StateOpen, cb.GetState(), "Until must not change state")

	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.GetState())

	cb.Success()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newClock()
	cb := New("cryptoid").WithClock(clock.Now).WithResetDelay(5 * time.Second)

	cb.Trip("rate limited", 0)
	clock.Advance(6 * time.Second)
	require.True(t, cb.Allow())

	cb.Failure("timeout")
	assert.Equal(t, StateOpen, cb.GetState())
	until, open := cb.Until(clock.Now())
	require.True(t, open)
	assert.Equal(t, clock.Now().Add(5*time.Second), until)
}

func TestCircuitBreaker_FailureThreshold(t *testing.T) {
	cb := New("etherscan").WithFailureThreshold(3)

	cb.Failure("500")
	cb.Failure("500")
	assert.Equal(t, StateClosed, cb.GetState())

	cb.Success()
	cb.Failure("500")
	cb.Failure("500")
	assert.Equal(t, StateClosed, cb.GetState(), "Success should clear the failure count")

	cb.Failure("500")
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_TripNeverShortensBackoff(t *testing.T) {
	clock := newClock()
	cb := New("blockbook").WithClock(clock.Now)

	cb.Trip("retry-after", time.Minute)
	cb.Trip("rate limited", time.Second)

	until, open := cb.Until(clock.Now())
	require.True(t, open)
	assert.Equal(t, clock.Now().Add(time.Minute), until)
}

func TestCircuitBreaker_TripCallback(t *testing.T) {
	done := make(chan string, 1)
	cb := New("blockbook").WithTripCallback(func(name, reason string, until time.Time) {
		done <- name + ":" + reason
	})

	cb.Trip("429", time.Second)

	select {
	case got := <-done:
		assert.Equal(t, "blockbook:429", got)
	case <-time.After(time.Second):
		t.Fatal("trip callback was not invoked")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New("blockbook")
	cb.Trip("429", time.Hour)
	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.True(t, cb.Allow())
}
