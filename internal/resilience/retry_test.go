package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), fast, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	var retried []int
	p := fast
	p.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("webhook returned 503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), fast, func(context.Context) error {
		calls++
		return Transient(errors.New("always fails"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "always fails")
}

func TestDo_NonRetryableStops(t *testing.T) {
	var calls int
	err := Do(context.Background(), fast, func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomRetryable(t *testing.T) {
	var calls int
	p := fast
	p.Retryable = func(error) bool { return true }

	_ = Do(context.Background(), p, func(context.Context) error {
		calls++
		return errors.New("anything")
	})
	assert.Equal(t, 3, calls)
}

func TestDo_WaitsOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := Policy{Attempts: 2, Backoff: time.Second, Clock: clock}

	done := make(chan error, 1)
	var calls int
	go func() {
		done <- Do(context.Background(), p, func(context.Context) error {
			calls++
			if calls == 1 {
				return Transient(errors.New("first"), 0)
			}
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	case <-ctx.Done():
		t.Fatal("retry did not resume after the clock advanced")
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, Policy{Attempts: 5, Clock: clock}, func(context.Context) error {
			return Transient(errors.New("down"), 503)
		})
	}()

	wait, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, clock.BlockUntilContext(wait, 1))
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "down")
	case <-wait.Done():
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoVal(t *testing.T) {
	var calls int
	v, err := DoVal(context.Background(), fast, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", Transient(errors.New("retry me"), 0)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	v, err = DoVal(context.Background(), fast, func(context.Context) (string, error) {
		return "partial", errors.New("fatal")
	})
	require.Error(t, err)
	assert.Empty(t, v)
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{Backoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 2}.withDefaults()
	p.Jitter = 0

	assert.Equal(t, time.Second, p.delay(1))
	assert.Equal(t, 2*time.Second, p.delay(2))
	assert.Equal(t, 3*time.Second, p.delay(3), "capped")

	p.Jitter = 0.5
	for range 20 {
		d := p.delay(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestWithDefaults(t *testing.T) {
	p := Policy{Jitter: -1}.withDefaults()
	assert.Equal(t, DefaultPolicy.Attempts, p.Attempts)
	assert.Equal(t, DefaultPolicy.Backoff, p.Backoff)
	assert.Zero(t, p.Jitter)
	assert.NotNil(t, p.Retryable)
	assert.NotNil(t, p.Clock)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad input"), false},
		{"marked", Transient(errors.New("503"), 503), true},
		{"wrapped mark", fmt.Errorf("send: %w", Transient(errors.New("x"), 0)), true},
		{"net timeout", timeoutErr{}, true},
		{"reset message", errors.New("read tcp: connection reset by peer"), true},
		{"dns", errors.New("dial: temporary failure in name resolution"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
	assert.NoError(t, Transient(nil, 500))
}

func TestRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{
		200: false, 400: false, 404: false, 408: true, 429: true,
		500: true, 501: false, 502: true, 503: true, 504: true,
	} {
		assert.Equal(t, want, RetryableStatus(code), "status %d", code)
	}
}
