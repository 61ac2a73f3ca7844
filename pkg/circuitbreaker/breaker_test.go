package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New("test", Config{FailureThreshold: 3, CoolDown: time.Minute})

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Do(fail), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(succeed), ErrOpen, "open breaker sheds without calling")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("test", Config{FailureThreshold: 3, CoolDown: time.Minute})

	require.ErrorIs(t, b.Do(fail), errBoom)
	require.ErrorIs(t, b.Do(fail), errBoom)
	require.NoError(t, b.Do(succeed))
	require.ErrorIs(t, b.Do(fail), errBoom)
	require.ErrorIs(t, b.Do(fail), errBoom)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, SuccessThreshold: 2, CoolDown: 10 * time.Millisecond, MaxProbes: 2})

	require.ErrorIs(t, b.Do(fail), errBoom)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Do(succeed))
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, CoolDown: 10 * time.Millisecond})

	require.ErrorIs(t, b.Do(fail), errBoom)
	time.Sleep(20 * time.Millisecond)

	require.ErrorIs(t, b.Do(fail), errBoom)
	assert.ErrorIs(t, b.Do(succeed), ErrOpen)
}
