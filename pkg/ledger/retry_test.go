package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_UnreachableExhaustsAttempts(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 4}, zerolog.Nop(), "getUserInfo", func(ctx context.Context) (int, error) {
		attempts++
		return 0, &ReadError{Kind: Unreachable, Err: errors.New("dial tcp: connection refused")}
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)

	var re *ReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, Unreachable, re.Kind)
	assert.Equal(t, 4, re.Attempts)
	assert.Equal(t, "getUserInfo", re.Method)
	assert.Contains(t, err.Error(), "after 4 attempt(s)")
}

func TestRetry_NonRetryableKindsShortCircuit(t *testing.T) {
	for _, kind := range []ReadKind{Undecodable, InvalidArgument} {
		t.Run(string(kind), func(t *testing.T) {
			attempts := 0
			_, err := Retry(context.Background(), testRetry(), zerolog.Nop(), "getPoolBalances", func(ctx context.Context) (int, error) {
				attempts++
				return 0, &ReadError{Kind: kind, Err: errors.New("bad data")}
			})

			assert.Equal(t, 1, attempts)
			assert.True(t, IsReadKind(err, kind))

			var re *ReadError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, 1, re.Attempts)
		})
	}
}

func TestRetry_RecoversAfterTransientFailure(t *testing.T) {
	attempts := 0
	got, err := Retry(context.Background(), testRetry(), zerolog.Nop(), "getLegVolumes", func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	attempts := 0
	_, err := Retry(ctx, policy, zerolog.Nop(), "getUserInfo", func(ctx context.Context) (int, error) {
		attempts++
		cancel()
		return 0, errors.New("timeout")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsReadKind(err, Unreachable))
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 5*time.Second, p.MaxDelay)
}
