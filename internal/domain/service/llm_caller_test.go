package service

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/fathomline/agentcore/pkg/errors"
)

func TestRetryBackoff(t *testing.T) {
	base := 300 * time.Millisecond

	// Full jitter: every sample lands in [0, base*2^(n-1)], capped at 8s.
	for attempt := 1; attempt <= 10; attempt++ {
		ceiling := base * time.Duration(uint64(1)<<uint(attempt-1))
		if ceiling > retryBackoffCap || ceiling <= 0 {
			ceiling = retryBackoffCap
		}
		for i := 0; i < 20; i++ {
			wait := retryBackoff(base, attempt)
			if wait < 0 || wait > ceiling {
				t.Fatalf("attempt %d: wait %v outside [0, %v]", attempt, wait, ceiling)
			}
		}
	}
}

func TestRetryBackoffDefaultsBase(t *testing.T) {
	for i := 0; i < 20; i++ {
		if wait := retryBackoff(0, 1); wait > 300*time.Millisecond {
			t.Fatalf("zero base should default to 300ms ceiling, got %v", wait)
		}
	}
}

func TestRetryBackoffNeverExceedsCap(t *testing.T) {
	// An attempt count large enough to overflow the shift still caps.
	for i := 0; i < 20; i++ {
		if wait := retryBackoff(time.Second, 40); wait > retryBackoffCap {
			t.Fatalf("wait %v exceeds cap %v", wait, retryBackoffCap)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth failure", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("400 bad request"), false},
		{"user cancelled", errors.New("context canceled"), false},
		{"circuit open", apperrors.NewProviderError(apperrors.CodeCircuitOpen, "cooling down", nil), false},
		{"rate limited", errors.New("429 too many requests"), true},
		{"gateway timeout", errors.New("504 server error"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"overloaded", errors.New("overloaded_error: try again"), true},
		{"unknown errors retry", errors.New("something weird"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
