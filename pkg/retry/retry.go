package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int // retries after the first attempt; 0 means a single attempt
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, default 0.1 for +/-10% jitter to prevent thundering herd
	// OnRetry, when set, is called before each wait with the attempt that
	// just failed (starting at 1) and its error.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig returns defaults for calls to the upstream feed:
// 2 retries with 500ms initial delay, capped at 10s, doubling each time, with 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// applyJitter adds random jitter to a delay to prevent thundering herd.
// Jitter is calculated as: delay +/- (delay * jitterFactor * random(-1 to +1))
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// Do calls fn until it succeeds, returns an error that is not transient, or
// MaxRetries retries have been spent. The result of the last attempt is
// returned. Waiting between attempts stops as soon as ctx is done.
func Do[T any](ctx context.Context, cfg *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	delay := cfg.InitialDelay
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= cfg.MaxRetries || ctx.Err() != nil || !IsRetryable(err) {
			return result, err
		}

		wait := applyJitter(delay, cfg.JitterFactor)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		}

		if cfg.Multiplier > 0 {
			delay = time.Duration(float64(delay) * cfg.Multiplier)
		}
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// RetryableError is an interface for errors that explicitly declare their retryability.
// The feed client's status errors implement it.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable determines if an error is transient and worth retrying.
//
// The function checks errors in this order:
// 1. An error in the chain implementing RetryableError decides
// 2. Cancellation is never retried; a per-attempt deadline or network timeout is
// 3. Otherwise, pattern-match against known transient network failures
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
		"i/o timeout",
		"network is unreachable",
		"unexpected eof",
		"tls handshake timeout",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
