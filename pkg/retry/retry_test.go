package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

var errTransient = errors.New("connection reset by peer")

type statusErr struct {
	code int
}

func (e statusErr) Error() string     { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) IsRetryable() bool { return e.code == 429 || e.code >= 500 }

func fastConfig(retries int) *Config {
	return &Config{
		MaxRetries:   retries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 2 {
		t.Errorf("expected MaxRetries=2, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 500*time.Millisecond {
		t.Errorf("expected InitialDelay=500ms, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 10*time.Second {
		t.Errorf("expected MaxDelay=10s, got %v", cfg.MaxDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("expected Multiplier=2.0, got %f", cfg.Multiplier)
	}
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	got, err := Do(context.Background(), fastConfig(3), func(context.Context) (string, error) {
		callCount++
		return "payload", nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if got != "payload" {
		t.Errorf("expected payload, got %q", got)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	got, err := Do(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		callCount++
		if callCount < 3 {
			return 0, errTransient
		}
		return 42, nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	callCount := 0
	_, err := Do(context.Background(), fastConfig(2), func(context.Context) (int, error) {
		callCount++
		return 0, statusErr{503}
	})

	var se statusErr
	if !errors.As(err, &se) || se.code != 503 {
		t.Errorf("expected last status error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls (1 initial + 2 retries), got %d", callCount)
	}
}

func TestDo_ZeroRetriesIsSingleAttempt(t *testing.T) {
	callCount := 0
	_, err := Do(context.Background(), fastConfig(0), func(context.Context) (int, error) {
		callCount++
		return 0, errTransient
	})

	if err == nil {
		t.Error("expected error")
	}
	if callCount != 1 {
		t.Errorf("expected a single attempt, got %d", callCount)
	}
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	callCount := 0
	_, err := Do(context.Background(), fastConfig(5), func(context.Context) (int, error) {
		callCount++
		return 0, statusErr{404}
	})

	if err == nil {
		t.Error("expected error")
	}
	if callCount != 1 {
		t.Errorf("expected 1 call for a permanent error, got %d", callCount)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	callCount := 0
	start := time.Now()
	_, err := Do(ctx, cfg, func(context.Context) (int, error) {
		callCount++
		return 0, errTransient
	})
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if elapsed > 90*time.Millisecond {
		t.Errorf("expected quick cancellation, took %v", elapsed)
	}
}

func TestDo_OnRetryHook(t *testing.T) {
	cfg := fastConfig(2)
	var attempts []int
	var waits []time.Duration
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		attempts = append(attempts, attempt)
		waits = append(waits, wait)
	}

	_, _ = Do(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, errTransient
	})

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected retry hooks for attempts [1 2], got %v", attempts)
	}
	if len(waits) == 2 && waits[1] != 2*waits[0] {
		t.Errorf("expected doubling backoff without jitter, got %v", waits)
	}
}

func TestDo_MaxDelayRespected(t *testing.T) {
	cfg := &Config{
		MaxRetries:   4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     15 * time.Millisecond,
		Multiplier:   10,
	}
	var waits []time.Duration
	cfg.OnRetry = func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) }

	_, _ = Do(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, errTransient
	})

	for i, w := range waits[1:] {
		if w != 15*time.Millisecond {
			t.Errorf("wait %d = %v, expected cap of 15ms", i+1, w)
		}
	}
}

func TestApplyJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := applyJitter(base, 0.1)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside +/-10%%", got)
		}
	}
	if applyJitter(base, 0) != base {
		t.Error("zero jitter must leave delay unchanged")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: operation timed out" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp 1.2.3.4:443: connection refused"), true},
		{"Connection Refused (uppercase)", errors.New("Connection Refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"no such host", errors.New("lookup dailymed.nlm.nih.gov: no such host"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"net timeout", timeoutErr{}, true},
		{"wrapped net timeout", fmt.Errorf("fetch: %w", timeoutErr{}), true},
		{"deadline exceeded", fmt.Errorf("fetch: %w", context.DeadlineExceeded), true},
		{"canceled", fmt.Errorf("fetch: %w", context.Canceled), false},
		{"429", statusErr{429}, true},
		{"503", statusErr{503}, true},
		{"404", statusErr{404}, false},
		{"wrapped 400", fmt.Errorf("page 3: %w", statusErr{400}), false},
		{"syntax error", errors.New("XML syntax error on line 1"), false},
		{"not found", errors.New("not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}
