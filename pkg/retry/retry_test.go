package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"coursedump/pkg/config"
	errs "coursedump/pkg/errors"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0,
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{0, 0, "No attempt yet"},
		{1, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, "Third attempt"},
		{4, 800 * time.Millisecond, "Fourth attempt"},
		{5, 1 * time.Second, "Fifth attempt (capped at max)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			if delay := backoff.NextDelay(test.attempt); delay != test.expected {
				t.Errorf("Expected delay %v, got %v", test.expected, delay)
			}
		})
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		delay := backoff.NextDelay(2)
		if delay < 140*time.Millisecond || delay > 260*time.Millisecond {
			t.Fatalf("Jittered delay %v outside expected bounds", delay)
		}
		delays[delay] = true
	}

	if len(delays) < 2 {
		t.Error("Expected multiple different delays with jitter, but got consistent delays")
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
	}

	if err := Do(context.Background(), op, cfg); err != nil {
		t.Errorf("Expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	persistent := errors.New("persistent error")
	op := func(ctx context.Context) error {
		attempts++
		return persistent
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
	}

	err := Do(context.Background(), op, cfg)
	if !errors.Is(err, persistent) {
		t.Errorf("Expected wrapped persistent error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", errs.Transport("get", "/", 503, nil), true},
		{"network", errs.Transport("get", "/", 0, errors.New("reset")), true},
		{"not found", errs.Transport("get", "/", 404, nil), false},
		{"extraction", errs.Extraction("parse", "1", "/", errors.New("bad")), false},
		{"cancelled", context.Canceled, false},
		{"unknown", errors.New("what"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryIf(tt.err); got != tt.want {
				t.Errorf("DefaultRetryIf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	notFound := errs.Transport("get", "/missing", 404, errors.New("not found"))

	op := func(ctx context.Context) error {
		attempts++
		return notFound
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
	}

	err := Do(context.Background(), op, cfg)
	if err != notFound {
		t.Errorf("Expected not found error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	op := func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 100 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
	}

	err := Do(ctx, op, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancellation error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts before cancellation, got %d", attempts)
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.RetryConfig{
		Enabled:     true,
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Multiplier:  3,
	}, nil)

	if cfg.MaxAttempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", cfg.MaxAttempts)
	}
	eb, ok := cfg.Backoff.(*ExponentialBackoff)
	if !ok {
		t.Fatal("Expected exponential backoff")
	}
	if eb.NextDelay(2) != 3*time.Second {
		t.Errorf("Expected second delay of 3s, got %v", eb.NextDelay(2))
	}

	disabled := FromSettings(config.RetryConfig{Enabled: false, MaxAttempts: 9}, nil)
	if disabled.MaxAttempts != 1 {
		t.Errorf("Expected disabled retry to make a single attempt, got %d", disabled.MaxAttempts)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	op := func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errs.Transport("get", "/", 500, nil)
		}
		return "success", nil
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
	}

	result, err := DoWithResult(context.Background(), op, cfg)
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected 'success', got '%s'", result)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}
