package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "veloxbot/pkg/logx"
)

func TestSendWithRetrySucceedsOnThirdAttempt(t *testing.T) {
	t.Parallel()
	calls := 0
	err := sendWithRetry(context.Background(), logx.Nop(),
		RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("expected success on attempt 3, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestSendWithRetryExhausted(t *testing.T) {
	t.Parallel()
	underlying := errors.New("hard down")
	err := sendWithRetry(context.Background(), logx.Nop(),
		RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		func(context.Context) error { return underlying })
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, underlying) {
		t.Fatalf("terminal error must carry the last underlying error, got %v", err)
	}
}

func TestSendWithRetryFirstTryNoDelay(t *testing.T) {
	t.Parallel()
	start := time.Now()
	err := sendWithRetry(context.Background(), logx.Nop(),
		RetryPolicy{Attempts: 3, Delay: time.Second},
		func(context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("success on first attempt must not wait")
	}
}

func TestSendWithRetryCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sendWithRetry(ctx, logx.Nop(),
		RetryPolicy{Attempts: 3, Delay: time.Minute},
		func(context.Context) error { return errors.New("transient") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
