package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStatusErr struct {
	status  int
	retryAf time.Duration
	hasRtAf bool
}

func (e *fakeStatusErr) Error() string          { return "status error" }
func (e *fakeStatusErr) HTTPStatus() int        { return e.status }
func (e *fakeStatusErr) RetryAfter() (time.Duration, bool) { return e.retryAf, e.hasRtAf }

func TestDo_Success(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), DefaultConfig(), nil, func(ctx context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_NonRetryableStatusExitsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), DefaultConfig(), nil, func(ctx context.Context) error {
		calls++
		return &fakeStatusErr{status: 404}
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable status, got %d", calls)
	}
}

func TestDo_RetriesOn500ThenSucceeds(t *testing.T) {
	t.Parallel()

	cfg := Config{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2,
		RetryOn:       map[int]bool{500: true},
	}

	calls := 0
	err := Do(context.Background(), cfg, nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &fakeStatusErr{status: 500}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts total, got %d", calls)
	}
}

func TestDo_PersistentRateLimitReturnsRateLimitHit(t *testing.T) {
	t.Parallel()

	cfg := Config{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2,
		RetryOn:       map[int]bool{429: true},
	}
	tracker := NewTracker()

	calls := 0
	err := Do(context.Background(), cfg, tracker, func(ctx context.Context) error {
		calls++
		return &fakeStatusErr{status: 429}
	})

	var rl *RateLimitHit
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitHit, got %v", err)
	}
	if rl.Attempts != cfg.MaxRetries+1 {
		t.Errorf("expected attempts=%d, got %d", cfg.MaxRetries+1, rl.Attempts)
	}
	if calls != cfg.MaxRetries+1 {
		t.Errorf("expected %d calls, got %d", cfg.MaxRetries+1, calls)
	}
	if tracker.Len() != cfg.MaxRetries {
		t.Errorf("expected tracker to have grown by %d (one per retried 429, not the last), got %d", cfg.MaxRetries, tracker.Len())
	}
}

func TestDo_RetryExhaustedForOtherStatus(t *testing.T) {
	t.Parallel()

	cfg := Config{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2,
		RetryOn:       map[int]bool{503: true},
	}

	err := Do(context.Background(), cfg, nil, func(ctx context.Context) error {
		return &fakeStatusErr{status: 503}
	})

	var re *RetryExhausted
	if !errors.As(err, &re) {
		t.Fatalf("expected RetryExhausted, got %v", err)
	}
	if re.LastStatus != 503 {
		t.Errorf("expected last status 503, got %d", re.LastStatus)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxRetries:    5,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2,
		RetryOn:       map[int]bool{500: true},
	}

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, nil, func(ctx context.Context) error {
		calls++
		return &fakeStatusErr{status: 500}
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls > 1 {
		t.Errorf("expected retry loop to stop after the cancelled sleep, got %d calls", calls)
	}
}

func TestComputeDelay_ExponentialSequence(t *testing.T) {
	t.Parallel()

	cfg := Config{InitialDelay: time.Second, MaxDelay: 60 * time.Second, BackoffFactor: 2}
	err := &fakeStatusErr{status: 500}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := computeDelay(i+1, cfg, err); got != w {
			t.Errorf("computeDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestComputeDelay_CappedAtMaxDelay(t *testing.T) {
	t.Parallel()

	cfg := Config{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 10}
	err := &fakeStatusErr{status: 500}

	if got := computeDelay(5, cfg, err); got != 5*time.Second {
		t.Errorf("expected delay capped at 5s, got %v", got)
	}
}

func TestComputeDelay_RetryAfterOverridesComputed(t *testing.T) {
	t.Parallel()

	cfg := Config{InitialDelay: time.Second, MaxDelay: 60 * time.Second, BackoffFactor: 2}
	err := &fakeStatusErr{status: 429, retryAf: 30 * time.Second, hasRtAf: true}

	if got := computeDelay(1, cfg, err); got != 30*time.Second {
		t.Errorf("expected Retry-After of 30s to override computed delay, got %v", got)
	}
}

func TestComputeDelay_RetryAfterCappedAtMaxDelay(t *testing.T) {
	t.Parallel()

	cfg := Config{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}
	err := &fakeStatusErr{status: 429, retryAf: 30 * time.Second, hasRtAf: true}

	if got := computeDelay(1, cfg, err); got != 10*time.Second {
		t.Errorf("expected Retry-After capped at MaxDelay, got %v", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries 3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != time.Second {
		t.Errorf("expected InitialDelay 1s, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 60*time.Second {
		t.Errorf("expected MaxDelay 60s, got %v", cfg.MaxDelay)
	}
	if cfg.BackoffFactor != 2.0 {
		t.Errorf("expected BackoffFactor 2.0, got %f", cfg.BackoffFactor)
	}
	for _, s := range []int{429, 500, 502, 503, 504} {
		if !cfg.RetryOn[s] {
			t.Errorf("expected status %d in default retry-on set", s)
		}
	}
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.record(time.Now())
	snap := tr.Snapshot()
	snap[0] = time.Time{}

	if tr.Snapshot()[0].IsZero() {
		t.Fatal("Snapshot should return an independent copy, not a view into internal state")
	}
}
