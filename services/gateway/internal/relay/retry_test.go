package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicySucceedsAfterFailures(t *testing.T) {
	var slept []time.Duration
	p := RetryPolicy{
		Interval: 250 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	calls := 0
	var retries []int
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("unavailable")
		}
		return nil
	}, func(attempt int, _ error, _ time.Duration) {
		retries = append(retries, attempt)
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("retries = %v", retries)
	}
	for _, d := range slept {
		if d != 250*time.Millisecond {
			t.Fatalf("slept %v, want 250ms", d)
		}
	}
}

func TestRetryPolicyMaxAttempts(t *testing.T) {
	cause := errors.New("refused")
	p := RetryPolicy{MaxAttempts: 3, Sleep: instantSleep}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return cause
	}, nil)
	if !errors.Is(err, ErrAttemptsExhausted) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want exhausted wrapping cause", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{Interval: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			calls++
			return errors.New("down")
		}, nil)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	if got := (RetryPolicy{}).Delay(); got != DefaultRetryInterval {
		t.Fatalf("default delay = %v", got)
	}
	cases := []struct {
		name   string
		jitter float64
		rand   float64
		want   time.Duration
	}{
		{"low edge", 0.5, 0, 500 * time.Millisecond},
		{"midpoint", 0.5, 0.5, time.Second},
		{"high edge", 0.5, 1, 1500 * time.Millisecond},
		{"clamped jitter", 3, 0, 0},
		{"negative jitter", -1, 0, time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := tc.rand
			p := RetryPolicy{Interval: time.Second, Jitter: tc.jitter, Rand: func() float64 { return r }}
			if got := p.Delay(); got != tc.want {
				t.Fatalf("delay = %v, want %v", got, tc.want)
			}
		})
	}
}
