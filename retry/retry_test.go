package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oranbench/gridrunner/trialerr"
)

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewWithSleeper(sleeper.sleep)

	calls := 0
	res := e.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	}, 3, time.Second)

	if !res.Succeeded() || res.Attempts != 1 || calls != 1 {
		t.Errorf("Result = %+v calls=%d, want success on attempt 1", res, calls)
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("slept %v, want no backoff on immediate success", sleeper.delays)
	}
}

func TestExecuteExhaustionInvokesExactlyN(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewWithSleeper(sleeper.sleep)

	calls := 0
	wantErr := errors.New("persistent failure")
	res := e.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return wantErr
	}, 4, 10*time.Second)

	if calls != 4 {
		t.Errorf("operation invoked %d times, want exactly 4", calls)
	}
	if res.Attempts != 4 || !errors.Is(res.Err, wantErr) {
		t.Errorf("Result = %+v, want Attempts=4 carrying last error", res)
	}
}

func TestExecuteBackoffStrictlyDoubles(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewWithSleeper(sleeper.sleep)

	res := e.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	}, 4, 10*time.Second)

	if res.Succeeded() {
		t.Fatal("expected failure")
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleeper.delays, want)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, sleeper.delays[i], want[i])
		}
	}
}

func TestExecuteSuccessOnAttemptJ(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewWithSleeper(sleeper.sleep)

	calls := 0
	res := e.Execute(context.Background(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, 5, time.Millisecond)

	if calls != 3 || res.Attempts != 3 || !res.Succeeded() {
		t.Errorf("calls=%d Result=%+v, want success on attempt 3", calls, res)
	}
}

func TestExecuteNonRetriableStopsImmediately(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewWithSleeper(sleeper.sleep)

	calls := 0
	res := e.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return trialerr.Wrap(trialerr.ErrPreflightFailure, "preflight", errors.New("missing dir"))
	}, 5, time.Millisecond)

	if calls != 1 {
		t.Errorf("operation invoked %d times, want 1 for non-retriable error", calls)
	}
	if !errors.Is(res.Err, trialerr.ErrPreflightFailure) {
		t.Errorf("Err = %v, want ErrPreflightFailure", res.Err)
	}
}

func TestExecuteCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := New()

	done := make(chan Result, 1)
	go func() {
		done <- e.Execute(ctx, func(_ context.Context) error {
			return errors.New("fail")
		}, 3, 30*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		if !errors.Is(res.Err, trialerr.ErrCanceled) {
			t.Errorf("Err = %v, want ErrCanceled", res.Err)
		}
		if res.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", res.Attempts)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return promptly after cancellation")
	}
}

func TestExecuteFixedDelayConstant(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewWithSleeper(sleeper.sleep)

	res := e.ExecuteFixed(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	}, 3, 15*time.Second)

	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	want := []time.Duration{15 * time.Second, 15 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleeper.delays, want)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Errorf("delay[%d] = %s, want fixed %s", i, sleeper.delays[i], want[i])
		}
	}
}

func TestOnRetryCallback(t *testing.T) {
	sleeper := &recordingSleeper{}
	e := NewWithSleeper(sleeper.sleep)

	var attempts []int
	e.OnRetry = func(attempt int, _ time.Duration, _ error) {
		attempts = append(attempts, attempt)
	}

	e.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	}, 3, time.Second)

	if len(attempts) != 2 || attempts[0] != 2 || attempts[1] != 3 {
		t.Errorf("OnRetry attempts = %v, want [2 3]", attempts)
	}
}
