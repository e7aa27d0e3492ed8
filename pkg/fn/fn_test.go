package fn

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestErrf(t *testing.T) {
	_, err := Errf[string]("code %d", 404).Unwrap()
	if err == nil || err.Error() != "code 404" {
		t.Fatal("Errf wrong message")
	}
}

func TestFromPair(t *testing.T) {
	if !FromPair(1, nil).IsOk() {
		t.Fatal("nil error should be ok")
	}
	if FromPair(1, errors.New("x")).IsOk() {
		t.Fatal("error should be err")
	}
}

func TestUnwrapOr(t *testing.T) {
	if Ok(1).UnwrapOr(9) != 1 {
		t.Fatal("should return value")
	}
	if Err[int](errors.New("x")).UnwrapOr(9) != 9 {
		t.Fatal("should return fallback")
	}
}

func TestMapResult(t *testing.T) {
	r := MapResult(Ok(3), strconv.Itoa)
	if v, _ := r.Unwrap(); v != "3" {
		t.Fatalf("got %q", v)
	}
	e := MapResult(Err[int](errors.New("x")), strconv.Itoa)
	if e.IsOk() {
		t.Fatal("error should propagate")
	}
}

// --- Stages ---

func TestThen(t *testing.T) {
	double := MapStage(func(n int) int { return n * 2 })
	str := MapStage(strconv.Itoa)
	v, err := Then(double, str)(context.Background(), 21).Unwrap()
	if err != nil || v != "42" {
		t.Fatalf("got %q, %v", v, err)
	}
}

func TestThenShortCircuits(t *testing.T) {
	called := false
	fail := Stage[int, int](func(context.Context, int) Result[int] {
		return Err[int](errors.New("stop"))
	})
	next := Stage[int, int](func(_ context.Context, n int) Result[int] {
		called = true
		return Ok(n)
	})
	if Then(fail, next)(context.Background(), 1).IsOk() {
		t.Fatal("expected error")
	}
	if called {
		t.Fatal("second stage must not run")
	}
}

func TestLiftStage(t *testing.T) {
	s := LiftStage(func(_ context.Context, s string) (int, error) { return strconv.Atoi(s) })
	if v, err := s(context.Background(), "7").Unwrap(); err != nil || v != 7 {
		t.Fatalf("got %d, %v", v, err)
	}
	if s(context.Background(), "x").IsOk() {
		t.Fatal("expected parse error")
	}
}

func TestTracedStage(t *testing.T) {
	s := TracedStage("fail", Stage[int, int](func(context.Context, int) Result[int] {
		return Err[int](errors.New("boom"))
	}))
	if s(context.Background(), 1).IsOk() {
		t.Fatal("expected error to pass through")
	}
}

// --- Retry ---

func TestRetrySuccess(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), FixedRetry(5, time.Millisecond), func(context.Context) Result[int] {
		calls++
		if calls < 3 {
			return Err[int](errors.New("not yet"))
		}
		return Ok(calls)
	})
	if v, err := r.Unwrap(); err != nil || v != 3 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	var retried []int
	opts := FixedRetry(4, time.Millisecond)
	opts.OnRetry = func(attempt int, _ error, wait time.Duration) {
		retried = append(retried, attempt)
		if wait != time.Millisecond {
			t.Errorf("expected fixed wait, got %v", wait)
		}
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("down"))
	})
	if r.IsOk() {
		t.Fatal("expected failure")
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
	if len(retried) != 3 {
		t.Fatalf("expected 3 retry callbacks, got %v", retried)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := Retry(ctx, FixedRetry(10, time.Hour), func(context.Context) Result[int] {
		calls++
		cancel()
		return Err[int](errors.New("fail"))
	})
	_, err := r.Unwrap()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	Retry(context.Background(), RetryOpts{}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("x"))
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryStage(t *testing.T) {
	calls := 0
	s := RetryStage(FixedRetry(3, time.Millisecond), Stage[int, int](func(_ context.Context, n int) Result[int] {
		calls++
		if calls == 1 {
			return Err[int](errors.New("flaky"))
		}
		return Ok(n + 1)
	}))
	if v, err := s(context.Background(), 1).Unwrap(); err != nil || v != 2 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestRetryShouldRetryStops(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 5, ShouldRetry: func(err error) bool {
		return !errors.Is(err, permanent)
	}}, func(ctx context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if r.IsOk() || calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}
