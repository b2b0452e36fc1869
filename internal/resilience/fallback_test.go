package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string { return "status error" }

func newGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newGroup(3)

	var called string
	err := fg.Execute(context.Background(), func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
	if fg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", fg.Len())
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	fg := newGroup(3)

	got, err := ExecuteWithResult(context.Background(), fg, func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "served by " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "served by secondary" {
		t.Fatalf("result = %q", got)
	}
}

func TestFallbackGroup_AllFailKeepsLastError(t *testing.T) {
	fg := newGroup(3)

	err := fg.Execute(context.Background(), func(v string) error {
		return &statusErr{code: 401}
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	var se *statusErr
	if !errors.As(err, &se) || se.code != 401 {
		t.Fatalf("errors.As(statusErr) failed on %v", err)
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenProvider(t *testing.T) {
	fg := newGroup(2)

	for range 2 {
		_ = fg.Execute(context.Background(), func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	st := fg.Status()
	if st[0].State != StateOpen || st[1].State != StateClosed {
		t.Fatalf("status = %+v, want [open closed]", st)
	}

	var calls []string
	err := fg.Execute(context.Background(), func(v string) error {
		calls = append(calls, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0] != "secondary" {
		t.Fatalf("calls = %v, want [secondary]", calls)
	}
}

func TestFallbackGroup_StopsOnCancelledContext(t *testing.T) {
	fg := newGroup(3)
	ctx, cancel := context.WithCancel(context.Background())

	var calls []string
	err := fg.Execute(ctx, func(v string) error {
		calls = append(calls, v)
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Fatal("cancellation must not be reported as ErrAllFailed")
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want only the primary", calls)
	}
}

func TestBreakerStatus_JSON(t *testing.T) {
	b, err := json.Marshal(BreakerStatus{Name: "coqui", State: StateHalfOpen})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"name":"coqui","state":"half-open"}` {
		t.Errorf("json = %s", b)
	}
}
