package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/luna/internal/resilience"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("x") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" || body.Checks != nil {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	pass := Checker{Name: "loop", Check: func(context.Context) error { return nil }}
	fail := Checker{Name: "tts", Check: func(context.Context) error { return errors.New("all circuits open") }}

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
	}{
		{"no checkers", nil, http.StatusOK, "ok"},
		{"all pass", []Checker{pass}, http.StatusOK, "ok"},
		{"one fails", []Checker{pass, fail}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decode(t, rec)
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.checkers) {
				t.Errorf("checks = %d, want %d", len(body.Checks), len(tt.checkers))
			}
		})
	}
}

func TestReadyz_ReportsErrors(t *testing.T) {
	h := New(Checker{Name: "tts", Check: func(context.Context) error { return errors.New("boom") }})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	c := decode(t, rec).Checks["tts"]
	if c.Status != "fail" || c.Error != "boom" || c.Latency == "" {
		t.Errorf("tts check = %+v", c)
	}
}

func TestRun_ChecksRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	slow := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow})

	done := make(chan map[string]CheckResult, 1)
	go func() { done <- h.Run(context.Background()) }()

	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not start concurrently")
		}
	}
	close(release)
	if res := <-done; len(res) != 2 {
		t.Errorf("results = %d, want 2", len(res))
	}
}

func TestRun_CheckGetsDeadline(t *testing.T) {
	h := New(Checker{Name: "deadline", Check: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}})
	if res := h.Run(context.Background()); res["deadline"].Status != "ok" {
		t.Errorf("deadline check = %+v", res["deadline"])
	}
}

func TestRegister_Routes(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestRunning(t *testing.T) {
	up := false
	c := Running("orchestrator", func() bool { return up })

	if err := c.Check(context.Background()); err == nil {
		t.Error("expected failure while not running")
	}
	up = true
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check = %v, want nil", err)
	}
}

func TestBreakers(t *testing.T) {
	tests := []struct {
		name    string
		status  []resilience.BreakerStatus
		wantErr bool
	}{
		{"none", nil, false},
		{"all closed", []resilience.BreakerStatus{{Name: "elevenlabs", State: resilience.StateClosed}}, false},
		{"fallback left", []resilience.BreakerStatus{
			{Name: "elevenlabs", State: resilience.StateOpen},
			{Name: "coqui", State: resilience.StateHalfOpen},
		}, false},
		{"all open", []resilience.BreakerStatus{
			{Name: "elevenlabs", State: resilience.StateOpen},
			{Name: "coqui", State: resilience.StateOpen},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Breakers("tts", func() []resilience.BreakerStatus { return tt.status })
			if err := c.Check(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("Check = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
