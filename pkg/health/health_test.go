package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/resilience"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.Register("index", ReadyCheck(func() (bool, string) { return true, "version 3" }))
	c.Register("redis", PingCheck(pingFunc(func(context.Context) error { return errors.New("refused") }), false))

	report := c.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", report.Status)
	}
	if report.Components["redis"].Message != "refused" {
		t.Errorf("redis = %+v", report.Components["redis"])
	}

	c.Register("postgres", PingCheck(pingFunc(func(context.Context) error { return errors.New("down") }), true))
	if got := c.Run(context.Background()).Status; got != StatusDown {
		t.Errorf("status = %s, want down", got)
	}
}

func TestReadyHandler(t *testing.T) {
	ready := false
	c := NewChecker()
	c.Register("index", ReadyCheck(func() (bool, string) { return ready, "" }))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before build: %d", rec.Code)
	}

	ready = true
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("after build: %d", rec.Code)
	}
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestBreakerCheck(t *testing.T) {
	cb := resilience.NewCircuitBreaker("store", resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	check := BreakerCheck(cb)
	if got := check(context.Background()); got.Status != StatusUp {
		t.Errorf("closed breaker = %+v", got)
	}
	_ = cb.Execute(func() error { return errors.New("down") })
	if got := check(context.Background()); got.Status != StatusDegraded || got.Message == "" {
		t.Errorf("open breaker = %+v", got)
	}
}

func TestNamesSorted(t *testing.T) {
	c := NewChecker()
	c.Register("redis", ReadyCheck(func() (bool, string) { return true, "" }))
	c.Register("corpus_index", ReadyCheck(func() (bool, string) { return true, "" }))
	names := c.Names()
	if len(names) != 2 || names[0] != "corpus_index" || names[1] != "redis" {
		t.Errorf("Names = %v", names)
	}
}
