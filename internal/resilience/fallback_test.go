package resilience

import (
	"errors"
	"testing"
	"time"
)

// newStringGroup builds a two-entry group over plain strings so tests can
// see which backend a call landed on.
func newStringGroup(maxFailures int, resetTimeout time.Duration) *FallbackGroup[string] {
	fg := NewFallbackGroup("arena", "arena", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  maxFailures,
			ResetTimeout: resetTimeout,
		},
	})
	fg.AddFallback("mock", "mock")
	return fg
}

func TestFallbackGroup_PrefersPrimary(t *testing.T) {
	fg := newStringGroup(3, 0)

	var used string
	if err := fg.Execute(func(v string) error { used = v; return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != "arena" {
		t.Fatalf("used = %q, want arena", used)
	}
}

func TestFallbackGroup_FailsOverToNextEntry(t *testing.T) {
	fg := newStringGroup(3, 0)

	var used string
	err := fg.Execute(func(v string) error {
		if v == "arena" {
			return errBackendDown
		}
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != "mock" {
		t.Fatalf("used = %q, want mock", used)
	}
}

func TestFallbackGroup_AllEntriesFailing(t *testing.T) {
	fg := newStringGroup(3, 0)

	err := fg.Execute(func(string) error { return errBackendDown })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerSkipsPrimary(t *testing.T) {
	fg := newStringGroup(2, time.Hour)

	// Trip the primary's breaker.
	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "arena" {
				return errBackendDown
			}
			return nil
		})
	}

	// With the breaker open the primary must not even be called.
	var primaryCalls int
	var used string
	err := fg.Execute(func(v string) error {
		if v == "arena" {
			primaryCalls++
		}
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primaryCalls != 0 {
		t.Fatalf("primary called %d times through an open breaker", primaryCalls)
	}
	if used != "mock" {
		t.Fatalf("used = %q, want mock", used)
	}
}

func TestExecuteWithResult_ReturnsPrimaryValue(t *testing.T) {
	fg := newStringGroup(3, 0)

	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		return "scored by " + v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "scored by arena" {
		t.Fatalf("result = %q, want the primary's value", got)
	}
}

func TestExecuteWithResult_FailsOver(t *testing.T) {
	fg := newStringGroup(3, 0)

	got, err := ExecuteWithResult(fg, func(v string) (string, error) {
		if v == "arena" {
			return "", errBackendDown
		}
		return "scored by " + v, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "scored by mock" {
		t.Fatalf("result = %q, want the fallback's value", got)
	}
}

func TestExecuteWithResult_AllFailing(t *testing.T) {
	fg := NewFallbackGroup("arena", "arena", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	got, err := ExecuteWithResult(fg, func(string) (string, error) {
		return "", errBackendDown
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if got != "" {
		t.Fatalf("result = %q, want zero value", got)
	}
}
