package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testTemplate() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            0,
		Timeout:             10 * time.Millisecond,
		ConsecutiveFailures: 3,
	}
}

func TestDisabledManagerAlwaysPassesThrough(t *testing.T) {
	m := NewManager(false, testTemplate(), zerolog.Nop())
	for i := 0; i < 10; i++ {
		_, err := m.Execute("provider-a", func() (interface{}, error) {
			return nil, errors.New("boom")
		})
		if err == nil || err.Error() != "boom" {
			t.Fatalf("expected passthrough error, got %v", err)
		}
	}
	if state := m.State("provider-a"); state != "disabled" {
		t.Fatalf("expected disabled state, got %s", state)
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(true, testTemplate(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, _ = m.Execute("provider-b", func() (interface{}, error) {
			return nil, errors.New("boom")
		})
	}

	if state := m.State("provider-b"); state != "open" {
		t.Fatalf("expected breaker open after 3 consecutive failures, got %s", state)
	}

	_, err := m.Execute("provider-b", func() (interface{}, error) {
		return "should not run", nil
	})
	if err == nil {
		t.Fatal("expected open-circuit error")
	}
}

func TestBreakerKeysAreIndependent(t *testing.T) {
	m := NewManager(true, testTemplate(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, _ = m.Execute("provider-c", func() (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	if state := m.State("provider-c"); state != "open" {
		t.Fatalf("expected provider-c open, got %s", state)
	}
	if state := m.State("provider-d"); state != "closed" {
		t.Fatalf("expected unrelated key provider-d to remain closed, got %s", state)
	}
}
