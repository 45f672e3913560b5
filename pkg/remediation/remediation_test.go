package remediation

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestAllowRateLimit(t *testing.T) {
	e := &Engine{limiters: make(map[string]*rate.Limiter)}
	for i := 0; i < rateLimit; i++ {
		if !e.allow("server-1") {
			t.Fatalf("request %d should be allowed within the limit", i)
		}
	}
	if e.allow("server-1") {
		t.Error("expected 11th request within the window to be rate limited")
	}
}

func TestAllowIsPerServer(t *testing.T) {
	e := &Engine{limiters: make(map[string]*rate.Limiter)}
	for i := 0; i < rateLimit; i++ {
		e.allow("server-1")
	}
	if !e.allow("server-2") {
		t.Error("a different server should have its own bucket")
	}
}
