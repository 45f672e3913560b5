package heartbeat

import "testing"

func TestTruncate(t *testing.T) {
	if got := truncate("short", 100); got != "short" {
		t.Errorf("truncate should not touch short strings, got %q", got)
	}
	long := make([]byte, maxResultBytes+500)
	for i := range long {
		long[i] = 'a'
	}
	if got := truncate(string(long), maxResultBytes); len(got) != maxResultBytes {
		t.Errorf("truncate length = %d, want %d", len(got), maxResultBytes)
	}
}

func TestArchitectureOf(t *testing.T) {
	req := Request{OSInfo: &OSInfo{Architecture: "aarch64"}}
	if got := architectureOf(req); got != "aarch64" {
		t.Errorf("architectureOf = %q", got)
	}
	if got := architectureOf(Request{}); got != "" {
		t.Errorf("architectureOf(empty) = %q, want empty", got)
	}
}
