package sshexec

import "testing"

func TestResolveTargetPrecedence(t *testing.T) {
	cases := []struct {
		tailscale, ip, hostname, want string
	}{
		{"ts-host", "10.0.0.1", "box", "ts-host"},
		{"", "10.0.0.1", "box", "10.0.0.1"},
		{"", "", "box", "box"},
	}
	for _, c := range cases {
		if got := ResolveTarget(c.tailscale, c.ip, c.hostname); got != c.want {
			t.Errorf("ResolveTarget(%q,%q,%q) = %q, want %q", c.tailscale, c.ip, c.hostname, got, c.want)
		}
	}
}

func TestPoolSizeEmpty(t *testing.T) {
	p := NewPool(0, 0, nil)
	if p.Size() != 0 {
		t.Errorf("Size() = %d, want 0", p.Size())
	}
	p.Close()
}
