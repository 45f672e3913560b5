package notifier

import "testing"

func TestColorBySeverity(t *testing.T) {
	cases := map[string]string{
		"critical": "#FF0000",
		"high":     "#FFA500",
		"medium":   "#FFFF00",
		"low":      "#00FF00",
		"resolved": "#00FF00",
		"info":     "#0000FF",
	}
	for severity, want := range cases {
		if got := color(severity); got != want {
			t.Errorf("color(%q) = %q, want %q", severity, got, want)
		}
	}
}

func TestSendAlertNoopWithoutWebhookURL(t *testing.T) {
	n := New("", nil)
	// Should not panic or attempt any network call.
	n.SendAlert(nil, AlertEvent{Title: "test"})
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate should not touch short strings, got %q", got)
	}
	if got := truncate("this is a long string", 4); got != "this..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestIsTerminal(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"slack-go/slack: bad_request: 404 not found", true},
		{"429 too many requests", true},
		{"connection reset by peer", false},
	}
	for _, c := range cases {
		if got := isTerminal(errString(c.msg)); got != c.want {
			t.Errorf("isTerminal(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
