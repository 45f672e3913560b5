// Package notifier delivers outbound alert and action notifications to a
// Slack-compatible incoming webhook, with retry/backoff and a severity→
// colour mapping (spec §4.15). Grounded on the teacher's Slack message
// builders in pkg/slack/messages.go, collapsed from interactive Block Kit
// to the simpler attachment payload the spec calls for.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	goslack "github.com/slack-go/slack"
)

// color returns the Slack attachment colour for a severity (spec §4.15).
func color(severity string) string {
	switch severity {
	case "critical":
		return "#FF0000"
	case "high":
		return "#FFA500"
	case "medium":
		return "#FFFF00"
	case "low", "resolved":
		return "#00FF00"
	default:
		return "#0000FF" // info
	}
}

// AlertEvent describes an alert transition to notify about.
type AlertEvent struct {
	AlertID     string
	ServerID    string
	Severity    string
	Title       string
	Metric      string
	Threshold   float64
	ActualValue float64
	Reminder    bool
}

// ActionEvent describes a remediation action completion/failure to notify about.
type ActionEvent struct {
	ActionID string
	ServerID string
	Label    string
	Status   string // completed | failed
	Stderr   string
}

// Notifier posts events to a configured webhook URL.
type Notifier struct {
	WebhookURL string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New builds a Notifier. webhookURL may be empty, in which case every Send
// call is a silent no-op (spec §4.10: "only emit when ... the webhook URL
// is non-empty").
func New(webhookURL string, logger *slog.Logger) *Notifier {
	return &Notifier{WebhookURL: webhookURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}, Logger: logger}
}

// SendAlert posts an alert transition notification. Failures are logged at
// warning level and never propagated — notification failure must never
// fail the triggering request (spec §4.15).
func (n *Notifier) SendAlert(ctx context.Context, ev AlertEvent) {
	if n.WebhookURL == "" {
		return
	}

	title := ev.Title
	if ev.Reminder {
		title = "[reminder] " + title
	}

	text := fmt.Sprintf("*%s*\nServer: %s\nMetric: %s\nThreshold: %.1f\nActual: %.1f",
		title, ev.ServerID, ev.Metric, ev.Threshold, ev.ActualValue)

	msg := goslack.WebhookMessage{
		Attachments: []goslack.Attachment{{
			Color: color(ev.Severity),
			Text:  text,
		}},
	}
	n.send(ctx, msg)
}

// SendAction posts a remediation action completion/failure notification.
func (n *Notifier) SendAction(ctx context.Context, ev ActionEvent) {
	if n.WebhookURL == "" {
		return
	}

	severity := "low"
	text := fmt.Sprintf("*%s*\nServer: %s\nStatus: %s", ev.Label, ev.ServerID, ev.Status)
	if ev.Status == "failed" {
		severity = "high"
		text += "\n" + truncate(ev.Stderr, 500)
	}

	msg := goslack.WebhookMessage{
		Attachments: []goslack.Attachment{{
			Color: color(severity),
			Text:  text,
		}},
	}
	n.send(ctx, msg)
}

// send posts msg with exponential backoff: up to 3 retries, waiting 1s/2s/4s,
// on 5xx or network error. 2xx is success; 404/429 are terminal (spec §4.15).
func (n *Notifier) send(ctx context.Context, msg goslack.WebhookMessage) {
	operation := func() (struct{}, error) {
		err := goslack.PostWebhookContext(ctx, n.WebhookURL, &msg)
		if err == nil {
			return struct{}{}, nil
		}
		if isTerminal(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()

	_, err := backoff.Retry(ctx, operation,
		backoff.WithMaxTries(4),
		backoff.WithBackOff(bo),
	)
	if err != nil && n.Logger != nil {
		n.Logger.Warn("notification delivery failed", "error", err)
	}
}

// isTerminal reports whether err indicates a webhook response that retrying
// cannot fix (404 unknown webhook, 429 rate limited).
func isTerminal(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "404") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "action_prohibited") || strings.Contains(msg, "channel_not_found")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
